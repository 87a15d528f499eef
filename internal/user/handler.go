package user

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// ErrorCodeHeader carries a stable machine-readable error code next to the
// human message in the body.
const ErrorCodeHeader = "X-Error-Code"

const maxBodyBytes = 1 << 20

// Handler exposes HTTP endpoints for user operations (signup / verify / login).
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// ProfileResponse is returned by GET /profile.
type ProfileResponse struct {
	Success bool         `json:"success"`
	User    *entity.User `json:"user"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupInput
	if err := decodeBody(w, r, &req, func(get func(string) string) {
		req = SignupInput{Name: get("name"), Email: get("email"), Password: get("password")}
	}); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		h.writeError(w, ErrInvalidInput)
		return
	}
	msg, err := h.svc.Signup(r.Context(), req)
	if err != nil {
		h.logFailure("signup failed", err, "email", req.Email)
		h.writeError(w, err)
		return
	}
	h.writeText(w, http.StatusOK, msg)
}

// VerifyOTP reads email and otp from the query string or a form body.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidOTP)
		return
	}
	email := r.Form.Get("email")
	msg, err := h.svc.VerifyOTP(r.Context(), email, r.Form.Get("otp"))
	if err != nil {
		h.logFailure("otp verification failed", err, "email", email)
		h.writeError(w, err)
		return
	}
	h.writeText(w, http.StatusOK, msg)
}

func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidOTP)
		return
	}
	email := r.Form.Get("email")
	msg, err := h.svc.ResendOTP(r.Context(), email)
	if err != nil {
		h.logFailure("otp resend failed", err, "email", email)
		h.writeError(w, err)
		return
	}
	h.writeText(w, http.StatusOK, msg)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req, func(get func(string) string) {
		req = LoginRequest{Email: get("email"), Password: get("password")}
	}); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeError(w, ErrInvalidCredentials)
		return
	}
	tok, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure("login failed", err, "email", req.Email)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: tok})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		h.writeError(w, ErrUnauthorized)
		return
	}
	u, err := h.svc.Profile(r.Context(), strings.TrimSpace(auth[len("bearer "):]))
	if err != nil {
		h.logFailure("profile lookup failed", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: u})
}

// logFailure logs expected client errors at debug and everything else at warn.
func (h *Handler) logFailure(msg string, err error, kv ...any) {
	kv = append(kv, "err", err)
	switch {
	case errors.Is(err, ErrServiceUnavailable):
		h.logger.Warnw(msg, kv...)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEmailExists), errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		h.logger.Debugw(msg, kv...)
	default:
		h.logger.Errorw(msg, kv...)
	}
}

// writeError maps workflow errors to status, error code and message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code, msg := http.StatusInternalServerError, "INTERNAL", "Internal server error"
	switch {
	case errors.Is(err, ErrInvalidInput):
		status, code, msg = http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, ErrEmailExists):
		status, code, msg = http.StatusBadRequest, "EMAIL_EXISTS", "Email already exists"
	case errors.Is(err, ErrInvalidOTP):
		status, code, msg = http.StatusBadRequest, "INVALID_OTP", "Invalid or expired OTP."
	case errors.Is(err, ErrInvalidCredentials):
		status, code, msg = http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid email or password"
	case errors.Is(err, ErrUnauthorized):
		status, code, msg = http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	case errors.Is(err, ErrServiceUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable, please try again later"
	}
	w.Header().Set(ErrorCodeHeader, code)
	h.writeText(w, status, msg)
}

func (h *Handler) writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody fills dst from a JSON body, or calls fromForm with a getter over
// the parsed form (query string included) for any other content type.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, fromForm func(get func(string) string)) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		return json.NewDecoder(r.Body).Decode(dst)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	fromForm(r.Form.Get)
	return nil
}
