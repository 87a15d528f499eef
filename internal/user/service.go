package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/pending"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const MsgSignupComplete = "Signup complete. Redirecting to dashboard..."

// UserStore persists user records. GetByEmail returns repo.ErrNotFound when absent.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) error
}

// Notifier delivers verification codes.
type Notifier interface {
	SendCode(ctx context.Context, email, code string) error
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer interface {
	Issue(id token.Identity) (string, error)
	Parse(raw string) (token.Identity, error)
}

// PendingStore holds signups waiting for their code; see pending.Store.
type PendingStore interface {
	Put(s pending.Signup) pending.Signup
	Consume(email, otp string) (pending.Signup, bool)
	Reissue(email, otp string) (pending.Signup, bool)
	Restore(s pending.Signup) bool
	Discard(email, otp string) bool
}

// Deps wires the collaborators of UserService.
type Deps struct {
	Users   UserStore
	Hasher  PasswordHasher
	Mailer  Notifier
	Tokens  TokenIssuer
	Pending PendingStore
	IDs     *utilities.IDGenerator
	Logger  *zap.SugaredLogger
	// AdminEmails finish signup with role ADMIN. Compared after lower-casing.
	AdminEmails []string
}

// UserService orchestrates signup with email OTP verification and login.
type UserService struct {
	users    UserStore
	hasher   PasswordHasher
	mailer   Notifier
	tokens   TokenIssuer
	pending  PendingStore
	ids      *utilities.IDGenerator
	logger   *zap.SugaredLogger
	admins   map[string]struct{}
	validate *validator.Validate
	newOTP   func() (string, error)
}

func NewUserService(d Deps) *UserService {
	if d.Hasher == nil {
		d.Hasher = BcryptHasher{Cost: 12}
	}
	if d.IDs == nil {
		d.IDs = utilities.NewIDGenerator(1)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	admins := make(map[string]struct{}, len(d.AdminEmails))
	for _, e := range d.AdminEmails {
		if e = normalizeEmail(e); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &UserService{
		users:    d.Users,
		hasher:   d.Hasher,
		mailer:   d.Mailer,
		tokens:   d.Tokens,
		pending:  d.Pending,
		ids:      d.IDs,
		logger:   d.Logger,
		admins:   admins,
		validate: newValidator(),
		newOTP:   generateOTP,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// maxbytes is max measured in bytes; max counts runes for strings.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// SignupInput is the signup form. bcrypt refuses passwords longer than 72
// bytes, so the password limit counts bytes rather than characters.
type SignupInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

// Signup starts a signup: it stores the hashed profile with a fresh code and
// mails the code. If mailing fails the pending entry is rolled back.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	_, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return "", ErrEmailExists
	case !errors.Is(err, userrepo.ErrNotFound):
		return "", fmt.Errorf("%w: lookup user: %v", ErrServiceUnavailable, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	code, err := s.newOTP()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	s.pending.Put(pending.Signup{Email: in.Email, OTP: code, Name: in.Name, PasswordHash: hash})
	if err := s.mailer.SendCode(ctx, in.Email, code); err != nil {
		s.pending.Discard(in.Email, code)
		return "", fmt.Errorf("%w: send code: %v", ErrServiceUnavailable, err)
	}
	return "OTP sent to " + in.Email, nil
}

// VerifyOTP finishes a signup. The pending entry is consumed atomically; if
// saving the user fails it is put back so the same code can be retried.
func (s *UserService) VerifyOTP(ctx context.Context, email, otp string) (string, error) {
	email = normalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return "", ErrInvalidOTP
	}
	entry, ok := s.pending.Consume(email, otp)
	if !ok {
		return "", ErrInvalidOTP
	}

	u := &entity.User{
		ID:           s.ids.Next(),
		Name:         entry.Name,
		Email:        email,
		PasswordHash: entry.PasswordHash,
		Role:         s.roleFor(email),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return "", ErrEmailExists
		}
		if !s.pending.Restore(entry) {
			s.logger.Warnw("pending signup superseded during failed save", "email", email)
		}
		return "", fmt.Errorf("%w: save user: %v", ErrServiceUnavailable, err)
	}
	s.logger.Infow("user registered", "id", u.ID, "email", u.Email, "role", u.Role)
	return MsgSignupComplete, nil
}

// ResendOTP replaces the code of a live pending signup and mails the new one.
func (s *UserService) ResendOTP(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrInvalidOTP
	}
	code, err := s.newOTP()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	if _, ok := s.pending.Reissue(email, code); !ok {
		return "", ErrInvalidOTP
	}
	if err := s.mailer.SendCode(ctx, email, code); err != nil {
		return "", fmt.Errorf("%w: send code: %v", ErrServiceUnavailable, err)
	}
	return "OTP sent to " + email, nil
}

// Login checks the password and returns a signed token. Unknown email and
// wrong password both yield ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("%w: lookup user: %v", ErrServiceUnavailable, err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}
	tok, err := s.tokens.Issue(token.Identity{Subject: u.Email, Role: string(u.Role)})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// Profile resolves a bearer token to the user it was issued for.
func (s *UserService) Profile(ctx context.Context, rawToken string) (*entity.User, error) {
	id, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	u, err := s.users.GetByEmail(ctx, id.Subject)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: lookup user: %v", ErrServiceUnavailable, err)
	}
	return u, nil
}

func (s *UserService) roleFor(email string) entity.Role {
	if _, ok := s.admins[email]; ok {
		return entity.RoleAdmin
	}
	return entity.RoleUser
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// generateOTP returns a 4-digit code uniform in [1000, 9999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+1000, 10), nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email address")
		case "max":
			parts = append(parts, field+" must be at most "+fe.Param()+" characters")
		case "maxbytes":
			parts = append(parts, field+" must be at most "+fe.Param()+" bytes")
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, ", ")
}
