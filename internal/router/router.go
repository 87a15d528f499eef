package router

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
)

// Options configures the mounted routes.
type Options struct {
	// APIPrefix is where the user endpoints live, e.g. /api/user.
	APIPrefix string
	// AllowedOrigin is the single front-end origin granted CORS access.
	AllowedOrigin string
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, opts Options, users *user.Handler) http.Handler {
	mux := http.NewServeMux()
	prefix := "/" + strings.Trim(opts.APIPrefix, "/")

	// health
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// user routes
	mux.HandleFunc("POST "+prefix+"/signup", users.Signup)
	mux.HandleFunc("POST "+prefix+"/verify-otp", users.VerifyOTP)
	mux.HandleFunc("POST "+prefix+"/resend-otp", users.ResendOTP)
	mux.HandleFunc("POST "+prefix+"/login", users.Login)
	mux.HandleFunc("GET "+prefix+"/profile", users.Profile)

	// outermost first: request id, logging, CORS, security headers
	var handler http.Handler = mux
	handler = SecurityHeadersMiddleware()(handler)
	handler = CORSMiddleware(opts.AllowedOrigin)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}
