package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	HTTP     HTTP            `envPrefix:"HTTP_"`
	Database database.Config `envPrefix:"DATABASE_"`
	Log      utilities.LogConfig
	Auth     Auth
	Token    Token `envPrefix:"TOKEN_"`
	Mail     Mail

	SnowflakeNode int64 `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

type HTTP struct {
	Addr            string        `env:"ADDR" envDefault:"0.0.0.0:8431"`
	APIPrefix       string        `env:"API_PREFIX" envDefault:"/api/user"`
	AllowedOrigin   string        `env:"ALLOWED_ORIGIN" envDefault:"http://localhost:5173"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

type Auth struct {
	// AdminEmails get role ADMIN when they finish signup.
	AdminEmails   []string      `env:"ADMIN_EMAILS" envSeparator:","`
	OTPTTL        time.Duration `env:"OTP_TTL" envDefault:"10m"`
	SweepInterval time.Duration `env:"OTP_SWEEP_INTERVAL" envDefault:"1m"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`
}

type Token struct {
	Secret string        `env:"SECRET"`
	Issuer string        `env:"ISSUER" envDefault:"college-resources"`
	TTL    time.Duration `env:"TTL" envDefault:"24h"`
}

type Mail struct {
	Provider string `env:"MAIL_PROVIDER" envDefault:"log"`
	From     string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`
	FromName string `env:"MAIL_FROM_NAME" envDefault:"College Resources"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
}

// Load reads a .env file if present, then parses the environment.
func Load() (Config, error) {
	// best-effort: a missing .env just means real env / defaults
	_ = godotenv.Load()
	return Parse()
}

// Parse parses the current process environment into a Config and validates it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Auth.AdminEmails = normalizeEmails(cfg.Auth.AdminEmails)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Token.Secret == "" && !c.Log.Dev {
		errs = append(errs, errors.New("TOKEN_SECRET is required outside dev mode"))
	}
	if c.Auth.OTPTTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.Auth.SweepInterval <= 0 {
		errs = append(errs, errors.New("OTP_SWEEP_INTERVAL must be positive"))
	}
	switch c.Mail.Provider {
	case "log":
	case "smtp":
		if c.Mail.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for MAIL_PROVIDER=smtp"))
		}
	case "sendgrid":
		if c.Mail.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for MAIL_PROVIDER=sendgrid"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_PROVIDER %q", c.Mail.Provider))
	}
	return errors.Join(errs...)
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
