// Package notify delivers verification codes to email addresses.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
)

// Sender delivers a short numeric code to an email address.
type Sender interface {
	SendCode(ctx context.Context, email, code string) error
}

const codeSubject = "Your verification code"

func codeBody(code string) string {
	return fmt.Sprintf("Your OTP for signup is: %s\n\nIf you did not request this, you can ignore this email.", code)
}

// New picks the Sender configured by MAIL_PROVIDER.
func New(cfg config.Mail, logger *zap.SugaredLogger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(logger), nil
	case "smtp":
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From, cfg.FromName), nil
	case "sendgrid":
		return NewSendGridSender(cfg.SendGridAPIKey, cfg.From, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// LogSender writes codes to the log instead of mailing them. Meant for local development.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Infow("verification code", "email", email, "code", code)
	return nil
}
