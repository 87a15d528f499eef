package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPSender mails codes through an SMTP relay.
type SMTPSender struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
}

func NewSMTPSender(host string, port int, username, password, from, fromName string) *SMTPSender {
	return &SMTPSender{
		dialer:   gomail.NewDialer(host, port, username, password),
		from:     from,
		fromName: fromName,
	}
}

func (s *SMTPSender) message(email, code string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", email)
	m.SetHeader("Subject", codeSubject)
	m.SetBody("text/plain", codeBody(code))
	return m
}

// SendCode dials, sends and closes. gomail has no context support, so ctx
// is only checked before dialing.
func (s *SMTPSender) SendCode(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.message(email, code)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
