// internal/notify/mail.go
// Package notify emails machine subscribers and assignees about issue
// events, and carries the password-reset mail. Delivery is asynchronous
// through a small buffered queue; when SMTP is unconfigured the service
// degrades to a no-op.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/tiltboard/tiltboard/internal/config"
)

// Message is one outbound email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Mailer delivers a message. Implemented by Sender; stubbed in tests.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Sender delivers mail over SMTP with go-mail.
type Sender struct {
	cfg config.SMTPConfig
}

// NewSender wraps the SMTP configuration. Port defaults to 587.
func NewSender(cfg config.SMTPConfig) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Sender{cfg: cfg}
}

// Send delivers one message, dialing per call. Notification volume is low
// enough that holding a connection open is not worth the bookkeeping.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("notify: no recipients")
	}

	m := mail.NewMsg()
	if s.cfg.FromName != "" {
		if err := m.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return fmt.Errorf("notify: invalid from address: %w", err)
		}
	} else {
		if err := m.From(s.cfg.From); err != nil {
			return fmt.Errorf("notify: invalid from address: %w", err)
		}
	}
	if err := m.To(msg.To...); err != nil {
		return fmt.Errorf("notify: invalid to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

// Ping checks that the SMTP server is reachable.
func (s *Sender) Ping(ctx context.Context) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("notify: smtp dial: %w", err)
	}
	return c.Close()
}

func (s *Sender) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(30 * time.Second),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return c, nil
}
