// Package notify delivers out-of-stock alerts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"

	"github.com/next-trace/scg-allocation/service"
)

var (
	_ service.Notifications = (*Email)(nil)
	_ service.Notifications = (*Log)(nil)
	_ service.Notifications = (*Recorder)(nil)
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig configures Email.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Email sends each notification as a plain-text mail.
type Email struct {
	cfg  EmailConfig
	send SendMailFunc
}

// NewEmail returns an Email sender. A nil send uses smtp.SendMail.
func NewEmail(cfg EmailConfig, send SendMailFunc) *Email {
	if send == nil {
		send = smtp.SendMail
	}

	return &Email{cfg: cfg, send: send}
}

func (e *Email) Send(ctx context.Context, destination, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	body := strings.Join([]string{
		"From: " + e.cfg.From,
		"To: " + destination,
		"Subject: allocation service notification",
		"",
		message,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, []string{destination}, []byte(body)); err != nil {
		return fmt.Errorf("cannot send notification to %s: %w", destination, err)
	}

	return nil
}

// Log writes notifications to a logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}

	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, destination, message string) error {
	l.logger.InfoContext(ctx, "notification", "destination", destination, "text", message)
	return nil
}

// Sent is one recorded notification.
type Sent struct {
	Destination string
	Message     string
}

// Recorder keeps notifications in memory for tests and examples.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) Send(_ context.Context, destination, message string) error {
	r.mu.Lock()
	r.sent = append(r.sent, Sent{Destination: destination, Message: message})
	r.mu.Unlock()

	return nil
}

// Sent returns a copy of everything sent so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Sent(nil), r.sent...)
}
