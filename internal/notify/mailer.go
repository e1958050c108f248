// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify delivers transactional email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/metrics"
)

var ErrNoRecipient = errors.New("notify: message has no recipient")

// Message is one email. Template names the message kind for metrics.
type Message struct {
	Template string
	To       string
	Subject  string
	Text     string
	HTML     string
}

// Mailer sends a message synchronously.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
	// PerMinute caps outbound messages. Zero means unlimited.
	PerMinute int
}

// SMTPMailer sends mail through an SMTP relay, paced by a token bucket.
type SMTPMailer struct {
	from    string
	limiter *rate.Limiter
	send    func(...*gomail.Message) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newSMTPMailer(cfg, d.DialAndSend)
}

func newSMTPMailer(cfg SMTPConfig, send func(...*gomail.Message) error) *SMTPMailer {
	limit := rate.Inf
	burst := 1
	if cfg.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.PerMinute))
		burst = cfg.PerMinute
	}
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	return &SMTPMailer{from: from, limiter: rate.NewLimiter(limit, burst), send: send}
}

func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: wait for send slot: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Text)
	if m.HTML != "" {
		msg.AddAlternative("text/html", m.HTML)
	}

	err := s.send(msg)
	metrics.EmailsSent.WithLabelValues(m.Template, result(err)).Inc()
	if err != nil {
		return fmt.Errorf("notify: send %s: %w", m.Template, err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "sent"
}

// LogMailer writes messages to the log instead of sending them. It is used
// when email delivery is disabled.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{logger: xglog.WithComponent("notify")}
}

func (l *LogMailer) Send(_ context.Context, m Message) error {
	l.logger.Info().
		Str("template", m.Template).
		Str("to", m.To).
		Str("subject", m.Subject).
		Msg("email delivery disabled, message dropped")
	metrics.EmailsSent.WithLabelValues(m.Template, "disabled").Inc()
	return nil
}
