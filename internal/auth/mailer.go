package auth

import (
	"context"
	"fmt"
	"net/smtp"

	"finvue/internal/log"

	"github.com/jordan-wright/email"
)

// Mailer delivers account emails.
type Mailer interface {
	SendConfirmation(ctx context.Context, to, link string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *log.Logger
}

func NewSMTPMailer(cfg SMTPConfig, logger *log.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger.WithComponent(log.ComponentAuth)}
}

func (m *SMTPMailer) SendConfirmation(ctx context.Context, to, link string) error {
	e := email.NewEmail()
	e.From = m.cfg.Sender
	e.To = []string{to}
	e.Subject = "Confirme seu cadastro no FinVue"
	e.Text = []byte(fmt.Sprintf(
		"Olá,\n\nConfirme seu e-mail para começar a usar o FinVue:\n%s\n\nSe você não criou esta conta, ignore esta mensagem.\n\nEquipe FinVue",
		link,
	))

	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := e.Send(addr, auth); err != nil {
		m.logger.ErrorContext(ctx, "Failed to send confirmation email", "to", to, log.FieldError, err)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	m.logger.InfoContext(ctx, "Confirmation email sent", "to", to)
	return nil
}

// LogMailer logs confirmation links instead of sending them; used when no
// SMTP relay is configured.
type LogMailer struct {
	logger *log.Logger
}

func NewLogMailer(logger *log.Logger) *LogMailer {
	return &LogMailer{logger: logger.WithComponent(log.ComponentAuth)}
}

func (m *LogMailer) SendConfirmation(ctx context.Context, to, link string) error {
	m.logger.InfoContext(ctx, "Confirmation link (SMTP not configured)", "to", to, "link", link)
	return nil
}
