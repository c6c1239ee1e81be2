package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"

	"villaops.org/internal/obs"
)

// Message is one outgoing mail.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender delivers mail over SMTP with STARTTLS.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mailer: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := s.build(msg)
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := e.SendWithStartTLS(addr, auth, &tls.Config{ServerName: s.cfg.Host}); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) *email.Email {
	e := email.NewEmail()
	if s.cfg.FromName != "" {
		e.From = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	} else {
		e.From = s.cfg.From
	}
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	if msg.Text != "" {
		e.Text = []byte(msg.Text)
	}
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	return e
}

// LogSender writes messages to the service log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender logging through the shared logger.
func NewLogSender() *LogSender {
	return &LogSender{logger: obs.Logger()}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail_suppressed", "to", msg.To, "subject", msg.Subject)
	return nil
}

// ResetData fills the password reset template.
type ResetData struct {
	Name    string
	Token   string
	Link    string
	AppName string
}

var resetTmpl = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html lang="en">
<body style="font-family: sans-serif; color: #2d3748;">
  <h2>Reset your {{.AppName}} password</h2>
  <p>Hello {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
  <p>We received a request to reset your password. Use the code below{{if .Link}} or follow <a href="{{.Link}}">this link</a>{{end}}.</p>
  <p style="font-family: monospace; font-size: 20px;">{{.Token}}</p>
  <p>If you did not ask for this, you can ignore this mail.</p>
</body>
</html>`))

// PasswordReset renders the password reset mail for to.
func PasswordReset(to string, data ResetData) (Message, error) {
	if data.AppName == "" {
		data.AppName = "villaops"
	}
	var buf bytes.Buffer
	if err := resetTmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("mailer: render reset mail: %w", err)
	}
	text := fmt.Sprintf("Use this code to reset your %s password: %s\n", data.AppName, data.Token)
	if data.Link != "" {
		text += data.Link + "\n"
	}
	return Message{
		To:      to,
		Subject: "Reset your " + data.AppName + " password",
		Text:    text,
		HTML:    buf.String(),
	}, nil
}
