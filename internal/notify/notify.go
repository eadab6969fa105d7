// Package notify sends welcome messages to newly created identities.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/sirupsen/logrus"
)

// Variables passed to templates
const (
	VarFirst      = "first"
	VarLast       = "last"
	VarMiddle     = "middle"
	VarLogin      = "login"
	VarPassword   = "password"
	VarDepartment = "department"
	VarPosition   = "position"
)

// DefaultBody is used when no template is configured
const DefaultBody = `Hello, {{.first}} {{.last}}!

An account was created for you.

Login: {{.login}}
Password: {{.password}}
{{- if .department}}
Department: {{.department}}
{{- end}}
{{- if .position}}
Position: {{.position}}
{{- end}}

Please change the password after the first sign-in.
`

// Notifier delivers a rendered message to one recipient
type Notifier interface {
	Notify(ctx context.Context, to string, vars map[string]string) error
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier renders text templates and delivers them over SMTP
type SMTPNotifier struct {
	addr    string
	from    string
	auth    smtp.Auth
	subject *template.Template
	body    *template.Template
	send    SendFunc
	logger  *logrus.Logger
}

// SMTPOptions configures an SMTPNotifier
type SMTPOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Subject  string
	Body     string
}

// OptionsFromConfig maps process configuration to SMTP options
func OptionsFromConfig(cfg *config.Config) SMTPOptions {
	return SMTPOptions{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Subject:  cfg.WelcomeSubject,
		Body:     cfg.WelcomeTemplate,
	}
}

// NewSMTPNotifier parses the templates and prepares the SMTP client
func NewSMTPNotifier(opts SMTPOptions, logger *logrus.Logger) (*SMTPNotifier, error) {
	if opts.Host == "" || opts.From == "" {
		return nil, fmt.Errorf("smtp host and sender are required")
	}
	if opts.Body == "" {
		opts.Body = DefaultBody
	}
	if opts.Subject == "" {
		opts.Subject = "Your new account {{.login}}"
	}

	subject, err := template.New("subject").Option("missingkey=zero").Parse(opts.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}
	body, err := template.New("body").Option("missingkey=zero").Parse(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}

	n := &SMTPNotifier{
		addr:    net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		from:    opts.From,
		subject: subject,
		body:    body,
		send:    smtp.SendMail,
		logger:  logger,
	}
	if opts.User != "" {
		n.auth = smtp.PlainAuth("", opts.User, opts.Password, opts.Host)
	}
	return n, nil
}

// WithSender replaces the delivery function
func (n *SMTPNotifier) WithSender(send SendFunc) *SMTPNotifier {
	n.send = send
	return n
}

// Render returns the subject and body for the given variables
func (n *SMTPNotifier) Render(vars map[string]string) (string, string, error) {
	var subject, body bytes.Buffer
	if err := n.subject.Execute(&subject, vars); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	if err := n.body.Execute(&body, vars); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

// Notify renders the welcome message and sends it to one address
func (n *SMTPNotifier) Notify(ctx context.Context, to string, vars map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := n.Render(vars)
	if err != nil {
		return err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	if err := n.send(n.addr, n.auth, n.from, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send welcome message to %s: %w", to, err)
	}

	n.logger.WithFields(logrus.Fields{
		"to":    to,
		"login": vars[VarLogin],
	}).Info("Welcome message sent")
	return nil
}
