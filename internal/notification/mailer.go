package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/config"
)

// InviteMessage is everything needed to compose one invitation email.
type InviteMessage struct {
	To         string
	CourseName string
	Subject    string
	Message    string
	AcceptURL  string
	ExpiresAt  time.Time
}

// InviteMailer delivers invitation emails.
type InviteMailer interface {
	SendInvite(ctx context.Context, msg InviteMessage) error
}

// SMTPInviteMailer sends invite emails using an SMTP server.
type SMTPInviteMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     sendMailFunc
	now      func() time.Time
}

// NewSMTPInviteMailer constructs a new SMTPInviteMailer from config.
func NewSMTPInviteMailer(cfg config.EmailConfig) (*SMTPInviteMailer, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, errors.New("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("email from address is required")
	}

	return &SMTPInviteMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		send:     smtp.SendMail,
		now:      time.Now,
	}, nil
}

// SendInvite dispatches an invitation email to a prospective participant.
func (m *SMTPInviteMailer) SendInvite(ctx context.Context, msg InviteMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := headerValue(msg.To)
	if to == "" {
		return errors.New("recipient is required")
	}

	message := []byte(m.compose(msg))
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if strings.TrimSpace(m.username) != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return errors.Wrap(m.send(addr, auth, m.from, []string{to}, message), "send invitation email")
}

func (m *SMTPInviteMailer) compose(msg InviteMessage) string {
	subject := headerValue(msg.Subject)
	if subject == "" {
		subject = fmt.Sprintf("Invitation to join %s", headerValue(msg.CourseName))
	}
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		m.from, headerValue(msg.To), subject)

	body := strings.Builder{}
	body.WriteString("Hello,\n\n")
	body.WriteString(fmt.Sprintf("You have been invited to join the course %s.\n", msg.CourseName))
	if text := strings.TrimSpace(msg.Message); text != "" {
		body.WriteString("\n" + text + "\n")
	}
	body.WriteString("\nFollow the link below to accept the invitation:\n\n")
	body.WriteString(msg.AcceptURL + "\n\n")
	if !msg.ExpiresAt.IsZero() {
		body.WriteString(fmt.Sprintf("This invitation expires %s (%s).\n",
			humanize.RelTime(msg.ExpiresAt, m.now(), "ago", "from now"),
			msg.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")))
	}
	body.WriteString("If you did not expect this email, you can ignore it.\n")

	return headers + body.String()
}
