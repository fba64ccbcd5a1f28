package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/config"
	"github.com/stanstork/invitation-api/internal/models"
)

// EmailNotifier copies invitation events to the configured audit recipients.
type EmailNotifier struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	send       sendMailFunc
	logger     zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, errors.New("smtp_host is required for email notifier")
	}
	if from == "" {
		return nil, errors.New("from is required for email notifier")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	return &EmailNotifier{
		host:       host,
		port:       port,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		from:       from,
		recipients: sanitizeRecipients(cfg.AuditRecipients),
		send:       smtp.SendMail,
		logger:     logger.With().Str("notifier", "email").Logger(),
	}, nil
}

func (n *EmailNotifier) Notify(_ context.Context, event models.Event) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[Invitations] %s", eventTitle(event.Name))

	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(event.Description))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Event: %s\n", event.Name))
	body.WriteString(fmt.Sprintf("Course: %d\n", event.CourseID))
	body.WriteString(fmt.Sprintf("Created: %s\n", event.TimeCreated.Format("2006-01-02 15:04:05 MST")))
	if len(event.Other) > 0 {
		body.WriteString(fmt.Sprintf("Details: %s\n", string(event.Other)))
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		n.from, strings.Join(n.recipients, ","), subject)

	message := []byte(headers + body.String())
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	if err := n.send(addr, auth, n.from, n.recipients, message); err != nil {
		return errors.Wrap(err, "send audit email")
	}

	n.logger.Info().
		Str("event_id", event.ID).
		Str("event_name", string(event.Name)).
		Strs("recipients", n.recipients).
		Msg("audit email sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}

func eventTitle(name models.EventName) string {
	switch name {
	case models.EventInvitationSent:
		return "Invitation sent"
	case models.EventInvitationAccepted:
		return "Invitation accepted"
	case models.EventInvitationDeleted:
		return "Invitation revoked"
	default:
		return "Notification"
	}
}
