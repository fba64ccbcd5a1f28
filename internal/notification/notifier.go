package notification

import (
	"context"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/models"
)

// Notifier delivers a persisted event to an outside channel.
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
}

// sendMailFunc matches smtp.SendMail so delivery can be swapped in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

func sanitizeRecipients(recipients []string) []string {
	var cleaned []string
	for _, recipient := range recipients {
		if r := strings.TrimSpace(recipient); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return cleaned
}

// headerValue strips line breaks so user text cannot add headers.
func headerValue(v string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(v))
}

func logNotifyError(logger zerolog.Logger, err error, channel string, event models.Event) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("event_id", event.ID).
		Str("event_name", string(event.Name)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
