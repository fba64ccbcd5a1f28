package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/models"
)

// LogNotifier writes every event to the audit log stream.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, event models.Event) error {
	entry := n.logger.Info().
		Str("event_id", event.ID).
		Str("event_name", string(event.Name)).
		Str("crud", event.CRUD).
		Int64("course_id", event.CourseID)
	if event.UserID != nil {
		entry = entry.Int64("user_id", *event.UserID)
	}
	if event.ObjectID != nil {
		entry = entry.Int64("object_id", *event.ObjectID)
	}
	if len(event.Other) > 0 {
		entry = entry.RawJSON("other", event.Other)
	}
	entry.Msg(event.Description)
	return nil
}

func (n *LogNotifier) String() string {
	return "LogNotifier"
}
