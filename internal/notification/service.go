package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/models"
	"github.com/stanstork/invitation-api/internal/repository"
)

type Event struct {
	Name     models.EventName
	CRUD     string
	CourseID int64
	UserID   *int64
	ObjectID *int64
	Other    map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Event, error)
	InvitationSent(ctx context.Context, invite models.Invite, actorID *int64) error
	InvitationAccepted(ctx context.Context, invite models.Invite, userID int64) error
	InvitationAcceptFailed(ctx context.Context, courseID int64, userID *int64, reason string) error
	InvitationDeleted(ctx context.Context, invite models.Invite, actorID *int64) error
	ListRecent(ctx context.Context, courseID int64, limit int) ([]models.Event, error)
}

type service struct {
	repo      repository.EventRepository
	logger    zerolog.Logger
	notifiers []Notifier
	now       func() time.Time
}

func NewService(repo repository.EventRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
		now:       time.Now,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Event, error) {
	if evt.Name == "" {
		return models.Event{}, errors.New("event name is required")
	}
	if evt.CRUD == "" {
		evt.CRUD = models.CRUDCreate
	}

	event := models.Event{
		Name:        evt.Name,
		CRUD:        evt.CRUD,
		CourseID:    evt.CourseID,
		UserID:      evt.UserID,
		ObjectID:    evt.ObjectID,
		TimeCreated: s.now().UTC(),
	}
	if len(evt.Other) > 0 {
		raw, err := json.Marshal(evt.Other)
		if err != nil {
			return models.Event{}, errors.Wrap(err, "marshal event payload")
		}
		event.Other = raw
	}

	stored, err := s.repo.CreateEvent(ctx, event)
	if err != nil {
		s.logger.Error().Err(err).Str("event_name", string(evt.Name)).Msg("failed to persist event")
		return models.Event{}, err
	}
	stored.Description = Describe(stored)

	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, stored); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), stored)
		}
	}
	return stored, nil
}

func (s *service) InvitationSent(ctx context.Context, invite models.Invite, actorID *int64) error {
	_, err := s.Publish(ctx, Event{
		Name:     models.EventInvitationSent,
		CRUD:     models.CRUDCreate,
		CourseID: invite.CourseID,
		UserID:   actorID,
		ObjectID: &invite.ID,
		Other: map[string]interface{}{
			"courseid": invite.CourseID,
			"email":    invite.Email,
			"roleid":   invite.RoleID,
			"inviteid": invite.ID,
		},
	})
	return err
}

func (s *service) InvitationAccepted(ctx context.Context, invite models.Invite, userID int64) error {
	_, err := s.Publish(ctx, Event{
		Name:     models.EventInvitationAccepted,
		CRUD:     models.CRUDCreate,
		CourseID: invite.CourseID,
		UserID:   &userID,
		ObjectID: &invite.ID,
		Other: map[string]interface{}{
			"userid":   userID,
			"courseid": invite.CourseID,
		},
	})
	return err
}

// InvitationAcceptFailed records a rejected acceptance. userID is nil when
// the caller could not be identified.
func (s *service) InvitationAcceptFailed(ctx context.Context, courseID int64, userID *int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	_, err := s.Publish(ctx, Event{
		Name:     models.EventInvitationAccepted,
		CRUD:     models.CRUDCreate,
		CourseID: courseID,
		UserID:   userID,
		Other: map[string]interface{}{
			"courseid": courseID,
			"errormsg": reason,
		},
	})
	return err
}

func (s *service) InvitationDeleted(ctx context.Context, invite models.Invite, actorID *int64) error {
	other := map[string]interface{}{
		"courseid": invite.CourseID,
		"email":    invite.Email,
	}
	if actorID != nil {
		other["userid"] = *actorID
	}
	_, err := s.Publish(ctx, Event{
		Name:     models.EventInvitationDeleted,
		CRUD:     models.CRUDDelete,
		CourseID: invite.CourseID,
		UserID:   actorID,
		ObjectID: &invite.ID,
		Other:    other,
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, courseID int64, limit int) ([]models.Event, error) {
	events, err := s.repo.ListRecentEvents(ctx, courseID, limit)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Description = Describe(events[i])
	}
	return events, nil
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
