// Package enrolment edits and removes the enrolments created by accepted
// invitations, and manages the per-course invitation settings.
package enrolment

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/models"
	"github.com/stanstork/invitation-api/internal/repository"
)

// EditForm carries the editable fields of an enrolment. A nil Status keeps
// the current one; zero times mean the bound is unset.
type EditForm struct {
	Status    *models.EnrolmentStatus `json:"status"`
	TimeStart int64                   `json:"timestart"`
	TimeEnd   int64                   `json:"timeend"`
}

// Validate returns field errors for the form, or nil when it is acceptable.
func Validate(form EditForm) apperr.FieldErrors {
	fields := apperr.FieldErrors{}
	if form.Status != nil && !form.Status.Valid() {
		fields["status"] = "must be active (0) or suspended (1)"
	}
	if form.TimeStart < 0 {
		fields["timestart"] = "must not be negative"
	}
	if form.TimeEnd < 0 {
		fields["timeend"] = "must not be negative"
	}
	if form.TimeStart > 0 && form.TimeEnd > 0 && form.TimeStart >= form.TimeEnd {
		fields["timestart"] = "must be before the end date"
		fields["timeend"] = "must be after the start date"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// InstanceSettings is the editable part of a course's invitation instance.
type InstanceSettings struct {
	Enabled        bool          `json:"enabled"`
	RoleID         int64         `json:"roleid"`
	InviteValidity time.Duration `json:"invite_validity"`
	EnrolPeriod    time.Duration `json:"enrol_period"`
	EmailSubject   string        `json:"email_subject"`
	EmailMessage   string        `json:"email_message"`
}

type Service struct {
	store  repository.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store repository.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "enrolment_service").Logger(),
		now:    time.Now,
	}
}

// Get loads an enrolment that was created through the invitation method.
func (s *Service) Get(ctx context.Context, ueID int64) (models.UserEnrolment, error) {
	ue, err := s.store.Enrolments().GetEnrolment(ctx, ueID)
	if err != nil {
		return models.UserEnrolment{}, err
	}
	if _, err := s.store.Instances().GetInstanceByID(ctx, ue.EnrolID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.UserEnrolment{}, errors.Wrap(apperr.ErrNotFound, "enrolment does not belong to the invitation method")
		}
		return models.UserEnrolment{}, err
	}
	return ue, nil
}

// Edit validates the form and applies it to the enrolment.
func (s *Service) Edit(ctx context.Context, ueID int64, form EditForm) (models.UserEnrolment, error) {
	ue, err := s.Get(ctx, ueID)
	if err != nil {
		return models.UserEnrolment{}, err
	}
	if fields := Validate(form); fields != nil {
		return models.UserEnrolment{}, apperr.NewValidationError(fields)
	}

	if form.Status != nil {
		ue.Status = *form.Status
	}
	ue.TimeStart = unixOrZero(form.TimeStart)
	ue.TimeEnd = unixOrZero(form.TimeEnd)
	ue.TimeModified = s.now().UTC()

	updated, err := s.store.Enrolments().UpdateEnrolment(ctx, ue)
	if err != nil {
		return models.UserEnrolment{}, err
	}
	s.logger.Info().
		Int64("ue_id", updated.ID).
		Str("status", updated.Status.String()).
		Msg("enrolment updated")
	return updated, nil
}

// Unenrol removes an invitation enrolment and the user's roles in its course.
func (s *Service) Unenrol(ctx context.Context, ueID int64) error {
	ue, err := s.Get(ctx, ueID)
	if err != nil {
		return err
	}
	return s.remove(ctx, ue)
}

// UnenrolSelf removes the caller's own invitation enrolment in a course.
func (s *Service) UnenrolSelf(ctx context.Context, courseID, userID int64) error {
	instance, err := s.store.Instances().GetInstanceByCourse(ctx, courseID)
	if err != nil {
		return err
	}
	ue, err := s.store.Enrolments().GetEnrolmentByUser(ctx, instance.ID, userID)
	if err != nil {
		return err
	}
	return s.remove(ctx, ue)
}

func (s *Service) remove(ctx context.Context, ue models.UserEnrolment) error {
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Invites().ClearEnrolmentLink(ctx, ue.ID); err != nil {
			return err
		}
		if err := tx.Enrolments().DeleteEnrolment(ctx, ue.ID); err != nil {
			return err
		}
		return tx.Directory().UnassignRoles(ctx, ue.CourseID, ue.UserID)
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Int64("ue_id", ue.ID).
		Int64("user_id", ue.UserID).
		Int64("course_id", ue.CourseID).
		Msg("user unenrolled")
	return nil
}

// Instance returns the invitation settings of a course.
func (s *Service) Instance(ctx context.Context, courseID int64) (models.EnrolInstance, error) {
	return s.store.Instances().GetInstanceByCourse(ctx, courseID)
}

// UpdateInstance validates and stores the settings, creating the instance on
// first use.
func (s *Service) UpdateInstance(ctx context.Context, courseID int64, settings InstanceSettings) (models.EnrolInstance, error) {
	fields := apperr.FieldErrors{}
	if settings.InviteValidity < models.MinInviteValidity || settings.InviteValidity > models.MaxInviteValidity {
		fields["invite_validity"] = "must be between 1 hour and 365 days"
	}
	if settings.EnrolPeriod < 0 {
		fields["enrol_period"] = "must not be negative"
	}
	if _, err := s.store.Directory().GetRole(ctx, settings.RoleID); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return models.EnrolInstance{}, err
		}
		fields["roleid"] = "unknown role"
	}
	if len(fields) > 0 {
		return models.EnrolInstance{}, apperr.NewValidationError(fields)
	}
	if _, err := s.store.Directory().GetCourse(ctx, courseID); err != nil {
		return models.EnrolInstance{}, err
	}

	status := models.InstanceStatusDisabled
	if settings.Enabled {
		status = models.InstanceStatusEnabled
	}
	instance := models.EnrolInstance{
		CourseID:       courseID,
		Status:         status,
		RoleID:         settings.RoleID,
		InviteValidity: settings.InviteValidity,
		EnrolPeriod:    settings.EnrolPeriod,
		EmailSubject:   strings.TrimSpace(settings.EmailSubject),
		EmailMessage:   strings.TrimSpace(settings.EmailMessage),
		TimeModified:   s.now().UTC(),
	}

	existing, err := s.store.Instances().GetInstanceByCourse(ctx, courseID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return s.store.Instances().CreateInstance(ctx, instance)
	case err != nil:
		return models.EnrolInstance{}, err
	}
	instance.ID = existing.ID
	return s.store.Instances().UpdateInstance(ctx, instance)
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
