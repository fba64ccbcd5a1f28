// Package invitation implements the lifecycle of course invitations: sending,
// accepting, revoking, extending and resending, plus the history view.
package invitation

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/i18n"
	"github.com/stanstork/invitation-api/internal/models"
	"github.com/stanstork/invitation-api/internal/notification"
	"github.com/stanstork/invitation-api/internal/repository"
)

const (
	defaultValidity          = 14 * 24 * time.Hour
	defaultAcceptURLTemplate = "/api/invitations/%s"
)

// EventSink receives the audit events of the invitation lifecycle.
type EventSink interface {
	InvitationSent(ctx context.Context, invite models.Invite, actorID *int64) error
	InvitationAccepted(ctx context.Context, invite models.Invite, userID int64) error
	InvitationAcceptFailed(ctx context.Context, courseID int64, userID *int64, reason string) error
	InvitationDeleted(ctx context.Context, invite models.Invite, actorID *int64) error
}

// Manager coordinates invitation state changes against the store.
type Manager struct {
	store           repository.Store
	events          EventSink
	mailer          notification.InviteMailer
	hasher          *TokenHasher
	translator      *i18n.Translator
	logger          zerolog.Logger
	now             func() time.Time
	acceptURL       string
	defaultValidity time.Duration
}

// Option configures the Manager.
type Option func(*Manager) error

func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		m.now = now
		return nil
	}
}

func WithMailer(mailer notification.InviteMailer) Option {
	return func(m *Manager) error {
		m.mailer = mailer
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger.With().Str("component", "invitation_manager").Logger()
		return nil
	}
}

// WithTokenKey sets the key used to fingerprint tokens before storage.
func WithTokenKey(key []byte) Option {
	return func(m *Manager) error {
		hasher, err := NewTokenHasher(key)
		if err != nil {
			return err
		}
		m.hasher = hasher
		return nil
	}
}

// WithAcceptURLTemplate sets the acceptance link format; %s receives the token.
func WithAcceptURLTemplate(tpl string) Option {
	return func(m *Manager) error {
		if !strings.Contains(tpl, "%s") {
			return errors.New("accept url template must contain %s")
		}
		m.acceptURL = tpl
		return nil
	}
}

// WithDefaultValidity applies when a course instance has no validity configured.
func WithDefaultValidity(d time.Duration) Option {
	return func(m *Manager) error {
		if !ValidValidity(d) {
			return errors.Errorf("default validity %s out of range", d)
		}
		m.defaultValidity = d
		return nil
	}
}

func WithTranslator(tr *i18n.Translator) Option {
	return func(m *Manager) error {
		if tr != nil {
			m.translator = tr
		}
		return nil
	}
}

func NewManager(store repository.Store, events EventSink, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	hasher, _ := NewTokenHasher(nil)
	m := &Manager{
		store:           store,
		events:          events,
		hasher:          hasher,
		translator:      i18n.NewTranslator(),
		logger:          zerolog.Nop(),
		now:             time.Now,
		acceptURL:       defaultAcceptURLTemplate,
		defaultValidity: defaultValidity,
	}
	if m.events == nil {
		m.events = nopSink{}
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ValidValidity reports whether d is an acceptable invitation lifetime.
func ValidValidity(d time.Duration) bool {
	return d >= models.MinInviteValidity && d <= models.MaxInviteValidity
}

// CreateInput describes a new invitation. Zero RoleID and Validity fall back
// to the course instance settings.
type CreateInput struct {
	CourseID  int64
	Email     string
	RoleID    int64
	CreatorID *int64
	Subject   string
	Message   string
	Validity  time.Duration
}

// Create stores a pending invitation and mails its acceptance link. The raw
// token is returned once and never stored.
func (m *Manager) Create(ctx context.Context, in CreateInput) (models.Invite, string, error) {
	fields := apperr.FieldErrors{}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		fields["email"] = "invalid email address"
	}
	if in.Validity != 0 && !ValidValidity(in.Validity) {
		fields["validity"] = "must be between 1 hour and 365 days"
	}
	if len(fields) > 0 {
		return models.Invite{}, "", apperr.NewValidationError(fields)
	}

	course, err := m.store.Directory().GetCourse(ctx, in.CourseID)
	if err != nil {
		return models.Invite{}, "", err
	}
	instance, err := m.enabledInstance(ctx, in.CourseID)
	if err != nil {
		return models.Invite{}, "", err
	}

	roleID := in.RoleID
	if roleID == 0 {
		roleID = instance.RoleID
	}
	if _, err := m.store.Directory().GetRole(ctx, roleID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Invite{}, "", apperr.Field("roleid", "unknown role")
		}
		return models.Invite{}, "", err
	}

	validity := in.Validity
	if validity == 0 {
		validity = m.instanceValidity(instance)
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = instance.EmailSubject
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		message = instance.EmailMessage
	}

	token, err := GenerateToken()
	if err != nil {
		return models.Invite{}, "", err
	}

	now := m.clock()
	var created models.Invite
	err = m.store.WithTx(ctx, func(tx repository.Store) error {
		_, err := tx.Invites().FindActiveInvite(ctx, in.CourseID, email, now)
		switch {
		case err == nil:
			return errors.Wrapf(apperr.ErrConflict, "an active invitation for %s already exists", email)
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		created, err = tx.Invites().CreateInvite(ctx, models.Invite{
			CourseID:       in.CourseID,
			Email:          email,
			RoleID:         roleID,
			TokenHash:      m.hasher.Fingerprint(token),
			CreatorID:      in.CreatorID,
			Subject:        subject,
			Message:        message,
			TimeSent:       now,
			TimeExpiration: now.Add(validity),
			Status:         models.InviteStatusPending,
		})
		return err
	})
	if err != nil {
		return models.Invite{}, "", err
	}

	m.logger.Info().
		Int64("invite_id", created.ID).
		Int64("course_id", created.CourseID).
		Msg("invitation created")
	m.emitSent(ctx, created, in.CreatorID)
	m.deliver(ctx, created, course, token)
	return created, token, nil
}

// EnrolmentResult is the outcome of a successful acceptance.
type EnrolmentResult struct {
	Invite    models.Invite        `json:"invite"`
	Enrolment models.UserEnrolment `json:"enrolment"`
	Course    models.Course        `json:"course"`
}

var errLostRace = errors.New("invitation accepted concurrently")

// Accept redeems a token for userID. courseHint, when non-zero, must match
// the invitation's course. Every outcome is recorded as an acceptance event.
func (m *Manager) Accept(ctx context.Context, token string, userID, courseHint int64) (EnrolmentResult, error) {
	result, courseID, err := m.accept(ctx, token, userID, courseHint)
	if err != nil {
		var actor *int64
		if userID > 0 {
			actor = &userID
		}
		if courseID == 0 {
			courseID = courseHint
		}
		if emitErr := m.events.InvitationAcceptFailed(ctx, courseID, actor, failureReason(err)); emitErr != nil {
			m.logger.Warn().Err(emitErr).Msg("failed to record rejected acceptance")
		}
		return EnrolmentResult{}, err
	}

	m.logger.Info().
		Int64("invite_id", result.Invite.ID).
		Int64("user_id", userID).
		Int64("ue_id", result.Enrolment.ID).
		Msg("invitation accepted")
	if err := m.events.InvitationAccepted(ctx, result.Invite, userID); err != nil {
		m.logger.Warn().Err(err).Int64("invite_id", result.Invite.ID).Msg("failed to record acceptance")
	}
	return result, nil
}

func (m *Manager) accept(ctx context.Context, token string, userID, courseHint int64) (EnrolmentResult, int64, error) {
	if userID <= 0 {
		return EnrolmentResult{}, 0, errors.Wrap(apperr.ErrPermissionDenied, "acceptance requires a signed-in user")
	}
	invite, err := m.lookupToken(ctx, token)
	if err != nil {
		return EnrolmentResult{}, 0, err
	}
	if courseHint != 0 && courseHint != invite.CourseID {
		return EnrolmentResult{}, courseHint, errors.Wrap(apperr.ErrInvalidToken, "invitation belongs to another course")
	}

	now := m.clock()
	if err := classify(invite, now); err != nil {
		return EnrolmentResult{}, invite.CourseID, err
	}

	instance, err := m.enabledInstance(ctx, invite.CourseID)
	if err != nil {
		return EnrolmentResult{}, invite.CourseID, err
	}
	course, err := m.store.Directory().GetCourse(ctx, invite.CourseID)
	if err != nil {
		return EnrolmentResult{}, invite.CourseID, err
	}
	if _, err := m.store.Directory().GetUser(ctx, userID); err != nil {
		return EnrolmentResult{}, invite.CourseID, err
	}

	var result EnrolmentResult
	err = m.store.WithTx(ctx, func(tx repository.Store) error {
		accepted, err := tx.Invites().MarkInviteAccepted(ctx, invite.ID, userID, now)
		if errors.Is(err, apperr.ErrNotFound) {
			return errLostRace
		}
		if err != nil {
			return err
		}

		ue := models.UserEnrolment{
			EnrolID:      instance.ID,
			UserID:       userID,
			Status:       models.EnrolmentStatusActive,
			TimeStart:    now,
			TimeCreated:  now,
			TimeModified: now,
		}
		if instance.EnrolPeriod > 0 {
			ue.TimeEnd = now.Add(instance.EnrolPeriod)
		}
		enrolment, err := tx.Enrolments().UpsertEnrolment(ctx, ue)
		if err != nil {
			return err
		}
		if err := tx.Directory().AssignRole(ctx, invite.CourseID, invite.RoleID, userID); err != nil {
			return err
		}
		if err := tx.Invites().UpdateInviteFields(ctx, invite.CourseID, invite.ID, repository.InviteFields{UEID: &enrolment.ID}); err != nil {
			return err
		}

		accepted.UEID = &enrolment.ID
		result = EnrolmentResult{Invite: accepted, Enrolment: enrolment, Course: course}
		return nil
	})
	if errors.Is(err, errLostRace) {
		current, getErr := m.store.Invites().GetInviteByID(ctx, invite.ID)
		if getErr != nil {
			return EnrolmentResult{}, invite.CourseID, getErr
		}
		if classified := classify(current, now); classified != nil {
			return EnrolmentResult{}, invite.CourseID, classified
		}
		return EnrolmentResult{}, invite.CourseID, errors.Wrap(apperr.ErrAlreadyUsed, "invitation accepted concurrently")
	}
	if err != nil {
		return EnrolmentResult{}, invite.CourseID, err
	}
	return result, invite.CourseID, nil
}

// Revoke expires the invitation immediately. Revoking twice is a no-op.
func (m *Manager) Revoke(ctx context.Context, courseID, inviteID, actorID int64) (models.Invite, error) {
	invite, err := m.store.Invites().GetInvite(ctx, courseID, inviteID)
	if err != nil {
		return models.Invite{}, err
	}

	now := m.clock()
	switch Resolve(invite, now) {
	case StatusUsed:
		return models.Invite{}, errors.Wrap(apperr.ErrInvalidTransition, "an accepted invitation cannot be revoked")
	case StatusRevoked:
		return invite, nil
	}

	revoked := models.InviteStatusRevoked
	expiration := now.Add(-time.Second)
	err = m.store.Invites().UpdateInviteFields(ctx, courseID, inviteID, repository.InviteFields{
		Status:         &revoked,
		TimeExpiration: &expiration,
		RequirePending: true,
	})
	if errors.Is(err, apperr.ErrNotFound) {
		current, getErr := m.store.Invites().GetInvite(ctx, courseID, inviteID)
		if getErr != nil {
			return models.Invite{}, getErr
		}
		if current.IsRevoked() {
			return current, nil
		}
		return models.Invite{}, errors.Wrap(apperr.ErrInvalidTransition, "an accepted invitation cannot be revoked")
	}
	if err != nil {
		return models.Invite{}, err
	}

	invite.Status = revoked
	invite.TimeExpiration = expiration

	m.logger.Info().Int64("invite_id", invite.ID).Int64("actor_id", actorID).Msg("invitation revoked")
	actor := actorID
	if err := m.events.InvitationDeleted(ctx, invite, &actor); err != nil {
		m.logger.Warn().Err(err).Int64("invite_id", invite.ID).Msg("failed to record revocation")
	}
	return invite, nil
}

// Extend restarts the validity window of a pending invitation, rotates its
// token and mails the new link. A zero validity uses the course setting.
func (m *Manager) Extend(ctx context.Context, courseID, inviteID int64, validity time.Duration, actorID *int64) (models.Invite, string, error) {
	if validity != 0 && !ValidValidity(validity) {
		return models.Invite{}, "", apperr.Field("validity", "must be between 1 hour and 365 days")
	}

	invite, err := m.store.Invites().GetInvite(ctx, courseID, inviteID)
	if err != nil {
		return models.Invite{}, "", err
	}
	now := m.clock()
	switch Resolve(invite, now) {
	case StatusUsed:
		return models.Invite{}, "", errors.Wrap(apperr.ErrInvalidTransition, "an accepted invitation cannot be extended")
	case StatusRevoked:
		return models.Invite{}, "", errors.Wrap(apperr.ErrInvalidTransition, "a revoked invitation cannot be extended")
	}

	course, err := m.store.Directory().GetCourse(ctx, courseID)
	if err != nil {
		return models.Invite{}, "", err
	}
	if validity == 0 {
		validity = m.defaultValidity
		instance, err := m.store.Instances().GetInstanceByCourse(ctx, courseID)
		switch {
		case err == nil:
			validity = m.instanceValidity(instance)
		case !errors.Is(err, apperr.ErrNotFound):
			return models.Invite{}, "", err
		}
	}

	token, err := GenerateToken()
	if err != nil {
		return models.Invite{}, "", err
	}
	hash := m.hasher.Fingerprint(token)
	expiration := now.Add(validity)

	err = m.store.WithTx(ctx, func(tx repository.Store) error {
		active, err := tx.Invites().FindActiveInvite(ctx, courseID, invite.Email, now)
		switch {
		case err == nil && active.ID != invite.ID:
			return errors.Wrapf(apperr.ErrConflict, "another active invitation for %s exists", invite.Email)
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		err = tx.Invites().UpdateInviteFields(ctx, courseID, inviteID, repository.InviteFields{
			TokenHash:      &hash,
			TimeSent:       &now,
			TimeExpiration: &expiration,
			RequirePending: true,
		})
		if errors.Is(err, apperr.ErrNotFound) {
			return errors.Wrap(apperr.ErrInvalidTransition, "invitation is no longer pending")
		}
		return err
	})
	if err != nil {
		return models.Invite{}, "", err
	}

	invite.TokenHash = hash
	invite.TimeSent = now
	invite.TimeExpiration = expiration

	m.logger.Info().Int64("invite_id", invite.ID).Time("expires_at", expiration).Msg("invitation extended")
	m.emitSent(ctx, invite, actorID)
	m.deliver(ctx, invite, course, token)
	return invite, token, nil
}

// Prefill carries the fields of an old invitation into a new one.
type Prefill struct {
	InviteID int64  `json:"inviteid"`
	CourseID int64  `json:"courseid"`
	Email    string `json:"email"`
	RoleID   int64  `json:"roleid"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

// Resend returns the data needed to send a fresh invitation in place of an
// expired or revoked one. Nothing is written.
func (m *Manager) Resend(ctx context.Context, courseID, inviteID int64) (Prefill, error) {
	invite, err := m.store.Invites().GetInvite(ctx, courseID, inviteID)
	if err != nil {
		return Prefill{}, err
	}
	switch Resolve(invite, m.clock()) {
	case StatusActive:
		return Prefill{}, errors.Wrap(apperr.ErrInvalidTransition, "the invitation is still active; extend it instead")
	case StatusUsed:
		return Prefill{}, errors.Wrap(apperr.ErrInvalidTransition, "an accepted invitation cannot be resent")
	}
	return Prefill{
		InviteID: invite.ID,
		CourseID: invite.CourseID,
		Email:    invite.Email,
		RoleID:   invite.RoleID,
		Subject:  invite.Subject,
		Message:  invite.Message,
	}, nil
}

// List returns the invitations of a course, newest first.
func (m *Manager) List(ctx context.Context, courseID int64) ([]models.Invite, error) {
	if _, err := m.store.Directory().GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return m.store.Invites().ListInvitesByCourse(ctx, courseID)
}

type StatusInfo struct {
	Status Status `json:"status"`
	Label  string `json:"label"`
}

// Status resolves the invitation now and labels it in the requested language.
func (m *Manager) Status(invite models.Invite, lang string) StatusInfo {
	status := Resolve(invite, m.clock())
	return StatusInfo{Status: status, Label: m.statusLabel(status, lang)}
}

// Preview describes an active invitation to the holder of its token.
type Preview struct {
	CourseID       int64     `json:"courseid"`
	CourseName     string    `json:"course"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	TimeExpiration time.Time `json:"timeexpiration"`
}

func (m *Manager) Preview(ctx context.Context, token string) (Preview, error) {
	invite, err := m.lookupToken(ctx, token)
	if err != nil {
		return Preview{}, err
	}
	if err := classify(invite, m.clock()); err != nil {
		return Preview{}, err
	}
	course, err := m.store.Directory().GetCourse(ctx, invite.CourseID)
	if err != nil {
		return Preview{}, err
	}
	preview := Preview{
		CourseID:       invite.CourseID,
		CourseName:     course.FullName,
		Email:          invite.Email,
		TimeExpiration: invite.TimeExpiration,
	}
	if role, err := m.store.Directory().GetRole(ctx, invite.RoleID); err == nil {
		preview.Role = role.DisplayName()
	}
	return preview, nil
}

// AcceptURL builds the link mailed to invitees.
func (m *Manager) AcceptURL(token string) string {
	return fmt.Sprintf(m.acceptURL, token)
}

func (m *Manager) lookupToken(ctx context.Context, token string) (models.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Invite{}, errors.Wrap(apperr.ErrInvalidToken, "token is required")
	}
	invite, err := m.store.Invites().GetInviteByTokenHash(ctx, m.hasher.Fingerprint(token))
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Invite{}, errors.Wrap(apperr.ErrInvalidToken, "unknown invitation token")
	}
	return invite, err
}

func (m *Manager) enabledInstance(ctx context.Context, courseID int64) (models.EnrolInstance, error) {
	instance, err := m.store.Instances().GetInstanceByCourse(ctx, courseID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return models.EnrolInstance{}, err
	}
	if err != nil || !instance.Enabled() {
		return models.EnrolInstance{}, apperr.Field("courseid", "invitation enrolment is not enabled for this course")
	}
	return instance, nil
}

func (m *Manager) instanceValidity(instance models.EnrolInstance) time.Duration {
	if ValidValidity(instance.InviteValidity) {
		return instance.InviteValidity
	}
	return m.defaultValidity
}

// clock returns the current time at the store's one-second resolution.
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Second)
}

func (m *Manager) emitSent(ctx context.Context, invite models.Invite, actorID *int64) {
	if err := m.events.InvitationSent(ctx, invite, actorID); err != nil {
		m.logger.Warn().Err(err).Int64("invite_id", invite.ID).Msg("failed to record sent invitation")
	}
}

// deliver mails the acceptance link. Failures are logged; the invitation
// stays in history and can be extended to send a new link.
func (m *Manager) deliver(ctx context.Context, invite models.Invite, course models.Course, token string) {
	if m.mailer == nil {
		m.logger.Warn().Int64("invite_id", invite.ID).Msg("no invitation mailer configured; email not sent")
		return
	}
	err := m.mailer.SendInvite(ctx, notification.InviteMessage{
		To:         invite.Email,
		CourseName: course.FullName,
		Subject:    invite.Subject,
		Message:    invite.Message,
		AcceptURL:  m.AcceptURL(token),
		ExpiresAt:  invite.TimeExpiration,
	})
	if err != nil {
		m.logger.Error().Err(err).Int64("invite_id", invite.ID).Str("email", invite.Email).Msg("failed to send invitation email")
	}
}

// classify maps a non-redeemable invitation to its acceptance error.
func classify(invite models.Invite, now time.Time) error {
	switch Resolve(invite, now) {
	case StatusUsed:
		return errors.Wrap(apperr.ErrAlreadyUsed, "invitation has already been used")
	case StatusRevoked:
		return errors.Wrap(apperr.ErrInvalidToken, "invitation has been revoked")
	case StatusExpired:
		return errors.Wrap(apperr.ErrExpired, "invitation has expired")
	default:
		return nil
	}
}

func failureReason(err error) string {
	for _, sentinel := range []error{
		apperr.ErrInvalidToken,
		apperr.ErrExpired,
		apperr.ErrAlreadyUsed,
		apperr.ErrPermissionDenied,
		apperr.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, apperr.ErrValidation) {
		return err.Error()
	}
	return "internal error"
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", err
	}
	if addr.Address != email {
		return "", errors.Errorf("%q is not a bare address", raw)
	}
	return email, nil
}

type nopSink struct{}

func (nopSink) InvitationSent(context.Context, models.Invite, *int64) error         { return nil }
func (nopSink) InvitationAccepted(context.Context, models.Invite, int64) error      { return nil }
func (nopSink) InvitationAcceptFailed(context.Context, int64, *int64, string) error { return nil }
func (nopSink) InvitationDeleted(context.Context, models.Invite, *int64) error      { return nil }
