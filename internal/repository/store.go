package repository

import (
	"context"
	"time"

	"github.com/stanstork/invitation-api/internal/models"
)

// Store is the root data access handle. Each concern lives in its own
// repository so a transaction can hand out the same set scoped to the tx.
type Store interface {
	Invites() InviteRepository
	Enrolments() EnrolmentRepository
	Instances() InstanceRepository
	Directory() DirectoryRepository
	Events() EventRepository

	// WithTx runs fn inside a transaction. The Store passed to fn is bound to
	// the transaction and must be the only handle fn uses. Nested calls fail.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}

// InviteFields lists the columns UpdateInviteFields may change. Nil fields
// are left untouched. RequirePending restricts the update to invites that
// are still pending and unused.
type InviteFields struct {
	TokenHash      *string
	TimeSent       *time.Time
	TimeExpiration *time.Time
	Status         *models.InviteStatus
	UEID           *int64
	ClearUEID      bool

	RequirePending bool
}

func (f InviteFields) empty() bool {
	return f.TokenHash == nil && f.TimeSent == nil && f.TimeExpiration == nil &&
		f.Status == nil && f.UEID == nil && !f.ClearUEID
}

type InviteRepository interface {
	CreateInvite(ctx context.Context, invite models.Invite) (models.Invite, error)
	GetInvite(ctx context.Context, courseID, inviteID int64) (models.Invite, error)
	GetInviteByID(ctx context.Context, inviteID int64) (models.Invite, error)
	GetInviteByTokenHash(ctx context.Context, tokenHash string) (models.Invite, error)
	// ListInvitesByCourse returns invites newest first.
	ListInvitesByCourse(ctx context.Context, courseID int64) ([]models.Invite, error)
	// FindActiveInvite returns the pending, unexpired, unused invite for an address, if any.
	FindActiveInvite(ctx context.Context, courseID int64, email string, now time.Time) (models.Invite, error)
	// UpdateInviteFields returns apperr.ErrNotFound when no row matched.
	UpdateInviteFields(ctx context.Context, courseID, inviteID int64, fields InviteFields) error
	// MarkInviteAccepted records the redeeming user only while the invite is
	// still pending, unused and unexpired. It returns apperr.ErrNotFound when
	// no row qualified.
	MarkInviteAccepted(ctx context.Context, inviteID, userID int64, now time.Time) (models.Invite, error)
	ClearEnrolmentLink(ctx context.Context, ueID int64) error
}

type EnrolmentRepository interface {
	GetEnrolment(ctx context.Context, ueID int64) (models.UserEnrolment, error)
	GetEnrolmentByUser(ctx context.Context, enrolID, userID int64) (models.UserEnrolment, error)
	// UpsertEnrolment creates the enrolment or refreshes the existing one for the same user.
	UpsertEnrolment(ctx context.Context, ue models.UserEnrolment) (models.UserEnrolment, error)
	UpdateEnrolment(ctx context.Context, ue models.UserEnrolment) (models.UserEnrolment, error)
	DeleteEnrolment(ctx context.Context, ueID int64) error
}

type InstanceRepository interface {
	GetInstanceByCourse(ctx context.Context, courseID int64) (models.EnrolInstance, error)
	GetInstanceByID(ctx context.Context, enrolID int64) (models.EnrolInstance, error)
	CreateInstance(ctx context.Context, instance models.EnrolInstance) (models.EnrolInstance, error)
	UpdateInstance(ctx context.Context, instance models.EnrolInstance) (models.EnrolInstance, error)
}

// DirectoryRepository reads courses, users and roles owned by the wider
// platform. Role assignments are the only records it writes.
type DirectoryRepository interface {
	GetCourse(ctx context.Context, courseID int64) (models.Course, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
	GetRole(ctx context.Context, roleID int64) (models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	AssignRole(ctx context.Context, courseID, roleID, userID int64) error
	UnassignRoles(ctx context.Context, courseID, userID int64) error
	CourseArchetypes(ctx context.Context, courseID, userID int64) ([]models.Archetype, error)
}

type EventRepository interface {
	CreateEvent(ctx context.Context, event models.Event) (models.Event, error)
	ListRecentEvents(ctx context.Context, courseID int64, limit int) ([]models.Event, error)
}
