package repository_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/models"
	"github.com/stanstork/invitation-api/internal/repository"
	"github.com/stanstork/invitation-api/internal/repository/repotest"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newInvite(email, token string, sent time.Time) models.Invite {
	creator := repotest.TeacherID
	return models.Invite{
		CourseID:       repotest.CourseID,
		Email:          email,
		RoleID:         repotest.RoleStudent,
		TokenHash:      token,
		CreatorID:      &creator,
		Subject:        "Welcome",
		TimeSent:       sent,
		TimeExpiration: sent.Add(repotest.DefaultValidity),
	}
}

func TestInviteRepository(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)
	invites := fx.Store.Invites()

	first, err := invites.CreateInvite(ctx, newInvite(" A@X.com ", "hash-1", baseTime))
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.Equal(t, "a@x.com", first.Email)
	require.Equal(t, models.InviteStatusPending, first.Status)
	require.Nil(t, first.UserID)
	require.Equal(t, baseTime, first.TimeSent)
	require.NotNil(t, first.CreatorID)

	second, err := invites.CreateInvite(ctx, newInvite("b@x.com", "hash-2", baseTime.Add(time.Hour)))
	require.NoError(t, err)

	t.Run("duplicate token is a conflict", func(t *testing.T) {
		_, err := invites.CreateInvite(ctx, newInvite("c@x.com", "hash-1", baseTime))
		require.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("lookup by token", func(t *testing.T) {
		got, err := invites.GetInviteByTokenHash(ctx, "hash-2")
		require.NoError(t, err)
		require.Equal(t, second.ID, got.ID)

		_, err = invites.GetInviteByTokenHash(ctx, "missing")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("lookup is scoped to the course", func(t *testing.T) {
		_, err := invites.GetInvite(ctx, repotest.OtherCourseID, first.ID)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("list is newest first", func(t *testing.T) {
		list, err := invites.ListInvitesByCourse(ctx, repotest.CourseID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, second.ID, list[0].ID)
		require.Equal(t, first.ID, list[1].ID)
	})

	t.Run("find active invite", func(t *testing.T) {
		got, err := invites.FindActiveInvite(ctx, repotest.CourseID, "A@x.com", baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, first.ID, got.ID)

		_, err = invites.FindActiveInvite(ctx, repotest.CourseID, "a@x.com", first.TimeExpiration)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("update fields", func(t *testing.T) {
		revoked := models.InviteStatusRevoked
		expiry := baseTime.Add(-time.Second)
		require.NoError(t, invites.UpdateInviteFields(ctx, repotest.CourseID, second.ID, repository.InviteFields{
			Status:         &revoked,
			TimeExpiration: &expiry,
		}))

		got, err := invites.GetInvite(ctx, repotest.CourseID, second.ID)
		require.NoError(t, err)
		require.Equal(t, models.InviteStatusRevoked, got.Status)
		require.Equal(t, expiry, got.TimeExpiration)
		require.Equal(t, second.TokenHash, got.TokenHash)

		err = invites.UpdateInviteFields(ctx, repotest.OtherCourseID, second.ID, repository.InviteFields{Status: &revoked})
		require.ErrorIs(t, err, apperr.ErrNotFound)

		pending := models.InviteStatusPending
		err = invites.UpdateInviteFields(ctx, repotest.CourseID, second.ID, repository.InviteFields{Status: &pending, RequirePending: true})
		require.ErrorIs(t, err, apperr.ErrNotFound)

		taken := "hash-1"
		err = invites.UpdateInviteFields(ctx, repotest.CourseID, second.ID, repository.InviteFields{TokenHash: &taken})
		require.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("mark accepted only once", func(t *testing.T) {
		now := baseTime.Add(time.Hour)
		accepted, err := invites.MarkInviteAccepted(ctx, first.ID, repotest.AdaID, now)
		require.NoError(t, err)
		require.Equal(t, models.InviteStatusAccepted, accepted.Status)
		require.NotNil(t, accepted.UserID)
		require.Equal(t, repotest.AdaID, *accepted.UserID)
		require.NotNil(t, accepted.TimeUsed)
		require.Equal(t, now, *accepted.TimeUsed)

		_, err = invites.MarkInviteAccepted(ctx, first.ID, repotest.BobID, now)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("revoked invite cannot be accepted", func(t *testing.T) {
		_, err := invites.MarkInviteAccepted(ctx, second.ID, repotest.BobID, baseTime)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestMarkInviteAcceptedRejectsExpired(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)

	invite, err := fx.Store.Invites().CreateInvite(ctx, newInvite("a@x.com", "hash-exp", baseTime))
	require.NoError(t, err)

	_, err = fx.Store.Invites().MarkInviteAccepted(ctx, invite.ID, repotest.AdaID, invite.TimeExpiration)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkInviteAcceptedSingleWinner(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)

	invite, err := fx.Store.Invites().CreateInvite(ctx, newInvite("a@x.com", "hash-race", baseTime))
	require.NoError(t, err)

	users := []int64{repotest.AdaID, repotest.BobID, repotest.TeacherID, repotest.ManagerID}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			_, errs[i] = fx.Store.Invites().MarkInviteAccepted(ctx, invite.ID, userID, baseTime.Add(time.Minute))
		}(i, userID)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrNotFound)
	}
	require.Equal(t, 1, successes)
}

func TestEnrolmentRepository(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)
	enrolments := fx.Store.Enrolments()

	ue, err := enrolments.UpsertEnrolment(ctx, models.UserEnrolment{
		EnrolID:      fx.Instance.ID,
		UserID:       repotest.AdaID,
		Status:       models.EnrolmentStatusActive,
		TimeStart:    baseTime,
		TimeCreated:  baseTime,
		TimeModified: baseTime,
	})
	require.NoError(t, err)
	require.Equal(t, repotest.CourseID, ue.CourseID)
	require.True(t, ue.TimeEnd.IsZero())

	again, err := enrolments.UpsertEnrolment(ctx, models.UserEnrolment{
		EnrolID:      fx.Instance.ID,
		UserID:       repotest.AdaID,
		Status:       models.EnrolmentStatusActive,
		TimeStart:    baseTime.Add(time.Hour),
		TimeEnd:      baseTime.Add(48 * time.Hour),
		TimeCreated:  baseTime.Add(time.Hour),
		TimeModified: baseTime.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, ue.ID, again.ID)
	require.Equal(t, baseTime, again.TimeCreated)
	require.Equal(t, baseTime.Add(48*time.Hour), again.TimeEnd)

	byUser, err := enrolments.GetEnrolmentByUser(ctx, fx.Instance.ID, repotest.AdaID)
	require.NoError(t, err)
	require.Equal(t, ue.ID, byUser.ID)

	again.Status = models.EnrolmentStatusSuspended
	again.TimeModified = baseTime.Add(2 * time.Hour)
	updated, err := enrolments.UpdateEnrolment(ctx, again)
	require.NoError(t, err)
	require.Equal(t, models.EnrolmentStatusSuspended, updated.Status)

	// Deleting the enrolment detaches any invite pointing at it.
	invite, err := fx.Store.Invites().CreateInvite(ctx, newInvite("a@x.com", "hash-ue", baseTime))
	require.NoError(t, err)
	require.NoError(t, fx.Store.Invites().UpdateInviteFields(ctx, repotest.CourseID, invite.ID, repository.InviteFields{UEID: &ue.ID}))

	require.NoError(t, fx.Store.Invites().ClearEnrolmentLink(ctx, ue.ID))
	require.NoError(t, enrolments.DeleteEnrolment(ctx, ue.ID))
	_, err = enrolments.GetEnrolment(ctx, ue.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, enrolments.DeleteEnrolment(ctx, ue.ID), apperr.ErrNotFound)

	got, err := fx.Store.Invites().GetInvite(ctx, repotest.CourseID, invite.ID)
	require.NoError(t, err)
	require.Nil(t, got.UEID)
}

func TestInstanceRepository(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)
	instances := fx.Store.Instances()

	got, err := instances.GetInstanceByCourse(ctx, repotest.CourseID)
	require.NoError(t, err)
	require.Equal(t, fx.Instance, got)
	require.Equal(t, repotest.DefaultValidity, got.InviteValidity)

	_, err = instances.GetInstanceByCourse(ctx, repotest.OtherCourseID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = instances.CreateInstance(ctx, models.EnrolInstance{CourseID: repotest.CourseID, RoleID: repotest.RoleStudent})
	require.ErrorIs(t, err, apperr.ErrConflict)

	got.Status = models.InstanceStatusDisabled
	got.EnrolPeriod = 30 * 24 * time.Hour
	updated, err := instances.UpdateInstance(ctx, got)
	require.NoError(t, err)
	require.False(t, updated.Enabled())
	require.Equal(t, 30*24*time.Hour, updated.EnrolPeriod)

	byID, err := instances.GetInstanceByID(ctx, got.ID)
	require.NoError(t, err)
	require.Equal(t, updated, byID)
}

func TestDirectoryRepository(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)
	dir := fx.Store.Directory()

	course, err := dir.GetCourse(ctx, repotest.CourseID)
	require.NoError(t, err)
	require.Equal(t, "Algebra I", course.FullName)

	_, err = dir.GetCourse(ctx, 999)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	user, err := dir.GetUser(ctx, repotest.AdaID)
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", user.FullName())

	role, err := dir.GetRole(ctx, repotest.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, models.ArchetypeStudent, role.Archetype)

	roles, err := dir.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)

	archetypes, err := dir.CourseArchetypes(ctx, repotest.CourseID, repotest.TeacherID)
	require.NoError(t, err)
	require.Equal(t, []models.Archetype{models.ArchetypeEditingTeacher}, archetypes)

	require.NoError(t, dir.AssignRole(ctx, repotest.CourseID, repotest.RoleStudent, repotest.AdaID))
	require.NoError(t, dir.AssignRole(ctx, repotest.CourseID, repotest.RoleStudent, repotest.AdaID))
	archetypes, err = dir.CourseArchetypes(ctx, repotest.CourseID, repotest.AdaID)
	require.NoError(t, err)
	require.Equal(t, []models.Archetype{models.ArchetypeStudent}, archetypes)

	require.NoError(t, dir.UnassignRoles(ctx, repotest.CourseID, repotest.AdaID))
	archetypes, err = dir.CourseArchetypes(ctx, repotest.CourseID, repotest.AdaID)
	require.NoError(t, err)
	require.Empty(t, archetypes)
}

func TestEventRepository(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)
	events := fx.Store.Events()

	actor := repotest.TeacherID
	for i := 0; i < 3; i++ {
		inviteID := int64(i + 1)
		_, err := events.CreateEvent(ctx, models.Event{
			Name:        models.EventInvitationSent,
			CRUD:        models.CRUDCreate,
			CourseID:    repotest.CourseID,
			UserID:      &actor,
			ObjectID:    &inviteID,
			Other:       []byte(`{"email":"a@x.com"}`),
			TimeCreated: baseTime.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := events.CreateEvent(ctx, models.Event{
		Name:        models.EventInvitationAccepted,
		CRUD:        models.CRUDRead,
		CourseID:    repotest.OtherCourseID,
		TimeCreated: baseTime,
	})
	require.NoError(t, err)

	list, err := events.ListRecentEvents(ctx, repotest.CourseID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, baseTime.Add(2*time.Minute), list[0].TimeCreated)
	require.NotEmpty(t, list[0].ID)
	require.JSONEq(t, `{"email":"a@x.com"}`, string(list[0].Other))
	require.Equal(t, int64(3), *list[0].ObjectID)

	other, err := events.ListRecentEvents(ctx, repotest.OtherCourseID, 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.Nil(t, other[0].UserID)
	require.Empty(t, other[0].Other)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	fx := repotest.New(t)

	boom := errors.New("boom")
	err := fx.Store.WithTx(ctx, func(tx repository.Store) error {
		_, err := tx.Invites().CreateInvite(ctx, newInvite("a@x.com", "hash-tx", baseTime))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := fx.Store.Invites().ListInvitesByCourse(ctx, repotest.CourseID)
	require.NoError(t, err)
	require.Empty(t, list)

	err = fx.Store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Invites().CreateInvite(ctx, newInvite("a@x.com", "hash-tx", baseTime)); err != nil {
			return err
		}
		return tx.WithTx(ctx, func(repository.Store) error { return nil })
	})
	require.ErrorIs(t, err, sql.ErrTxDone)

	require.NoError(t, fx.Store.WithTx(ctx, func(tx repository.Store) error {
		_, err := tx.Invites().CreateInvite(ctx, newInvite("a@x.com", "hash-tx", baseTime))
		return err
	}))
	list, err = fx.Store.Invites().ListInvitesByCourse(ctx, repotest.CourseID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
