package invitation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/invitation"
	"github.com/stanstork/invitation-api/internal/models"
	"github.com/stanstork/invitation-api/internal/notification"
	"github.com/stanstork/invitation-api/internal/repository/repotest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sinkCall struct {
	kind     string
	courseID int64
	inviteID int64
	userID   *int64
	reason   string
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordingSink) record(call sinkCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return nil
}

func (s *recordingSink) InvitationSent(_ context.Context, invite models.Invite, actorID *int64) error {
	return s.record(sinkCall{kind: "sent", courseID: invite.CourseID, inviteID: invite.ID, userID: actorID})
}

func (s *recordingSink) InvitationAccepted(_ context.Context, invite models.Invite, userID int64) error {
	return s.record(sinkCall{kind: "accepted", courseID: invite.CourseID, inviteID: invite.ID, userID: &userID})
}

func (s *recordingSink) InvitationAcceptFailed(_ context.Context, courseID int64, userID *int64, reason string) error {
	return s.record(sinkCall{kind: "failed", courseID: courseID, userID: userID, reason: reason})
}

func (s *recordingSink) InvitationDeleted(_ context.Context, invite models.Invite, actorID *int64) error {
	return s.record(sinkCall{kind: "deleted", courseID: invite.CourseID, inviteID: invite.ID, userID: actorID})
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, call.kind)
	}
	return out
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []notification.InviteMessage
	err      error
}

func (m *recordingMailer) SendInvite(_ context.Context, msg notification.InviteMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

type harness struct {
	fx      repotest.Fixture
	manager *invitation.Manager
	clock   *clock
	sink    *recordingSink
	mailer  *recordingMailer
}

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fx:     repotest.New(t),
		clock:  &clock{now: start},
		sink:   &recordingSink{},
		mailer: &recordingMailer{},
	}
	manager, err := invitation.NewManager(h.fx.Store, h.sink,
		invitation.WithClock(h.clock.Now),
		invitation.WithMailer(h.mailer),
		invitation.WithTokenKey([]byte("test-key")),
		invitation.WithAcceptURLTemplate("https://learn.example.com/invite/%s"),
	)
	require.NoError(t, err)
	h.manager = manager
	return h
}

func (h *harness) create(t *testing.T, email string) (models.Invite, string) {
	t.Helper()
	teacher := repotest.TeacherID
	invite, token, err := h.manager.Create(context.Background(), invitation.CreateInput{
		CourseID:  repotest.CourseID,
		Email:     email,
		CreatorID: &teacher,
	})
	require.NoError(t, err)
	return invite, token
}

func TestNewManagerOptions(t *testing.T) {
	fx := repotest.New(t)

	_, err := invitation.NewManager(nil, nil)
	require.Error(t, err)

	_, err = invitation.NewManager(fx.Store, nil, invitation.WithTokenKey(make([]byte, 65)))
	require.Error(t, err)

	_, err = invitation.NewManager(fx.Store, nil, invitation.WithAcceptURLTemplate("https://example.com/"))
	require.Error(t, err)

	_, err = invitation.NewManager(fx.Store, nil, invitation.WithDefaultValidity(time.Minute))
	require.Error(t, err)

	m, err := invitation.NewManager(fx.Store, nil, nil, invitation.WithDefaultValidity(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "/api/invitations/abc", m.AcceptURL("abc"))
}

func TestCreateRevokeAcceptScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	teacher := repotest.TeacherID
	invite, token, err := h.manager.Create(ctx, invitation.CreateInput{
		CourseID:  repotest.CourseID,
		Email:     " A@X.com ",
		RoleID:    repotest.RoleStudent,
		CreatorID: &teacher,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "a@x.com", invite.Email)
	require.Equal(t, repotest.RoleStudent, invite.RoleID)
	require.NotEqual(t, token, invite.TokenHash)
	require.Equal(t, start, invite.TimeSent)
	require.Equal(t, start.Add(repotest.DefaultValidity), invite.TimeExpiration)
	require.Equal(t, "Join Algebra I", invite.Subject)
	require.Equal(t, "See you in class.", invite.Message)

	require.Equal(t, invitation.StatusActive, h.manager.Status(invite, "").Status)
	require.Equal(t, "Active", h.manager.Status(invite, "en").Label)

	require.Len(t, h.mailer.messages, 1)
	msg := h.mailer.messages[0]
	require.Equal(t, "a@x.com", msg.To)
	require.Equal(t, "Algebra I", msg.CourseName)
	require.Equal(t, "https://learn.example.com/invite/"+token, msg.AcceptURL)
	require.Equal(t, invite.TimeExpiration, msg.ExpiresAt)

	revoked, err := h.manager.Revoke(ctx, repotest.CourseID, invite.ID, repotest.TeacherID)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusRevoked, revoked.Status)
	require.Equal(t, invitation.StatusRevoked, h.manager.Status(revoked, "").Status)
	require.True(t, revoked.TimeExpiration.Before(start))

	_, err = h.manager.Accept(ctx, token, repotest.AdaID, 0)
	require.ErrorIs(t, err, apperr.ErrInvalidToken)

	require.Equal(t, []string{"sent", "deleted", "failed"}, h.sink.kinds())
	failed := h.sink.calls[2]
	require.Equal(t, repotest.CourseID, failed.courseID)
	require.Equal(t, apperr.ErrInvalidToken.Error(), failed.reason)
	require.NotNil(t, failed.userID)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, _, err := h.manager.Create(ctx, invitation.CreateInput{CourseID: repotest.CourseID, Email: "not an email", Validity: time.Minute})
	fields, ok := apperr.FieldsOf(err)
	require.True(t, ok)
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "validity")

	_, _, err = h.manager.Create(ctx, invitation.CreateInput{CourseID: repotest.CourseID, Email: "Ada <a@x.com>"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = h.manager.Create(ctx, invitation.CreateInput{CourseID: repotest.CourseID, Email: "a@x.com", RoleID: 99})
	fields, ok = apperr.FieldsOf(err)
	require.True(t, ok)
	require.Contains(t, fields, "roleid")

	_, _, err = h.manager.Create(ctx, invitation.CreateInput{CourseID: repotest.OtherCourseID, Email: "a@x.com"})
	fields, ok = apperr.FieldsOf(err)
	require.True(t, ok)
	require.Contains(t, fields, "courseid")

	_, _, err = h.manager.Create(ctx, invitation.CreateInput{CourseID: 404, Email: "a@x.com"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.Empty(t, h.sink.kinds())
	require.Empty(t, h.mailer.messages)
}

func TestCreateDisabledInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	instance := h.fx.Instance
	instance.Status = models.InstanceStatusDisabled
	_, err := h.fx.Store.Instances().UpdateInstance(ctx, instance)
	require.NoError(t, err)

	_, _, err = h.manager.Create(ctx, invitation.CreateInput{CourseID: repotest.CourseID, Email: "a@x.com"})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateRejectsSecondActiveInvite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, _ := h.create(t, "a@x.com")

	_, _, err := h.manager.Create(ctx, invitation.CreateInput{CourseID: repotest.CourseID, Email: "a@x.com"})
	require.ErrorIs(t, err, apperr.ErrConflict)

	h.clock.Advance(repotest.DefaultValidity)
	second, _, err := h.manager.Create(ctx, invitation.CreateInput{
		CourseID: repotest.CourseID,
		Email:    "a@x.com",
		Subject:  "Second chance",
		Validity: 2 * time.Hour,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, "Second chance", second.Subject)
	require.Equal(t, h.clock.Now().Add(2*time.Hour), second.TimeExpiration)
}

func TestCreateMailFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = errors.New("relay refused")

	invite, token := h.create(t, "a@x.com")
	require.NotZero(t, invite.ID)
	require.NotEmpty(t, token)
	require.Equal(t, []string{"sent"}, h.sink.kinds())
}

func TestAcceptEnrolsUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	instance := h.fx.Instance
	instance.EnrolPeriod = 30 * 24 * time.Hour
	_, err := h.fx.Store.Instances().UpdateInstance(ctx, instance)
	require.NoError(t, err)

	invite, token := h.create(t, "a@x.com")
	h.clock.Advance(time.Hour)

	result, err := h.manager.Accept(ctx, token, repotest.AdaID, repotest.CourseID)
	require.NoError(t, err)
	now := h.clock.Now()

	require.Equal(t, invite.ID, result.Invite.ID)
	require.Equal(t, repotest.AdaID, *result.Invite.UserID)
	require.Equal(t, models.InviteStatusAccepted, result.Invite.Status)
	require.Equal(t, result.Enrolment.ID, *result.Invite.UEID)
	require.Equal(t, "Algebra I", result.Course.FullName)

	require.Equal(t, models.EnrolmentStatusActive, result.Enrolment.Status)
	require.Equal(t, now, result.Enrolment.TimeStart)
	require.Equal(t, now.Add(30*24*time.Hour), result.Enrolment.TimeEnd)
	require.Equal(t, repotest.CourseID, result.Enrolment.CourseID)

	stored, err := h.fx.Store.Invites().GetInvite(ctx, repotest.CourseID, invite.ID)
	require.NoError(t, err)
	require.Equal(t, invitation.StatusUsed, invitation.Resolve(stored, now))
	require.Equal(t, result.Enrolment.ID, *stored.UEID)

	archetypes, err := h.fx.Store.Directory().CourseArchetypes(ctx, repotest.CourseID, repotest.AdaID)
	require.NoError(t, err)
	require.Equal(t, []models.Archetype{models.ArchetypeStudent}, archetypes)

	_, err = h.manager.Accept(ctx, token, repotest.BobID, 0)
	require.ErrorIs(t, err, apperr.ErrAlreadyUsed)

	require.Equal(t, []string{"sent", "accepted", "failed"}, h.sink.kinds())
}

func TestAcceptRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, token := h.create(t, "a@x.com")

	_, err := h.manager.Accept(ctx, "", repotest.AdaID, 0)
	require.ErrorIs(t, err, apperr.ErrInvalidToken)

	_, err = h.manager.Accept(ctx, "bogus", repotest.AdaID, 0)
	require.ErrorIs(t, err, apperr.ErrInvalidToken)

	_, err = h.manager.Accept(ctx, token, repotest.AdaID, repotest.OtherCourseID)
	require.ErrorIs(t, err, apperr.ErrInvalidToken)

	_, err = h.manager.Accept(ctx, token, 0, 0)
	require.ErrorIs(t, err, apperr.ErrPermissionDenied)
	anonymous := h.sink.calls[len(h.sink.calls)-1]
	require.Nil(t, anonymous.userID)

	h.clock.Advance(repotest.DefaultValidity)
	_, err = h.manager.Accept(ctx, token, repotest.AdaID, 0)
	require.ErrorIs(t, err, apperr.ErrExpired)
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, token := h.create(t, "a@x.com")

	users := []int64{repotest.AdaID, repotest.BobID}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			_, errs[i] = h.manager.Accept(ctx, token, userID, 0)
		}(i, userID)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrAlreadyUsed)
	}
	require.Equal(t, 1, succeeded)
}

func TestRevokeTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, _ := h.create(t, "a@x.com")

	first, err := h.manager.Revoke(ctx, repotest.CourseID, invite.ID, repotest.TeacherID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	second, err := h.manager.Revoke(ctx, repotest.CourseID, invite.ID, repotest.TeacherID)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusRevoked, second.Status)
	require.Equal(t, first.TimeExpiration, second.TimeExpiration)

	require.Equal(t, []string{"sent", "deleted"}, h.sink.kinds())
}

func TestAcceptedInviteCannotChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, token := h.create(t, "a@x.com")

	_, err := h.manager.Accept(ctx, token, repotest.AdaID, 0)
	require.NoError(t, err)

	_, err = h.manager.Revoke(ctx, repotest.CourseID, invite.ID, repotest.TeacherID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, _, err = h.manager.Extend(ctx, repotest.CourseID, invite.ID, 0, nil)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = h.manager.Resend(ctx, repotest.CourseID, invite.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	// Past its expiry the accepted invite still resolves as used.
	h.clock.Advance(2 * repotest.DefaultValidity)
	stored, err := h.fx.Store.Invites().GetInvite(ctx, repotest.CourseID, invite.ID)
	require.NoError(t, err)
	require.Equal(t, invitation.StatusUsed, h.manager.Status(stored, "").Status)
}

func TestExtendExpiredInvite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, oldToken := h.create(t, "a@x.com")

	h.clock.Advance(repotest.DefaultValidity + time.Hour)
	stored, err := h.fx.Store.Invites().GetInvite(ctx, repotest.CourseID, invite.ID)
	require.NoError(t, err)
	require.Equal(t, invitation.StatusExpired, h.manager.Status(stored, "").Status)

	actor := repotest.TeacherID
	extended, newToken, err := h.manager.Extend(ctx, repotest.CourseID, invite.ID, 48*time.Hour, &actor)
	require.NoError(t, err)
	now := h.clock.Now()
	require.NotEqual(t, oldToken, newToken)
	require.Equal(t, now, extended.TimeSent)
	require.Equal(t, now.Add(48*time.Hour), extended.TimeExpiration)
	require.Equal(t, models.InviteStatusPending, extended.Status)

	stored, err = h.fx.Store.Invites().GetInvite(ctx, repotest.CourseID, invite.ID)
	require.NoError(t, err)
	require.Equal(t, invitation.StatusActive, invitation.Resolve(stored, now))
	require.Equal(t, now.Add(48*time.Hour), stored.TimeExpiration)

	require.Len(t, h.mailer.messages, 2)
	require.Contains(t, h.mailer.messages[1].AcceptURL, newToken)

	_, err = h.manager.Accept(ctx, oldToken, repotest.AdaID, 0)
	require.ErrorIs(t, err, apperr.ErrInvalidToken)

	_, err = h.manager.Accept(ctx, newToken, repotest.AdaID, 0)
	require.NoError(t, err)
}

func TestExtendUsesInstanceValidity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, _ := h.create(t, "a@x.com")

	h.clock.Advance(24 * time.Hour)
	extended, _, err := h.manager.Extend(ctx, repotest.CourseID, invite.ID, 0, nil)
	require.NoError(t, err)
	require.Equal(t, h.clock.Now().Add(repotest.DefaultValidity), extended.TimeExpiration)

	_, _, err = h.manager.Extend(ctx, repotest.CourseID, invite.ID, 400*24*time.Hour, nil)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExtendRevokedFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, _ := h.create(t, "a@x.com")

	_, err := h.manager.Revoke(ctx, repotest.CourseID, invite.ID, repotest.TeacherID)
	require.NoError(t, err)

	_, _, err = h.manager.Extend(ctx, repotest.CourseID, invite.ID, 0, nil)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestExtendConflictsWithNewerActiveInvite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	old, _ := h.create(t, "a@x.com")

	h.clock.Advance(repotest.DefaultValidity)
	h.create(t, "a@x.com")

	_, _, err := h.manager.Extend(ctx, repotest.CourseID, old.ID, 0, nil)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestResend(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, _ := h.create(t, "a@x.com")

	_, err := h.manager.Resend(ctx, repotest.CourseID, invite.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = h.manager.Revoke(ctx, repotest.CourseID, invite.ID, repotest.TeacherID)
	require.NoError(t, err)

	prefill, err := h.manager.Resend(ctx, repotest.CourseID, invite.ID)
	require.NoError(t, err)
	require.Equal(t, invitation.Prefill{
		InviteID: invite.ID,
		CourseID: repotest.CourseID,
		Email:    "a@x.com",
		RoleID:   repotest.RoleStudent,
		Subject:  "Join Algebra I",
		Message:  "See you in class.",
	}, prefill)

	_, err = h.manager.Resend(ctx, repotest.OtherCourseID, invite.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invite, token := h.create(t, "a@x.com")

	preview, err := h.manager.Preview(ctx, token)
	require.NoError(t, err)
	require.Equal(t, invitation.Preview{
		CourseID:       repotest.CourseID,
		CourseName:     "Algebra I",
		Email:          "a@x.com",
		Role:           "Student",
		TimeExpiration: invite.TimeExpiration,
	}, preview)

	h.clock.Advance(repotest.DefaultValidity)
	_, err = h.manager.Preview(ctx, token)
	require.ErrorIs(t, err, apperr.ErrExpired)
}
