package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/models"
)

type inviteRepository struct {
	conn conn
}

const inviteColumns = `id, courseid, email, roleid, token, creatorid, subject, message,
		timesent, timeexpiration, status, userid, ueid, timeused`

func (r *inviteRepository) CreateInvite(ctx context.Context, invite models.Invite) (models.Invite, error) {
	const query = `
		INSERT INTO enrol_invitations (courseid, email, roleid, token, creatorid, subject, message, timesent, timeexpiration, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + inviteColumns

	status := invite.Status
	if status == "" {
		status = models.InviteStatusPending
	}

	row := r.conn.queryRow(ctx, query,
		invite.CourseID,
		strings.ToLower(strings.TrimSpace(invite.Email)),
		invite.RoleID,
		invite.TokenHash,
		nullInt64(invite.CreatorID),
		invite.Subject,
		invite.Message,
		toUnix(invite.TimeSent),
		toUnix(invite.TimeExpiration),
		string(status),
	)
	created, err := scanInvite(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Invite{}, errors.Wrap(apperr.ErrConflict, "invitation token already exists")
		}
		return models.Invite{}, errors.Wrap(err, "insert invitation")
	}
	return created, nil
}

func (r *inviteRepository) GetInvite(ctx context.Context, courseID, inviteID int64) (models.Invite, error) {
	const query = `SELECT ` + inviteColumns + ` FROM enrol_invitations WHERE courseid = $1 AND id = $2`

	invite, err := scanInvite(r.conn.queryRow(ctx, query, courseID, inviteID))
	if err != nil {
		return models.Invite{}, notFound(err, "get invitation")
	}
	return invite, nil
}

func (r *inviteRepository) GetInviteByID(ctx context.Context, inviteID int64) (models.Invite, error) {
	const query = `SELECT ` + inviteColumns + ` FROM enrol_invitations WHERE id = $1`

	invite, err := scanInvite(r.conn.queryRow(ctx, query, inviteID))
	if err != nil {
		return models.Invite{}, notFound(err, "get invitation")
	}
	return invite, nil
}

func (r *inviteRepository) GetInviteByTokenHash(ctx context.Context, tokenHash string) (models.Invite, error) {
	const query = `SELECT ` + inviteColumns + ` FROM enrol_invitations WHERE token = $1`

	invite, err := scanInvite(r.conn.queryRow(ctx, query, tokenHash))
	if err != nil {
		return models.Invite{}, notFound(err, "get invitation by token")
	}
	return invite, nil
}

func (r *inviteRepository) ListInvitesByCourse(ctx context.Context, courseID int64) ([]models.Invite, error) {
	const query = `
		SELECT ` + inviteColumns + `
		FROM enrol_invitations
		WHERE courseid = $1
		ORDER BY timesent DESC, id DESC`

	rows, err := r.conn.query(ctx, query, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "list invitations")
	}
	defer rows.Close()

	var invites []models.Invite
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan invitation")
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list invitations")
	}
	return invites, nil
}

func (r *inviteRepository) FindActiveInvite(ctx context.Context, courseID int64, email string, now time.Time) (models.Invite, error) {
	const query = `
		SELECT ` + inviteColumns + `
		FROM enrol_invitations
		WHERE courseid = $1 AND email = $2 AND status = $3 AND userid IS NULL AND timeexpiration > $4
		ORDER BY timesent DESC, id DESC
		LIMIT 1`

	row := r.conn.queryRow(ctx, query, courseID, strings.ToLower(strings.TrimSpace(email)),
		string(models.InviteStatusPending), now.Unix())
	invite, err := scanInvite(row)
	if err != nil {
		return models.Invite{}, notFound(err, "find active invitation")
	}
	return invite, nil
}

func (r *inviteRepository) UpdateInviteFields(ctx context.Context, courseID, inviteID int64, fields InviteFields) error {
	if fields.empty() {
		return nil
	}

	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if fields.TokenHash != nil {
		add("token", *fields.TokenHash)
	}
	if fields.TimeSent != nil {
		add("timesent", toUnix(*fields.TimeSent))
	}
	if fields.TimeExpiration != nil {
		add("timeexpiration", toUnix(*fields.TimeExpiration))
	}
	if fields.Status != nil {
		add("status", string(*fields.Status))
	}
	if fields.UEID != nil {
		add("ueid", *fields.UEID)
	} else if fields.ClearUEID {
		sets = append(sets, "ueid = NULL")
	}

	args = append(args, courseID)
	where := " WHERE courseid = $" + strconv.Itoa(len(args))
	args = append(args, inviteID)
	where += " AND id = $" + strconv.Itoa(len(args))
	if fields.RequirePending {
		args = append(args, string(models.InviteStatusPending))
		where += " AND userid IS NULL AND status = $" + strconv.Itoa(len(args))
	}

	query := "UPDATE enrol_invitations SET " + strings.Join(sets, ", ") + where
	res, err := r.conn.exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(apperr.ErrConflict, "invitation token already exists")
		}
		return errors.Wrap(err, "update invitation")
	}
	return requireAffected(res, "update invitation")
}

func (r *inviteRepository) MarkInviteAccepted(ctx context.Context, inviteID, userID int64, now time.Time) (models.Invite, error) {
	const query = `
		UPDATE enrol_invitations
		SET userid = $1, timeused = $2, status = $3
		WHERE id = $4 AND userid IS NULL AND status = $5 AND timeexpiration > $6
		RETURNING ` + inviteColumns

	row := r.conn.queryRow(ctx, query,
		userID,
		now.Unix(),
		string(models.InviteStatusAccepted),
		inviteID,
		string(models.InviteStatusPending),
		now.Unix(),
	)
	invite, err := scanInvite(row)
	if err != nil {
		return models.Invite{}, notFound(err, "mark invitation accepted")
	}
	return invite, nil
}

// ClearEnrolmentLink detaches invites from a deleted enrolment. The invite
// itself stays used.
func (r *inviteRepository) ClearEnrolmentLink(ctx context.Context, ueID int64) error {
	const query = `UPDATE enrol_invitations SET ueid = NULL WHERE ueid = $1`
	if _, err := r.conn.exec(ctx, query, ueID); err != nil {
		return errors.Wrap(err, "clear enrolment link")
	}
	return nil
}

func scanInvite(scanner rowScanner) (models.Invite, error) {
	var (
		invite         models.Invite
		creatorID      sql.NullInt64
		userID         sql.NullInt64
		ueID           sql.NullInt64
		timeUsed       sql.NullInt64
		timeSent       int64
		timeExpiration int64
		status         string
	)
	if err := scanner.Scan(
		&invite.ID,
		&invite.CourseID,
		&invite.Email,
		&invite.RoleID,
		&invite.TokenHash,
		&creatorID,
		&invite.Subject,
		&invite.Message,
		&timeSent,
		&timeExpiration,
		&status,
		&userID,
		&ueID,
		&timeUsed,
	); err != nil {
		return models.Invite{}, err
	}

	invite.CreatorID = int64Ptr(creatorID)
	invite.UserID = int64Ptr(userID)
	invite.UEID = int64Ptr(ueID)
	invite.TimeSent = fromUnix(timeSent)
	invite.TimeExpiration = fromUnix(timeExpiration)
	invite.Status = models.InviteStatus(status)
	if timeUsed.Valid {
		t := fromUnix(timeUsed.Int64)
		invite.TimeUsed = &t
	}
	return invite, nil
}
