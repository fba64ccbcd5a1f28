package repository

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/models"
)

type enrolmentRepository struct {
	conn conn
}

const enrolmentSelect = `
		SELECT ue.id, ue.enrolid, e.courseid, ue.userid, ue.status, ue.timestart, ue.timeend, ue.timecreated, ue.timemodified
		FROM user_enrolments ue
		JOIN enrol_instances e ON e.id = ue.enrolid`

func (r *enrolmentRepository) GetEnrolment(ctx context.Context, ueID int64) (models.UserEnrolment, error) {
	ue, err := scanEnrolment(r.conn.queryRow(ctx, enrolmentSelect+` WHERE ue.id = $1`, ueID))
	if err != nil {
		return models.UserEnrolment{}, notFound(err, "get enrolment")
	}
	return ue, nil
}

func (r *enrolmentRepository) GetEnrolmentByUser(ctx context.Context, enrolID, userID int64) (models.UserEnrolment, error) {
	ue, err := scanEnrolment(r.conn.queryRow(ctx, enrolmentSelect+` WHERE ue.enrolid = $1 AND ue.userid = $2`, enrolID, userID))
	if err != nil {
		return models.UserEnrolment{}, notFound(err, "get enrolment by user")
	}
	return ue, nil
}

func (r *enrolmentRepository) UpsertEnrolment(ctx context.Context, ue models.UserEnrolment) (models.UserEnrolment, error) {
	const query = `
		INSERT INTO user_enrolments (enrolid, userid, status, timestart, timeend, timecreated, timemodified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (enrolid, userid) DO UPDATE
		SET status = excluded.status,
			timestart = excluded.timestart,
			timeend = excluded.timeend,
			timemodified = excluded.timemodified
		RETURNING id`

	err := r.conn.queryRow(ctx, query,
		ue.EnrolID,
		ue.UserID,
		int(ue.Status),
		toUnix(ue.TimeStart),
		toUnix(ue.TimeEnd),
		toUnix(ue.TimeCreated),
		toUnix(ue.TimeModified),
	).Scan(&ue.ID)
	if err != nil {
		return models.UserEnrolment{}, errors.Wrap(err, "upsert enrolment")
	}
	return r.GetEnrolment(ctx, ue.ID)
}

func (r *enrolmentRepository) UpdateEnrolment(ctx context.Context, ue models.UserEnrolment) (models.UserEnrolment, error) {
	const query = `
		UPDATE user_enrolments
		SET status = $1, timestart = $2, timeend = $3, timemodified = $4
		WHERE id = $5`

	res, err := r.conn.exec(ctx, query,
		int(ue.Status),
		toUnix(ue.TimeStart),
		toUnix(ue.TimeEnd),
		toUnix(ue.TimeModified),
		ue.ID,
	)
	if err != nil {
		return models.UserEnrolment{}, errors.Wrap(err, "update enrolment")
	}
	if err := requireAffected(res, "update enrolment"); err != nil {
		return models.UserEnrolment{}, err
	}
	return r.GetEnrolment(ctx, ue.ID)
}

func (r *enrolmentRepository) DeleteEnrolment(ctx context.Context, ueID int64) error {
	res, err := r.conn.exec(ctx, `DELETE FROM user_enrolments WHERE id = $1`, ueID)
	if err != nil {
		return errors.Wrap(err, "delete enrolment")
	}
	return requireAffected(res, "delete enrolment")
}

func scanEnrolment(scanner rowScanner) (models.UserEnrolment, error) {
	var (
		ue                                            models.UserEnrolment
		status                                        int
		timeStart, timeEnd, timeCreated, timeModified int64
	)
	if err := scanner.Scan(
		&ue.ID,
		&ue.EnrolID,
		&ue.CourseID,
		&ue.UserID,
		&status,
		&timeStart,
		&timeEnd,
		&timeCreated,
		&timeModified,
	); err != nil {
		return models.UserEnrolment{}, err
	}
	ue.Status = models.EnrolmentStatus(status)
	ue.TimeStart = fromUnix(timeStart)
	ue.TimeEnd = fromUnix(timeEnd)
	ue.TimeCreated = fromUnix(timeCreated)
	ue.TimeModified = fromUnix(timeModified)
	return ue, nil
}
