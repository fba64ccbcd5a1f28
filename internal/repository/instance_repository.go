package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/models"
)

type instanceRepository struct {
	conn conn
}

const instanceColumns = `id, courseid, status, roleid, invite_validity, enrol_period, email_subject, email_message, timemodified`

func (r *instanceRepository) GetInstanceByCourse(ctx context.Context, courseID int64) (models.EnrolInstance, error) {
	const query = `SELECT ` + instanceColumns + ` FROM enrol_instances WHERE courseid = $1`
	instance, err := scanInstance(r.conn.queryRow(ctx, query, courseID))
	if err != nil {
		return models.EnrolInstance{}, notFound(err, "get enrol instance")
	}
	return instance, nil
}

func (r *instanceRepository) GetInstanceByID(ctx context.Context, enrolID int64) (models.EnrolInstance, error) {
	const query = `SELECT ` + instanceColumns + ` FROM enrol_instances WHERE id = $1`
	instance, err := scanInstance(r.conn.queryRow(ctx, query, enrolID))
	if err != nil {
		return models.EnrolInstance{}, notFound(err, "get enrol instance")
	}
	return instance, nil
}

func (r *instanceRepository) CreateInstance(ctx context.Context, instance models.EnrolInstance) (models.EnrolInstance, error) {
	const query = `
		INSERT INTO enrol_instances (courseid, status, roleid, invite_validity, enrol_period, email_subject, email_message, timemodified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + instanceColumns

	created, err := scanInstance(r.conn.queryRow(ctx, query,
		instance.CourseID,
		int(instance.Status),
		instance.RoleID,
		int64(instance.InviteValidity/time.Second),
		int64(instance.EnrolPeriod/time.Second),
		instance.EmailSubject,
		instance.EmailMessage,
		toUnix(instance.TimeModified),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return models.EnrolInstance{}, errors.Wrap(apperr.ErrConflict, "course already has an invitation instance")
		}
		return models.EnrolInstance{}, errors.Wrap(err, "insert enrol instance")
	}
	return created, nil
}

func (r *instanceRepository) UpdateInstance(ctx context.Context, instance models.EnrolInstance) (models.EnrolInstance, error) {
	const query = `
		UPDATE enrol_instances
		SET status = $1, roleid = $2, invite_validity = $3, enrol_period = $4, email_subject = $5, email_message = $6, timemodified = $7
		WHERE id = $8
		RETURNING ` + instanceColumns

	updated, err := scanInstance(r.conn.queryRow(ctx, query,
		int(instance.Status),
		instance.RoleID,
		int64(instance.InviteValidity/time.Second),
		int64(instance.EnrolPeriod/time.Second),
		instance.EmailSubject,
		instance.EmailMessage,
		toUnix(instance.TimeModified),
		instance.ID,
	))
	if err != nil {
		return models.EnrolInstance{}, notFound(err, "update enrol instance")
	}
	return updated, nil
}

func scanInstance(scanner rowScanner) (models.EnrolInstance, error) {
	var (
		instance                  models.EnrolInstance
		status                    int
		validity, period, modTime int64
	)
	if err := scanner.Scan(
		&instance.ID,
		&instance.CourseID,
		&status,
		&instance.RoleID,
		&validity,
		&period,
		&instance.EmailSubject,
		&instance.EmailMessage,
		&modTime,
	); err != nil {
		return models.EnrolInstance{}, err
	}
	instance.Status = models.InstanceStatus(status)
	instance.InviteValidity = time.Duration(validity) * time.Second
	instance.EnrolPeriod = time.Duration(period) * time.Second
	instance.TimeModified = fromUnix(modTime)
	return instance, nil
}
