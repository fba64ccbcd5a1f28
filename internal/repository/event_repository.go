package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/models"
)

const (
	defaultEventLimit = 25
	maxEventLimit     = 100
)

type eventRepository struct {
	conn conn
}

func (r *eventRepository) CreateEvent(ctx context.Context, event models.Event) (models.Event, error) {
	const query = `
		INSERT INTO invitation_events (id, name, crud, courseid, userid, objectid, other, timecreated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, name, crud, courseid, userid, objectid, other, timecreated`

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var other interface{}
	if len(event.Other) > 0 {
		other = string(event.Other)
	}

	row := r.conn.queryRow(ctx, query,
		event.ID,
		string(event.Name),
		event.CRUD,
		event.CourseID,
		nullInt64(event.UserID),
		nullInt64(event.ObjectID),
		other,
		toUnix(event.TimeCreated),
	)
	created, err := scanEvent(row)
	if err != nil {
		return models.Event{}, errors.Wrap(err, "insert event")
	}
	created.Description = event.Description
	return created, nil
}

func (r *eventRepository) ListRecentEvents(ctx context.Context, courseID int64, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > maxEventLimit {
		limit = defaultEventLimit
	}

	const query = `
		SELECT id, name, crud, courseid, userid, objectid, other, timecreated
		FROM invitation_events
		WHERE courseid = $1
		ORDER BY timecreated DESC, id DESC
		LIMIT $2`

	rows, err := r.conn.query(ctx, query, courseID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	return events, nil
}

func scanEvent(scanner rowScanner) (models.Event, error) {
	var (
		event       models.Event
		name        string
		userID      sql.NullInt64
		objectID    sql.NullInt64
		otherRaw    []byte
		timeCreated int64
	)
	if err := scanner.Scan(
		&event.ID,
		&name,
		&event.CRUD,
		&event.CourseID,
		&userID,
		&objectID,
		&otherRaw,
		&timeCreated,
	); err != nil {
		return models.Event{}, err
	}

	event.Name = models.EventName(name)
	event.UserID = int64Ptr(userID)
	event.ObjectID = int64Ptr(objectID)
	if len(otherRaw) > 0 {
		event.Other = append([]byte(nil), otherRaw...)
	}
	event.TimeCreated = fromUnix(timeCreated)
	return event, nil
}
