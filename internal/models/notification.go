package models

import (
	"encoding/json"
	"time"
)

type EventName string

const (
	EventInvitationSent     EventName = "invitation_sent"
	EventInvitationAccepted EventName = "invitation_accepted"
	EventInvitationDeleted  EventName = "invitation_deleted"
)

// Event CRUD markers, as understood by the audit log consumers.
const (
	CRUDCreate = "c"
	CRUDRead   = "r"
	CRUDUpdate = "u"
	CRUDDelete = "d"
)

// Event is a persisted record of something that happened to an invitation.
type Event struct {
	ID          string          `json:"id" db:"id"`
	Name        EventName       `json:"name" db:"name"`
	CRUD        string          `json:"crud" db:"crud"`
	CourseID    int64           `json:"courseid" db:"courseid"`
	UserID      *int64          `json:"userid,omitempty" db:"userid"`
	ObjectID    *int64          `json:"objectid,omitempty" db:"objectid"`
	Other       json.RawMessage `json:"other,omitempty" db:"other"`
	Description string          `json:"description" db:"-"`
	TimeCreated time.Time       `json:"timecreated" db:"timecreated"`
}
