package models

import "time"

type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRevoked  InviteStatus = "revoked"
)

// Invite represents an invitation to join a course with a given role.
type Invite struct {
	ID             int64        `json:"id" db:"id"`
	CourseID       int64        `json:"courseid" db:"courseid"`
	Email          string       `json:"email" db:"email"`
	RoleID         int64        `json:"roleid" db:"roleid"`
	TokenHash      string       `json:"-" db:"token"`
	CreatorID      *int64       `json:"creatorid,omitempty" db:"creatorid"`
	Subject        string       `json:"subject" db:"subject"`
	Message        string       `json:"message" db:"message"`
	TimeSent       time.Time    `json:"timesent" db:"timesent"`
	TimeExpiration time.Time    `json:"timeexpiration" db:"timeexpiration"`
	Status         InviteStatus `json:"status" db:"status"`
	UserID         *int64       `json:"userid,omitempty" db:"userid"`
	UEID           *int64       `json:"ueid,omitempty" db:"ueid"`
	TimeUsed       *time.Time   `json:"timeused,omitempty" db:"timeused"`
}

// IsExpired reports whether the expiration time has been reached.
func (i Invite) IsExpired(now time.Time) bool {
	return !i.TimeExpiration.After(now)
}

// IsUsed indicates whether the invite has been redeemed. The user id is the
// authoritative record of acceptance.
func (i Invite) IsUsed() bool {
	return i.UserID != nil
}

func (i Invite) IsRevoked() bool {
	return i.Status == InviteStatusRevoked
}
