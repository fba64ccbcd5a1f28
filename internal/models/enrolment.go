package models

import "time"

type EnrolmentStatus int

const (
	EnrolmentStatusActive    EnrolmentStatus = 0
	EnrolmentStatusSuspended EnrolmentStatus = 1
)

func (s EnrolmentStatus) Valid() bool {
	return s == EnrolmentStatusActive || s == EnrolmentStatusSuspended
}

func (s EnrolmentStatus) String() string {
	switch s {
	case EnrolmentStatusActive:
		return "active"
	case EnrolmentStatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// UserEnrolment is the membership record created when an invite is accepted.
// Zero TimeStart/TimeEnd mean the bound is not set.
type UserEnrolment struct {
	ID           int64           `json:"id" db:"id"`
	EnrolID      int64           `json:"enrolid" db:"enrolid"`
	CourseID     int64           `json:"courseid" db:"-"`
	UserID       int64           `json:"userid" db:"userid"`
	Status       EnrolmentStatus `json:"status" db:"status"`
	TimeStart    time.Time       `json:"timestart" db:"timestart"`
	TimeEnd      time.Time       `json:"timeend" db:"timeend"`
	TimeCreated  time.Time       `json:"timecreated" db:"timecreated"`
	TimeModified time.Time       `json:"timemodified" db:"timemodified"`
}

// Bounds for how long an invitation stays valid.
const (
	MinInviteValidity = time.Hour
	MaxInviteValidity = 365 * 24 * time.Hour
)

type InstanceStatus int

const (
	InstanceStatusEnabled  InstanceStatus = 0
	InstanceStatusDisabled InstanceStatus = 1
)

// EnrolInstance holds the per-course settings of the invitation enrolment method.
type EnrolInstance struct {
	ID             int64          `json:"id" db:"id"`
	CourseID       int64          `json:"courseid" db:"courseid"`
	Status         InstanceStatus `json:"status" db:"status"`
	RoleID         int64          `json:"roleid" db:"roleid"`
	InviteValidity time.Duration  `json:"invite_validity" db:"invite_validity"`
	EnrolPeriod    time.Duration  `json:"enrol_period" db:"enrol_period"`
	EmailSubject   string         `json:"email_subject" db:"email_subject"`
	EmailMessage   string         `json:"email_message" db:"email_message"`
	TimeModified   time.Time      `json:"timemodified" db:"timemodified"`
}

func (e EnrolInstance) Enabled() bool {
	return e.Status == InstanceStatusEnabled
}
