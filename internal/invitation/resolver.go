package invitation

import (
	"time"

	"github.com/stanstork/invitation-api/internal/models"
)

// Status is the derived state of an invitation at a point in time.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
	StatusUsed    Status = "used"
)

// Resolve computes the status of an invite. Acceptance wins over revocation,
// and both win over the expiry comparison.
func Resolve(invite models.Invite, now time.Time) Status {
	switch {
	case invite.IsUsed():
		return StatusUsed
	case invite.IsRevoked():
		return StatusRevoked
	case invite.IsExpired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}
