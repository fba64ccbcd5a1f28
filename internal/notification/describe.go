package notification

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/stanstork/invitation-api/internal/models"
)

const anonymousUser = "anonymous user"

// Describe renders the audit description of an event from its payload.
// Acceptance events carrying an errormsg describe the failure.
func Describe(event models.Event) string {
	other := decodeOther(event.Other)
	who := "An " + anonymousUser
	if event.UserID != nil {
		who = fmt.Sprintf("The user with id '%d'", *event.UserID)
	}

	switch event.Name {
	case models.EventInvitationSent:
		return fmt.Sprintf("%s sent an invitation to '%s' for the course with id '%d'.",
			who, text(other, "email"), event.CourseID)
	case models.EventInvitationAccepted:
		if _, failed := other["errormsg"]; failed {
			return fmt.Sprintf("%s failed to accept an invitation to the course with id '%d': %s.",
				who, event.CourseID, text(other, "errormsg"))
		}
		return fmt.Sprintf("%s accepted an invitation to the course with id '%d'.", who, event.CourseID)
	case models.EventInvitationDeleted:
		return fmt.Sprintf("%s revoked the invitation for '%s' in the course with id '%d'.",
			who, text(other, "email"), event.CourseID)
	default:
		return string(event.Name)
	}
}

func decodeOther(raw json.RawMessage) map[string]interface{} {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	_ = dec.Decode(&out)
	return out
}

func text(other map[string]interface{}, key string) string {
	v, ok := other[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
