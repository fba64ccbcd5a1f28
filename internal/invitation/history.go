package invitation

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/i18n"
	"github.com/stanstork/invitation-api/internal/models"
)

const dateLayout = "2 January 2006, 15:04"

// Action is an operation offered on a history row.
type Action int

const (
	ActionRevoke Action = 1
	ActionExtend Action = 2
	ActionResend Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionRevoke:
		return "revoke"
	case ActionExtend:
		return "extend"
	case ActionResend:
		return "resend"
	default:
		return "unknown"
	}
}

func (a Action) label() string {
	switch a {
	case ActionRevoke:
		return i18n.ActionRevoke
	case ActionExtend:
		return i18n.ActionExtend
	default:
		return i18n.ActionResend
	}
}

// ParseAction validates a numeric action id.
func ParseAction(id int) (Action, error) {
	switch a := Action(id); a {
	case ActionRevoke, ActionExtend, ActionResend:
		return a, nil
	}
	return 0, apperr.Field("actionid", "unknown action")
}

// ActionsFor lists the actions available for an invitation in the given status.
func ActionsFor(status Status) []Action {
	switch status {
	case StatusActive:
		return []Action{ActionRevoke, ActionExtend}
	case StatusExpired, StatusRevoked:
		return []Action{ActionResend}
	default:
		return nil
	}
}

type HistoryAction struct {
	ID    Action `json:"actionid"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// HistoryRow is one line of the invitation history of a course.
type HistoryRow struct {
	InviteID         int64           `json:"inviteid"`
	Email            string          `json:"email"`
	RoleID           int64           `json:"roleid"`
	Role             string          `json:"role"`
	Status           Status          `json:"status"`
	StatusLabel      string          `json:"status_label"`
	UsedBy           string          `json:"used_by,omitempty"`
	AccessExpiration string          `json:"access_expiration,omitempty"`
	TimeSent         time.Time       `json:"timesent"`
	TimeExpiration   time.Time       `json:"timeexpiration"`
	ExpiresIn        string          `json:"expires_in,omitempty"`
	Actions          []HistoryAction `json:"actions"`
}

// History renders every invitation of a course, newest first, with labels in
// the requested language.
func (m *Manager) History(ctx context.Context, courseID int64, lang string) ([]HistoryRow, error) {
	invites, err := m.List(ctx, courseID)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	printer := m.translator.Printer(lang)
	roles := map[int64]string{}
	rows := make([]HistoryRow, 0, len(invites))

	for _, invite := range invites {
		roleName, ok := roles[invite.RoleID]
		if !ok {
			role, err := m.store.Directory().GetRole(ctx, invite.RoleID)
			switch {
			case err == nil:
				roleName = role.DisplayName()
			case errors.Is(err, apperr.ErrNotFound):
				roleName = printer.Sprintf(i18n.UndefinedRole)
			default:
				return nil, err
			}
			roles[invite.RoleID] = roleName
		}

		status := Resolve(invite, now)
		row := HistoryRow{
			InviteID:       invite.ID,
			Email:          invite.Email,
			RoleID:         invite.RoleID,
			Role:           roleName,
			Status:         status,
			TimeSent:       invite.TimeSent,
			TimeExpiration: invite.TimeExpiration,
			Actions:        []HistoryAction{},
		}

		label := printer.Sprintf(statusKey(status))
		if status == StatusUsed {
			if row.UsedBy, err = m.WhoUsed(ctx, invite); err != nil {
				return nil, err
			}
			if row.UsedBy != "" {
				label += " " + printer.Sprintf(i18n.UsedBy, row.UsedBy)
			}
			if row.AccessExpiration, err = m.AccessExpiration(ctx, invite, lang); err != nil {
				return nil, err
			}
			if row.AccessExpiration != "" {
				label += ", " + row.AccessExpiration
			}
		}
		row.StatusLabel = label

		if status == StatusActive {
			row.ExpiresIn = printer.Sprintf(i18n.ExpiresIn,
				strings.TrimSpace(humanize.RelTime(now, invite.TimeExpiration, "", "")))
		}
		for _, action := range ActionsFor(status) {
			row.Actions = append(row.Actions, HistoryAction{
				ID:    action,
				Name:  action.String(),
				Label: printer.Sprintf(action.label()),
			})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WhoUsed returns the full name of the account that accepted the invite, or
// an empty string when it is unused or the account is gone.
func (m *Manager) WhoUsed(ctx context.Context, invite models.Invite) (string, error) {
	if invite.UserID == nil {
		return "", nil
	}
	user, err := m.store.Directory().GetUser(ctx, *invite.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.FullName(), nil
}

// AccessExpiration describes the end of the enrolment created by the invite.
// It is empty when the invite is unused, the enrolment was removed, or the
// enrolment has no end date.
func (m *Manager) AccessExpiration(ctx context.Context, invite models.Invite, lang string) (string, error) {
	if invite.UserID == nil || invite.UEID == nil {
		return "", nil
	}
	ue, err := m.store.Enrolments().GetEnrolment(ctx, *invite.UEID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if ue.TimeEnd.IsZero() {
		return "", nil
	}
	key := i18n.AccessExpires
	if !ue.TimeEnd.After(m.clock()) {
		key = i18n.AccessExpired
	}
	return m.translator.Sprintf(lang, key, ue.TimeEnd.Format(dateLayout)), nil
}

// ActionResult is the outcome of a history action. Token is set for extend,
// Prefill for resend.
type ActionResult struct {
	Action  Action         `json:"action"`
	Invite  *models.Invite `json:"invite,omitempty"`
	Token   string         `json:"-"`
	Prefill *Prefill       `json:"prefill,omitempty"`
}

// HandleHistoryAction applies an action chosen from the history view.
func (m *Manager) HandleHistoryAction(ctx context.Context, courseID, inviteID int64, actionID int, actorID int64) (ActionResult, error) {
	if _, err := m.store.Invites().GetInvite(ctx, courseID, inviteID); err != nil {
		return ActionResult{}, err
	}
	action, err := ParseAction(actionID)
	if err != nil {
		return ActionResult{}, err
	}

	result := ActionResult{Action: action}
	switch action {
	case ActionRevoke:
		invite, err := m.Revoke(ctx, courseID, inviteID, actorID)
		if err != nil {
			return ActionResult{}, err
		}
		result.Invite = &invite
	case ActionExtend:
		actor := actorID
		invite, token, err := m.Extend(ctx, courseID, inviteID, 0, &actor)
		if err != nil {
			return ActionResult{}, err
		}
		result.Invite = &invite
		result.Token = token
	case ActionResend:
		prefill, err := m.Resend(ctx, courseID, inviteID)
		if err != nil {
			return ActionResult{}, err
		}
		result.Prefill = &prefill
	}
	return result, nil
}

func (m *Manager) statusLabel(status Status, lang string) string {
	return m.translator.Sprintf(lang, statusKey(status))
}

func statusKey(status Status) string {
	switch status {
	case StatusUsed:
		return i18n.StatusUsed
	case StatusRevoked:
		return i18n.StatusRevoked
	case StatusExpired:
		return i18n.StatusExpired
	default:
		return i18n.StatusActive
	}
}
