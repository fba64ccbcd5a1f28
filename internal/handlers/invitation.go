package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/authz"
	"github.com/stanstork/invitation-api/internal/invitation"
	"github.com/stanstork/invitation-api/internal/models"
)

type InvitationHandler struct {
	manager *invitation.Manager
	logger  zerolog.Logger
}

type createInvitationRequest struct {
	Email    string `json:"email"`
	RoleID   int64  `json:"roleid"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	Validity int64  `json:"validity"`
}

type extendRequest struct {
	Validity int64 `json:"validity"`
}

type issuedInvitation struct {
	Invite    models.Invite `json:"invite"`
	Token     string        `json:"token"`
	AcceptURL string        `json:"accept_url"`
}

type invitationView struct {
	models.Invite
	Status invitation.StatusInfo `json:"state"`
}

func NewInvitationHandler(manager *invitation.Manager, logger zerolog.Logger) *InvitationHandler {
	return &InvitationHandler{
		manager: manager,
		logger:  logger.With().Str("handler", "invitation").Logger(),
	}
}

func (h *InvitationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.manager.Preview(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	courseHint, _, err := queryID(r, "courseid")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.manager.Accept(r.Context(), mux.Vars(r)["token"], userID, courseHint)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	invites, err := h.manager.List(r.Context(), courseID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	lang := r.Header.Get("Accept-Language")
	views := make([]invitationView, 0, len(invites))
	for _, invite := range invites {
		views = append(views, invitationView{Invite: invite, Status: h.manager.Status(invite, lang)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invitations": views})
}

func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")

	var payload createInvitationRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	validity, err := validitySeconds("validity", payload.Validity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var creator *int64
	if uid, ok := authz.UserIDFromRequest(r); ok {
		creator = &uid
	}
	invite, token, err := h.manager.Create(r.Context(), invitation.CreateInput{
		CourseID:  courseID,
		Email:     payload.Email,
		RoleID:    payload.RoleID,
		CreatorID: creator,
		Subject:   payload.Subject,
		Message:   payload.Message,
		Validity:  validity,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, issuedInvitation{Invite: invite, Token: token, AcceptURL: h.manager.AcceptURL(token)})
}

func (h *InvitationHandler) Prefill(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	inviteID, ok, err := queryID(r, "inviteid")
	if err == nil && !ok {
		err = apperr.Field("inviteid", "is required")
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	prefill, err := h.manager.Resend(r.Context(), courseID, inviteID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, prefill)
}

func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	inviteID, ok := pathID(r, "inviteID")
	if !ok {
		http.Error(w, "invalid invitation id", http.StatusBadRequest)
		return
	}
	actor, _ := authz.UserIDFromRequest(r)

	invite, err := h.manager.Revoke(r.Context(), courseID, inviteID, actor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, invite)
}

func (h *InvitationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	inviteID, ok := pathID(r, "inviteID")
	if !ok {
		http.Error(w, "invalid invitation id", http.StatusBadRequest)
		return
	}
	var payload extendRequest
	if err := decodeJSON(r, &payload, true); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	validity, err := validitySeconds("validity", payload.Validity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var actor *int64
	if uid, ok := authz.UserIDFromRequest(r); ok {
		actor = &uid
	}
	invite, token, err := h.manager.Extend(r.Context(), courseID, inviteID, validity, actor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issuedInvitation{Invite: invite, Token: token, AcceptURL: h.manager.AcceptURL(token)})
}

// History lists the invitation history of a course. With inviteid and
// actionid it applies the action first; resend redirects to the prefill
// endpoint.
func (h *InvitationHandler) History(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	inviteID, hasInvite, err := queryID(r, "inviteid")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var result *invitation.ActionResult
	if raw := strings.TrimSpace(r.URL.Query().Get("actionid")); raw != "" {
		if !hasInvite {
			writeError(w, h.logger, apperr.Field("inviteid", "is required with actionid"))
			return
		}
		actionID, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, apperr.Field("actionid", "unknown action"))
			return
		}
		actor, _ := authz.UserIDFromRequest(r)
		res, err := h.manager.HandleHistoryAction(r.Context(), courseID, inviteID, actionID, actor)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if res.Action == invitation.ActionResend {
			target := fmt.Sprintf("/api/courses/%d/invitations/prefill?inviteid=%d", courseID, inviteID)
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		result = &res
	}

	rows, err := h.manager.History(r.Context(), courseID, r.Header.Get("Accept-Language"))
	if err != nil {
		writeError(w, h.logger, errors.Wrap(err, "load history"))
		return
	}
	resp := map[string]interface{}{"invitations": rows}
	if result != nil {
		resp["action"] = result
		if result.Token != "" {
			resp["accept_url"] = h.manager.AcceptURL(result.Token)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
