package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/authz"
	"github.com/stanstork/invitation-api/internal/enrolment"
	"github.com/stanstork/invitation-api/internal/models"
)

type EnrolmentHandler struct {
	service *enrolment.Service
	checker *authz.Checker
	logger  zerolog.Logger
}

type enrolmentResponse struct {
	Enrolment models.UserEnrolment `json:"enrolment"`
	Filter    string               `json:"ifilter,omitempty"`
}

type instanceRequest struct {
	Enabled        bool   `json:"enabled"`
	RoleID         int64  `json:"roleid"`
	InviteValidity int64  `json:"invite_validity"`
	EnrolPeriod    int64  `json:"enrol_period"`
	EmailSubject   string `json:"email_subject"`
	EmailMessage   string `json:"email_message"`
}

type instanceResponse struct {
	ID             int64  `json:"id"`
	CourseID       int64  `json:"courseid"`
	Enabled        bool   `json:"enabled"`
	RoleID         int64  `json:"roleid"`
	InviteValidity int64  `json:"invite_validity"`
	EnrolPeriod    int64  `json:"enrol_period"`
	EmailSubject   string `json:"email_subject"`
	EmailMessage   string `json:"email_message"`
}

func NewEnrolmentHandler(service *enrolment.Service, checker *authz.Checker, logger zerolog.Logger) *EnrolmentHandler {
	return &EnrolmentHandler{
		service: service,
		checker: checker,
		logger:  logger.With().Str("handler", "enrolment").Logger(),
	}
}

// load fetches the enrolment and checks the capability in its course.
func (h *EnrolmentHandler) load(w http.ResponseWriter, r *http.Request, capability models.Capability) (models.UserEnrolment, bool) {
	ueID, ok := pathID(r, "ueID")
	if !ok {
		http.Error(w, "invalid enrolment id", http.StatusBadRequest)
		return models.UserEnrolment{}, false
	}
	ue, err := h.service.Get(r.Context(), ueID)
	if err != nil {
		writeError(w, h.logger, err)
		return models.UserEnrolment{}, false
	}
	if err := h.checker.Require(r.Context(), ue.CourseID, capability); err != nil {
		writeError(w, h.logger, err)
		return models.UserEnrolment{}, false
	}
	return ue, true
}

func (h *EnrolmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ue, ok := h.load(w, r, models.CapManage)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, enrolmentResponse{Enrolment: ue, Filter: strings.TrimSpace(r.URL.Query().Get("ifilter"))})
}

func (h *EnrolmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	ue, ok := h.load(w, r, models.CapManage)
	if !ok {
		return
	}
	var form enrolment.EditForm
	if err := decodeJSON(r, &form, false); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Edit(r.Context(), ue.ID, form)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, enrolmentResponse{Enrolment: updated, Filter: strings.TrimSpace(r.URL.Query().Get("ifilter"))})
}

func (h *EnrolmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ue, ok := h.load(w, r, models.CapUnenrol)
	if !ok {
		return
	}
	if err := h.service.Unenrol(r.Context(), ue.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EnrolmentHandler) UnenrolSelf(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := h.service.UnenrolSelf(r.Context(), courseID, userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EnrolmentHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	instance, err := h.service.Instance(r.Context(), courseID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(instance))
}

func (h *EnrolmentHandler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")
	var payload instanceRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	validity, err := validitySeconds("invite_validity", payload.InviteValidity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	period, err := periodSeconds("enrol_period", payload.EnrolPeriod)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	instance, err := h.service.UpdateInstance(r.Context(), courseID, enrolment.InstanceSettings{
		Enabled:        payload.Enabled,
		RoleID:         payload.RoleID,
		InviteValidity: validity,
		EnrolPeriod:    period,
		EmailSubject:   payload.EmailSubject,
		EmailMessage:   payload.EmailMessage,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(instance))
}

func toInstanceResponse(instance models.EnrolInstance) instanceResponse {
	return instanceResponse{
		ID:             instance.ID,
		CourseID:       instance.CourseID,
		Enabled:        instance.Enabled(),
		RoleID:         instance.RoleID,
		InviteValidity: int64(instance.InviteValidity / time.Second),
		EnrolPeriod:    int64(instance.EnrolPeriod / time.Second),
		EmailSubject:   instance.EmailSubject,
		EmailMessage:   instance.EmailMessage,
	}
}
