package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/notification"
)

type EventHandler struct {
	service notification.Service
	logger  zerolog.Logger
}

func NewEventHandler(service notification.Service, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		logger:  logger.With().Str("handler", "event").Logger(),
	}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	courseID, _ := pathID(r, "courseID")

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.service.ListRecent(r.Context(), courseID, limit)
	if err != nil {
		h.logger.Error().Err(err).Int64("course_id", courseID).Msg("failed to list events")
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
