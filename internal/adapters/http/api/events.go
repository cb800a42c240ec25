package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/okian/geoheat/internal/domain/types"
)

// EventsHandler handles event ingestion requests.
type EventsHandler struct {
	deps         EventDependencies
	maxBodyBytes int64
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, maxBodyBytes int64) *EventsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &EventsHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// HandlePostEvents handles POST /events requests. The batch is processed
// synchronously and acknowledged with 202.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrBadRequest, err))
			return
		}
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	events, err := types.DecodeEvents(body)
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	counts, updated, err := h.deps.ProcessEvents(r.Context(), events)
	if err != nil {
		writeKindError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, types.NewIngestResponse(counts, updated))
}
