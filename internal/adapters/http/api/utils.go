package api

import (
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/geoheat/internal/app"
	"github.com/okian/geoheat/internal/domain/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.Error{Code: code, Message: msg})
}

// classify maps service errors onto API error kinds.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, types.ErrInvalidPayload):
		return WrapKind(op, ErrBadRequest, err)
	case errors.Is(err, service.ErrNoData):
		return WrapKind(op, ErrNotFound, err)
	default:
		return Wrap(op, err)
	}
}

// writeKindError renders err with the status matching its kind.
func writeKindError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
