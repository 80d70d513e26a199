package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/xtrntr/apextraders/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the error taxonomy to a status code. Client errors carry
// the error text; anything else is logged and answered with fallback.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeMessage(w, http.StatusBadRequest, clientMessage(err, models.ErrValidation))
	case errors.Is(err, models.ErrConflict):
		writeMessage(w, http.StatusBadRequest, clientMessage(err, models.ErrConflict))
	case errors.Is(err, models.ErrNotFound):
		writeMessage(w, http.StatusNotFound, clientMessage(err, models.ErrNotFound))
	case errors.Is(err, models.ErrPriceUnavailable):
		writeMessage(w, http.StatusServiceUnavailable, "Live price unavailable")
	default:
		h.logger.Error(fallback,
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeMessage(w, http.StatusInternalServerError, fallback)
	}
}

// clientMessage keeps the part of a wrapped error from the sentinel onward,
// dropping internal call context such as "close trade abc: ".
func clientMessage(err error, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()); i >= 0 {
		return msg[i:]
	}
	return sentinel.Error()
}
