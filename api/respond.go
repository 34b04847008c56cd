package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/garnizeh/mockprep/internal/interview"
	"github.com/garnizeh/mockprep/internal/service"
	"github.com/garnizeh/mockprep/pkg/repository"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrVideoMissing):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, interview.ErrIllegalTransition):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSON(w, errorResponse{Error: "internal error"}, status)
		return
	}
	writeJSON(w, errorResponse{Error: err.Error()}, status)
}
