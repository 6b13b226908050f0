package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/gm-engine/internal/engine"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	"github.com/jwebster45206/gm-engine/pkg/preset"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// statusFor maps pipeline errors to HTTP statuses. A generator that kept
// producing invalid output is a 502.
func statusFor(err error) int {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, engine.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, preset.ErrUnknownPreset):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSessionEnded), errors.Is(err, queue.ErrSessionBusy):
		return http.StatusConflict
	case errors.As(err, &exhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with its mapped status. Internal errors are
// not echoed to the client.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
		msg = "Internal server error"
	}
	writeError(w, logger, status, msg)
}
