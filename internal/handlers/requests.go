package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/gm-engine/internal/services/queue"
)

// RequestHandler reports the state of queued requests.
// GET /v1/requests/{requestID}
type RequestHandler struct {
	results *queue.Results
	logger  *slog.Logger
}

func NewRequestHandler(results *queue.Results, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{results: results, logger: logger}
}

func (h *RequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}
	requestID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/requests"), "/")
	if requestID == "" || strings.Contains(requestID, "/") {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/requests/{requestID}")
		return
	}

	res, err := h.results.Load(r.Context(), requestID)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if res == nil {
		writeError(w, h.logger, http.StatusNotFound, "Request not found")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}
