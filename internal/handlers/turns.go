package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/services/events"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/internal/worker"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	queuePkg "github.com/jwebster45206/gm-engine/pkg/queue"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

// Async holds the Redis pieces used to hand turns to workers.
type Async struct {
	Queue       *queue.TurnQueue
	Results     *queue.Results
	Broadcaster *events.Broadcaster
}

// SegmentsResponse lists the speaker segments of one committed turn.
type SegmentsResponse struct {
	SessionID uuid.UUID        `json:"session_id"`
	Sequence  int              `json:"sequence"`
	Segments  []speech.Segment `json:"segments"`
}

// TurnHandler plays and lists turns. It is mounted by SessionHandler.
type TurnHandler struct {
	processor *worker.TurnProcessor
	store     storage.Store
	async     *Async
	logger    *slog.Logger
}

// NewTurnHandler creates a turn handler. async may be nil, in which case
// every turn runs inline.
func NewTurnHandler(processor *worker.TurnProcessor, store storage.Store, async *Async, logger *slog.Logger) *TurnHandler {
	return &TurnHandler{
		processor: processor,
		store:     store,
		async:     async,
		logger:    logger,
	}
}

// List writes the committed turns of a session in sequence order.
func (h *TurnHandler) List(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	s, err := h.store.LoadSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if s == nil {
		writeError(w, h.logger, http.StatusNotFound, "Session not found")
		return
	}
	turns, err := h.store.ListTurns(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, h.logger, http.StatusOK, turns)
}

// Play runs a player message. With "async": true and a queue configured
// the turn is enqueued and 202 is returned with a request ID to poll.
func (h *TurnHandler) Play(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req chat.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SessionID = id
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	if req.Async {
		if h.async == nil {
			writeError(w, h.logger, http.StatusServiceUnavailable, "Async turns require a Redis queue")
			return
		}
		h.enqueue(w, r, queuePkg.NewTurnRequest(id, req.Message))
		return
	}

	resp, err := h.processor.ProcessTurn(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Segments writes the speaker segments of a committed turn. Adding
// ?async=true queues the work instead.
func (h *TurnHandler) Segments(w http.ResponseWriter, r *http.Request, id uuid.UUID, seq int) {
	if r.URL.Query().Get("async") == "true" {
		if h.async == nil {
			writeError(w, h.logger, http.StatusServiceUnavailable, "Async requests require a Redis queue")
			return
		}
		h.enqueue(w, r, queuePkg.NewSegmentsRequest(id, seq))
		return
	}

	segs, err := h.processor.ProcessSegments(r.Context(), id, seq)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if segs == nil {
		segs = []speech.Segment{}
	}
	writeJSON(w, h.logger, http.StatusOK, SegmentsResponse{SessionID: id, Sequence: seq, Segments: segs})
}

func (h *TurnHandler) enqueue(w http.ResponseWriter, r *http.Request, req *queuePkg.Request) {
	ctx := r.Context()
	if err := h.async.Results.Save(ctx, &queue.Result{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Status:    queue.ResultQueued,
	}, nil); err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if err := h.async.Queue.EnqueueRequest(ctx, req); err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if err := h.async.Broadcaster.PublishTurnQueued(ctx, req.SessionID, req.RequestID, string(req.Type)); err != nil {
		h.logger.Warn("Failed to publish queued event", "request_id", req.RequestID, "error", err)
	}

	h.logger.Info("Request queued",
		"request_id", req.RequestID,
		"type", req.Type,
		"session_id", req.SessionID.String())
	writeJSON(w, h.logger, http.StatusAccepted, chat.TurnResponse{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
	})
}
