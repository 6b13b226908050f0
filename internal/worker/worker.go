package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/services/events"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	queuePkg "github.com/jwebster45206/gm-engine/pkg/queue"
)

const workerTimeout = 5 * time.Second

// Worker processes requests from the turn queue, one session at a time
// across all workers.
type Worker struct {
	id          string
	queue       *queue.TurnQueue
	results     *queue.Results
	processor   *TurnProcessor
	broadcaster *events.Broadcaster
	locks       *queue.SessionLocks
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance
func New(client *queue.Client, processor *TurnProcessor, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       queue.NewTurnQueue(client),
		results:     queue.NewResults(client),
		processor:   processor,
		broadcaster: events.NewBroadcaster(client.GetRedisClient(), log),
		locks:       queue.NewSessionLocks(client, queue.DefaultLockTTL),
		log:         log.With("worker_id", workerID),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting")

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down")
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				w.log.Error("Error processing request", "error", err)
				// Continue processing even on error
				select {
				case <-w.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested")
	w.cancel()
}

// processNextRequest pulls the next request from the queue and processes it
func (w *Worker) processNextRequest() error {
	req, err := w.queue.BlockingDequeueRequest(w.ctx, workerTimeout)
	if err != nil {
		return fmt.Errorf("failed to dequeue request: %w", err)
	}
	if req == nil {
		// timeout or shutdown
		return nil
	}

	log := w.log.With("request_id", req.RequestID, "type", req.Type, "session_id", req.SessionID.String())
	log.Info("Received request from queue")

	release, locked, err := w.locks.Acquire(w.ctx, req.SessionID, w.id)
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !locked {
		// Another worker or the API owns this session; requeue at the end
		log.Info("Session already locked, re-queueing request")
		if err := w.queue.EnqueueRequest(w.ctx, req); err != nil {
			return fmt.Errorf("failed to re-queue request: %w", err)
		}
		return nil
	}

	defer release()
	return w.processRequest(req)
}

// processRequest runs one request and reports its progress as events and
// as a pollable result.
func (w *Worker) processRequest(req *queuePkg.Request) error {
	start := time.Now()
	log := w.log.With("request_id", req.RequestID, "session_id", req.SessionID.String())

	w.report(req, queue.ResultProcessing, nil, "")
	if err := w.broadcaster.PublishTurnProcessing(w.ctx, req.SessionID, req.RequestID, string(req.Type), req.Message); err != nil {
		log.Error("Failed to publish processing event", "error", err)
	}

	var (
		data  any
		event func() error
		err   error
	)
	switch req.Type {
	case queuePkg.RequestTypeTurn:
		var resp *chat.TurnResponse
		resp, err = w.processor.runTurn(w.ctx, chat.TurnRequest{SessionID: req.SessionID, Message: req.Message})
		if err == nil {
			resp.RequestID = req.RequestID
			data = resp
			event = func() error {
				result := map[string]any{
					"sequence":    resp.Sequence,
					"message":     resp.Message,
					"ended":       resp.Ended,
					"duration_ms": time.Since(start).Milliseconds(),
				}
				if err := w.broadcaster.PublishTurnCompleted(w.ctx, req.SessionID, req.RequestID, result); err != nil {
					return err
				}
				if resp.Ended {
					return w.broadcaster.PublishSessionEnded(w.ctx, req.SessionID, resp.Sequence)
				}
				return nil
			}
		}
	case queuePkg.RequestTypeSegments:
		segs, segErr := w.processor.runSegments(w.ctx, req.SessionID, req.Sequence)
		err = segErr
		if err == nil {
			data = map[string]any{"sequence": req.Sequence, "segments": segs}
			event = func() error {
				return w.broadcaster.PublishSegmentsCompleted(w.ctx, req.SessionID, req.RequestID, req.Sequence, segs)
			}
		}
	default:
		err = fmt.Errorf("unknown request type: %s", req.Type)
	}

	if err != nil {
		log.Error("Request failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		w.report(req, queue.ResultFailed, nil, err.Error())
		if pubErr := w.broadcaster.PublishTurnFailed(w.ctx, req.SessionID, req.RequestID, err.Error()); pubErr != nil {
			log.Error("Failed to publish failure event", "error", pubErr)
		}
		return fmt.Errorf("failed to process %s request: %w", req.Type, err)
	}

	w.report(req, queue.ResultCompleted, data, "")
	if err := event(); err != nil {
		log.Error("Failed to publish completion event", "error", err)
	}
	log.Info("Request processed successfully", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) report(req *queuePkg.Request, status queue.ResultStatus, data any, errMsg string) {
	res := &queue.Result{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Status:    status,
		Error:     errMsg,
	}
	if err := w.results.Save(w.ctx, res, data); err != nil {
		w.log.Error("Failed to save request result", "error", err, "request_id", req.RequestID)
	}
}
