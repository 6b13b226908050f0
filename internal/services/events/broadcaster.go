package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeTurnQueued        EventType = "turn.queued"
	EventTypeTurnProcessing    EventType = "turn.processing"
	EventTypeTurnCompleted     EventType = "turn.completed"
	EventTypeTurnFailed        EventType = "turn.failed"
	EventTypeSegmentsCompleted EventType = "segments.completed"
	EventTypeSessionEnded      EventType = "session.ended"
)

// Event represents a generic event structure
type Event struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel is the pub/sub channel carrying a session's events.
func Channel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session-events:%s", sessionID.String())
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishTurnQueued publishes a turn.queued event
func (b *Broadcaster) PublishTurnQueued(ctx context.Context, sessionID uuid.UUID, requestID, requestType string) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnQueued,
		RequestID: requestID,
		Data: map[string]any{
			"status": "queued",
			"type":   requestType,
		},
	})
}

// PublishTurnProcessing publishes a turn.processing event
func (b *Broadcaster) PublishTurnProcessing(ctx context.Context, sessionID uuid.UUID, requestID, requestType, userMessage string) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnProcessing,
		RequestID: requestID,
		Data: map[string]any{
			"status":       "processing",
			"type":         requestType,
			"user_message": userMessage,
		},
	})
}

// PublishTurnCompleted publishes a turn.completed event
func (b *Broadcaster) PublishTurnCompleted(ctx context.Context, sessionID uuid.UUID, requestID string, result map[string]any) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnCompleted,
		RequestID: requestID,
		Data: map[string]any{
			"status": "completed",
			"result": result,
		},
	})
}

// PublishTurnFailed publishes a turn.failed event
func (b *Broadcaster) PublishTurnFailed(ctx context.Context, sessionID uuid.UUID, requestID, errorMsg string) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnFailed,
		RequestID: requestID,
		Data: map[string]any{
			"status": "failed",
			"error":  errorMsg,
		},
	})
}

// PublishSegmentsCompleted publishes the speaker segments of a turn.
func (b *Broadcaster) PublishSegmentsCompleted(ctx context.Context, sessionID uuid.UUID, requestID string, sequence int, segments any) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeSegmentsCompleted,
		RequestID: requestID,
		Data: map[string]any{
			"sequence": sequence,
			"segments": segments,
		},
	})
}

// PublishSessionEnded publishes a session.ended event
func (b *Broadcaster) PublishSessionEnded(ctx context.Context, sessionID uuid.UUID, sequence int) error {
	return b.publish(ctx, sessionID, Event{
		Type: EventTypeSessionEnded,
		Data: map[string]any{"sequence": sequence},
	})
}

// Subscribe opens a subscription to a session's events. The caller closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(sessionID))
}

func (b *Broadcaster) publish(ctx context.Context, sessionID uuid.UUID, event Event) error {
	event.SessionID = sessionID.String()
	channel := Channel(sessionID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)
	return nil
}
