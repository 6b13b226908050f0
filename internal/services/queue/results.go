package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResultTTL is how long a processed request's result stays readable.
const ResultTTL = 24 * time.Hour

type ResultStatus string

const (
	ResultQueued     ResultStatus = "queued"
	ResultProcessing ResultStatus = "processing"
	ResultCompleted  ResultStatus = "completed"
	ResultFailed     ResultStatus = "failed"
)

// Result is the last known state of a queued request. Clients without an
// event stream poll it.
type Result struct {
	RequestID string          `json:"request_id"`
	SessionID uuid.UUID       `json:"session_id"`
	Status    ResultStatus    `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Results keeps per-request results in Redis.
type Results struct {
	client *Client
}

func NewResults(client *Client) *Results {
	return &Results{client: client}
}

func resultKey(requestID string) string {
	return fmt.Sprintf("request-result:%s", requestID)
}

// Save overwrites the result of a request. data, when non-nil, is encoded
// as JSON.
func (r *Results) Save(ctx context.Context, res *Result, data any) error {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal result data: %w", err)
		}
		res.Data = raw
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.client.rdb.Set(ctx, resultKey(res.RequestID), payload, ResultTTL).Err(); err != nil {
		r.client.logger.Error("Failed to save request result", "error", err, "request_id", res.RequestID)
		return fmt.Errorf("failed to save request result: %w", err)
	}
	return nil
}

// Load returns the result of a request, or nil if unknown or expired.
func (r *Results) Load(ctx context.Context, requestID string) (*Result, error) {
	payload, err := r.client.rdb.Get(ctx, resultKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load request result: %w", err)
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to parse request result: %w", err)
	}
	return &res, nil
}
