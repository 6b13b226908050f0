package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/pkg/queue"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(context.Background(), "redis://"+mr.Addr(), logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}
	return client, mr
}

func TestNewClient_HostPort(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), mr.Addr(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Failed to connect with host:port: %v", err)
	}
	defer client.Close()
}

func TestTurnQueue_FIFO(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	sessionID := uuid.New()

	first := queue.NewTurnRequest(sessionID, "I open the door.")
	second := queue.NewSegmentsRequest(sessionID, 1)
	for _, req := range []*queue.Request{first, second} {
		if err := q.EnqueueRequest(ctx, req); err != nil {
			t.Fatalf("Failed to enqueue request: %v", err)
		}
	}

	depth, err := q.RequestQueueDepth(ctx)
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("Expected depth 2, got %d", depth)
	}

	got, err := q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if got.RequestID != first.RequestID || got.Message != "I open the door." {
		t.Errorf("Expected first request, got %+v", got)
	}

	got, err = q.BlockingDequeueRequest(ctx, time.Second)
	if err != nil {
		t.Fatalf("Failed to blocking dequeue: %v", err)
	}
	if got == nil || got.Type != queue.RequestTypeSegments || got.Sequence != 1 {
		t.Errorf("Expected segments request, got %+v", got)
	}

	got, err = q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue from empty queue: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil from empty queue, got %+v", got)
	}
}

func TestTurnQueue_RejectsInvalidRequest(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	if err := q.EnqueueRequest(context.Background(), queue.NewTurnRequest(uuid.New(), "")); err == nil {
		t.Error("Expected error for empty turn message")
	}
	depth, _ := q.RequestQueueDepth(context.Background())
	if depth != 0 {
		t.Errorf("Invalid request was queued: depth %d", depth)
	}
}

func TestTurnQueue_Peek(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	sessionID := uuid.New()
	for _, msg := range []string{"one", "two", "three"} {
		if err := q.EnqueueRequest(ctx, queue.NewTurnRequest(sessionID, msg)); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}
	if err := client.GetRedisClient().RPush(ctx, requestsKey, "{not json").Err(); err != nil {
		t.Fatalf("Failed to push malformed entry: %v", err)
	}

	peeked, err := q.Peek(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to peek: %v", err)
	}
	if len(peeked) != 3 {
		t.Errorf("Expected 3 valid requests, got %d", len(peeked))
	}

	peeked, err = q.Peek(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to peek with limit: %v", err)
	}
	if len(peeked) != 2 || peeked[1].Message != "two" {
		t.Errorf("Unexpected limited peek: %+v", peeked)
	}

	depth, _ := q.RequestQueueDepth(ctx)
	if depth != 4 {
		t.Errorf("Peek removed requests: depth %d", depth)
	}
}

func TestTurnQueue_BlockingDequeueTimeout(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := NewTurnQueue(client).BlockingDequeueRequest(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected no error on timeout, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil request on timeout, got %+v", got)
	}
}

func TestResults_SaveAndLoad(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	results := NewResults(client)
	ctx := context.Background()
	sessionID := uuid.New()

	missing, err := results.Load(ctx, "nope")
	if err != nil {
		t.Fatalf("Failed to load missing result: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown request, got %+v", missing)
	}

	res := &Result{RequestID: "req-1", SessionID: sessionID, Status: ResultCompleted}
	if err := results.Save(ctx, res, map[string]int{"sequence": 3}); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}

	got, err := results.Load(ctx, "req-1")
	if err != nil {
		t.Fatalf("Failed to load result: %v", err)
	}
	if got.Status != ResultCompleted || got.SessionID != sessionID {
		t.Errorf("Unexpected result: %+v", got)
	}
	if string(got.Data) != `{"sequence":3}` {
		t.Errorf("Unexpected result data: %s", got.Data)
	}

	if ttl := mr.TTL(resultKey("req-1")); ttl != ResultTTL {
		t.Errorf("Expected TTL %v, got %v", ResultTTL, ttl)
	}
	mr.FastForward(ResultTTL + time.Second)
	expired, _ := results.Load(ctx, "req-1")
	if expired != nil {
		t.Errorf("Expected result to expire, got %+v", expired)
	}
}
