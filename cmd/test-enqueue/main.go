package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/gm-engine/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "localhost:6379", "Redis address (host:port or redis:// URL)")
	sessionFlag := flag.String("session", "", "session ID to play (required)")
	message := flag.String("message", "I look around.", "player message for the queued turn")
	segments := flag.Int("segments", 0, "also queue segmentation of this turn sequence")
	flag.Parse()

	sessionID, err := uuid.Parse(*sessionFlag)
	if err != nil {
		log.Fatal("A valid -session ID is required: ", err)
	}

	ctx := context.Background()
	client, err := queue.NewClient(ctx, *redisURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}
	defer client.Close()

	fmt.Println("Connected to Redis successfully!")

	turns := queue.NewTurnQueue(client)
	results := queue.NewResults(client)
	enqueue := func(req *queuePkg.Request) {
		if err := results.Save(ctx, &queue.Result{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Status:    queue.ResultQueued,
		}, nil); err != nil {
			log.Fatal("Failed to save request status: ", err)
		}
		if err := turns.EnqueueRequest(ctx, req); err != nil {
			log.Fatal("Failed to enqueue request: ", err)
		}
		fmt.Printf("✅ Enqueued %s request: %s\n", req.Type, req.RequestID)
	}

	enqueue(queuePkg.NewTurnRequest(sessionID, *message))
	if *segments > 0 {
		enqueue(queuePkg.NewSegmentsRequest(sessionID, *segments))
	}

	depth, err := turns.RequestQueueDepth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth: ", err)
	}

	fmt.Printf("\n📊 Queue depth: %d requests\n", depth)
	fmt.Println("\n💡 Now start the worker to see it process these requests!")
	fmt.Println("   Run: go run cmd/worker/main.go")
	fmt.Printf("   Poll: curl localhost:8080/v1/requests/<request_id>\n")
}
