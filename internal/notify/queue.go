// internal/notify/queue.go
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ListKey is the Redis list downstream consumers (mailers, push senders)
// drain from.
const ListKey = "arbiter:notifications"

// Record is one outbound notification, serialized as JSON onto the list.
type Record struct {
	UserID  uuid.UUID              `json:"userId"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	At      time.Time              `json:"at"`
}

// Queue decouples gameplay from notification delivery: Notify appends to a
// bounded channel and returns immediately; a single drain goroutine pushes
// records onto Redis. A full channel drops the record with a log line.
type Queue struct {
	ch     chan Record
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewQueue builds a queue with the given buffer size (default 256).
func NewQueue(rdb *redis.Client, logger *logrus.Logger, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{
		ch:     make(chan Record, buffer),
		rdb:    rdb,
		logger: logger,
	}
}

// Notify enqueues without ever blocking the caller.
func (q *Queue) Notify(userID uuid.UUID, event string, payload map[string]interface{}) {
	rec := Record{UserID: userID, Event: event, Payload: payload, At: time.Now()}
	select {
	case q.ch <- rec:
	default:
		q.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"event":   event,
		}).Warn("notification queue full, dropping record")
	}
}

// Run drains until ctx is cancelled, then flushes whatever is buffered. Each
// push gets its own bounded context: a record taken from the channel as ctx
// dies must still reach Redis, not fail against the cancelled context.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.flush()
			return
		case rec := <-q.ch:
			pushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			q.push(pushCtx, rec)
			cancel()
		}
	}
}

func (q *Queue) flush() {
	for {
		select {
		case rec := <-q.ch:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			q.push(ctx, rec)
			cancel()
		default:
			return
		}
	}
}

func (q *Queue) push(ctx context.Context, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		q.logger.Warnf("notify: marshal failed: %v", err)
		return
	}
	if err := q.rdb.RPush(ctx, ListKey, data).Err(); err != nil {
		q.logger.Warnf("notify: redis push failed for %s/%s: %v", rec.UserID, rec.Event, err)
	}
}
