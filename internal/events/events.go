// internal/events/events.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list that room mutation records are pushed
// onto for out-of-band consumers (activity feeds, analytics).
var DefaultQueueName = "statroom_room_events"

// RoomEventRecord is one successful room mutation.
type RoomEventRecord struct {
	RoomCode  string                 `json:"room_code"`
	EventType string                 `json:"event_type"`
	ActorID   string                 `json:"actor_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Publisher pushes room event records onto a Redis queue. A nil Publisher
// is valid and drops every record, so the engine runs fine without Redis.
type Publisher struct {
	rdb   *redis.Client
	queue string
	log   *logrus.Logger
}

// Connect dials Redis and verifies the connection before returning a
// Publisher bound to the given queue name.
func Connect(addr string, db int, queue string, logger *logrus.Logger) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueueName
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Publisher{rdb: rdb, queue: queue, log: logger}, nil
}

// Publish serializes the record and RPushes it onto the queue. Failures are
// logged and swallowed: the event queue is advisory and must never fail a
// room mutation.
func (p *Publisher) Publish(ctx context.Context, record RoomEventRecord) {
	if p == nil {
		return
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(record)
	if err != nil {
		p.log.Warnf("events: failed to marshal record for room %s: %v", record.RoomCode, err)
		return
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		p.log.Warnf("events: failed to push %s event for room %s: %v", record.EventType, record.RoomCode, err)
	}
}

// Close releases the underlying Redis client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}
