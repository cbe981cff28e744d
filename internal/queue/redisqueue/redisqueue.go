// Package redisqueue implements queue.WorkQueue on top of Redis: a list
// per queue name for immediately-visible messages, and a sorted set per
// queue name (scored by the publish-at unix timestamp) for delayed
// messages, promoted to the list by a small background poller.
//
// Publish and PublishDelayed are wrapped in a circuit breaker so a
// degraded Redis does not block an orchestrator event handler — per the
// platform's "queue publish errors" policy, a publish failure leaves
// the task in the queued status in the store, and the recovery sweeper
// republishes it later.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexflow/orchestra/internal/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	knownQueuesKey  = "orchestra:queues"
	listKeyPrefix   = "orchestra:queue:"
	delayedKeyPrefix = "orchestra:delayed:"
	pollSchedule    = "@every 1s"
)

type wireMessage struct {
	TaskID     uuid.UUID      `json:"task_id"`
	WorkflowID uuid.UUID      `json:"workflow_id"`
	TaskType   string         `json:"task_type"`
	Payload    map[string]any `json:"payload"`
	Priority   int            `json:"priority"`
}

// Queue is a Redis-backed queue.WorkQueue.
type Queue struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	poller  *cron.Cron
	logger  *logrus.Logger
}

// New constructs a Queue and starts its delayed-message poller. Close
// must be called to stop the poller when the queue is no longer needed.
func New(client *redis.Client, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redisqueue",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	q := &Queue{client: client, breaker: breaker, logger: logger}
	q.poller = cron.New()
	_ = q.poller.AddFunc(pollSchedule, q.promoteDue)
	q.poller.Start()
	return q
}

// Publish enqueues msg on queueName for immediate delivery via RPUSH.
func (q *Queue) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if queueName == "" {
		return queue.ErrEmptyQueueName
	}
	payload, err := json.Marshal(toWire(msg))
	if err != nil {
		return fmt.Errorf("redisqueue: marshal message: %w", err)
	}
	_, err = q.breaker.Execute(func() (any, error) {
		pipe := q.client.TxPipeline()
		pipe.SAdd(ctx, knownQueuesKey, queueName)
		pipe.RPush(ctx, listKeyPrefix+queueName, payload)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("redisqueue: publish: %w", err)
	}
	return nil
}

// PublishDelayed enqueues msg on queueName, visible only after delay,
// via ZADD on a per-queue sorted set scored by the publish-at time.
func (q *Queue) PublishDelayed(ctx context.Context, queueName string, msg queue.Message, delay time.Duration) error {
	if queueName == "" {
		return queue.ErrEmptyQueueName
	}
	if delay <= 0 {
		return q.Publish(ctx, queueName, msg)
	}
	payload, err := json.Marshal(toWire(msg))
	if err != nil {
		return fmt.Errorf("redisqueue: marshal message: %w", err)
	}
	visibleAt := float64(time.Now().Add(delay).Unix())
	_, err = q.breaker.Execute(func() (any, error) {
		pipe := q.client.TxPipeline()
		pipe.SAdd(ctx, knownQueuesKey, queueName)
		pipe.ZAdd(ctx, delayedKeyPrefix+queueName, redis.Z{Score: visibleAt, Member: payload})
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("redisqueue: publish delayed: %w", err)
	}
	return nil
}

// promoteDue moves due members of every known queue's delayed set onto
// its ready list. Run on the poller's schedule.
func (q *Queue) promoteDue() {
	ctx := context.Background()
	names, err := q.client.SMembers(ctx, knownQueuesKey).Result()
	if err != nil {
		q.logger.WithError(err).Warn("redisqueue: failed to list known queues")
		return
	}
	now := float64(time.Now().Unix())
	for _, name := range names {
		delayedKey := delayedKeyPrefix + name
		due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%f", now),
		}).Result()
		if err != nil {
			q.logger.WithError(err).WithField("queue", name).Warn("redisqueue: failed to scan delayed set")
			continue
		}
		for _, member := range due {
			pipe := q.client.TxPipeline()
			pipe.RPush(ctx, listKeyPrefix+name, member)
			pipe.ZRem(ctx, delayedKey, member)
			if _, err := pipe.Exec(ctx); err != nil {
				q.logger.WithError(err).WithField("queue", name).Warn("redisqueue: failed to promote delayed message")
			}
		}
	}
}

// Receive blocks (via BLPOP) until a message is available on queueName
// or ctx is done.
func (q *Queue) Receive(ctx context.Context, queueName string) (queue.Message, error) {
	var result []string
	for {
		var err error
		result, err = q.client.BLPop(ctx, 5*time.Second, listKeyPrefix+queueName).Result()
		if err == redis.Nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return queue.Message{}, ctxErr
			}
			continue
		}
		if err != nil {
			return queue.Message{}, fmt.Errorf("redisqueue: receive: %w", err)
		}
		break
	}
	// result[0] is the key name, result[1] is the payload.
	var wm wireMessage
	if err := json.Unmarshal([]byte(result[1]), &wm); err != nil {
		return queue.Message{}, fmt.Errorf("redisqueue: unmarshal message: %w", err)
	}
	return fromWire(wm), nil
}

// Ack is a no-op: BLPOP already removed the message from the list, so
// redelivery on crash is not guaranteed by this queue beyond what the
// orchestrator's own idempotent handlers already tolerate.
func (q *Queue) Ack(_ context.Context, _ string, _ queue.Message) error {
	return nil
}

// Close stops the delayed-message poller.
func (q *Queue) Close() error {
	q.poller.Stop()
	return nil
}

func toWire(m queue.Message) wireMessage {
	return wireMessage{
		TaskID:     m.TaskID,
		WorkflowID: m.WorkflowID,
		TaskType:   m.TaskType,
		Payload:    m.Payload,
		Priority:   m.Priority,
	}
}

func fromWire(wm wireMessage) queue.Message {
	return queue.Message{
		TaskID:     wm.TaskID,
		WorkflowID: wm.WorkflowID,
		TaskType:   wm.TaskType,
		Payload:    wm.Payload,
		Priority:   wm.Priority,
	}
}
