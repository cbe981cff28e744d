// Package queue defines the work-queue contract the orchestrator
// publishes executable tasks to, and the callbacks executors use to
// report progress back.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned by Publish/PublishDelayed once Close has
	// been called.
	ErrQueueClosed = errors.New("queue: closed")
	// ErrEmptyQueueName is returned when queueName is empty.
	ErrEmptyQueueName = errors.New("queue: queue name must not be empty")
)

// Message is the envelope published for one task attempt.
type Message struct {
	TaskID     uuid.UUID
	WorkflowID uuid.UUID
	TaskType   string
	Payload    map[string]any
	Priority   int // 0..9, higher is more urgent; memqueue delivers higher first, redisqueue keeps FIFO order
}

// WorkQueue is the at-least-once messaging substrate the orchestrator
// publishes to. Consumers deliver completion/failure back to the
// orchestrator via its onTaskCompleted/onTaskFailed methods, not through
// this interface.
type WorkQueue interface {
	// Publish enqueues a task for immediate execution.
	Publish(ctx context.Context, queueName string, msg Message) error
	// PublishDelayed enqueues a task to become visible after delay,
	// used for retry scheduling.
	PublishDelayed(ctx context.Context, queueName string, msg Message, delay time.Duration) error
	// Close releases the queue's resources.
	Close() error
}

// Subscriber is the consumer side of a work queue, used by worker
// processes that pull messages off a queue and report results back to
// the orchestrator. Both memqueue.Queue and redisqueue.Queue implement
// it.
type Subscriber interface {
	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context, queueName string) (Message, error)
	// Ack acknowledges successful processing of a delivered message.
	Ack(ctx context.Context, queueName string, msg Message) error
}
