package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cortexflow/orchestra/internal/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(client, nil)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestPublishAndReceive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := queue.Message{
		TaskID:     uuid.New(),
		WorkflowID: uuid.New(),
		TaskType:   "http",
		Payload:    map[string]any{"url": "https://example.com"},
		Priority:   5,
	}
	require.NoError(t, q.Publish(ctx, "default", msg))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := q.Receive(recvCtx, "default")
	require.NoError(t, err)
	require.Equal(t, msg.TaskID, got.TaskID)
	require.Equal(t, msg.TaskType, got.TaskType)
	require.Equal(t, msg.Priority, got.Priority)
}

func TestPublishDelayedNotVisibleImmediately(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := queue.Message{TaskID: uuid.New(), TaskType: "shell"}
	require.NoError(t, q.PublishDelayed(ctx, "retry", msg, 2*time.Second))

	// Nothing should be on the ready list yet.
	q.promoteDue()
	n, err := q.client.LLen(ctx, listKeyPrefix+"retry").Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	// promoteDue compares scores against the process's wall clock, not
	// miniredis's, so real time has to pass.
	time.Sleep(3 * time.Second)
	q.promoteDue()
	n, err = q.client.LLen(ctx, listKeyPrefix+"retry").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestPublishDelayedNonPositiveIsImmediate(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := queue.Message{TaskID: uuid.New(), TaskType: "sql"}
	require.NoError(t, q.PublishDelayed(ctx, "immediate", msg, 0))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := q.Receive(recvCtx, "immediate")
	require.NoError(t, err)
	require.Equal(t, msg.TaskID, got.TaskID)
}
