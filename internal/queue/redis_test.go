package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/adlens/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueue_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := queue.NewRedisQueue(setupRedis(t), "test")
	ctx := context.Background()

	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, d, "empty queue")

	msg := queue.Message{JobID: "job-1", Token: "tok-a", Payload: []byte(`{"filename":"a.csv"}`), Policy: queue.DefaultRetryPolicy}
	require.NoError(t, q.Enqueue(ctx, msg))
	assert.ErrorIs(t, q.Enqueue(ctx, msg), queue.ErrDuplicate)

	d, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.JobID)
	assert.Equal(t, "tok-a", d.Token)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, queue.DefaultRetryPolicy, d.Policy)
	assert.JSONEq(t, `{"filename":"a.csv"}`, string(d.Payload))

	again, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again, "claimed message is hidden")

	require.NoError(t, q.Retry(ctx, "job-1", "tok-a", 0))
	d, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Attempt)

	require.NoError(t, q.Extend(ctx, "job-1", "tok-a", time.Minute))
	require.NoError(t, q.Ack(ctx, "job-1", "tok-a"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, q.Extend(ctx, "job-1", "tok-a", time.Minute), queue.ErrNotQueued)

	// acknowledged ids can be queued again with a fresh attempt counter
	require.NoError(t, q.Enqueue(ctx, msg))
	d, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Attempt)
}

func TestRedisQueue_ExpiredLeaseRedelivers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := queue.NewRedisQueue(setupRedis(t), "lease")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-1"}))
	d, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, d)

	time.Sleep(100 * time.Millisecond)
	d, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Attempt)
}

func TestRedisQueue_RetryDelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := queue.NewRedisQueue(setupRedis(t), "delay")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-1"}))
	_, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, "job-1", "", time.Hour))

	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, d, "not visible until the backoff elapses")
}

func TestRedisQueue_Remove(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := queue.NewRedisQueue(setupRedis(t), "remove")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-1"}))
	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-2"}))

	removed, err := q.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, removed)

	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-2", d.JobID)
}

func TestRedisQueue_TokenGuardsSettling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := queue.NewRedisQueue(setupRedis(t), "token")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-1", Token: "tok-new"}))
	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)

	// a worker still holding a delivery of an earlier submission
	assert.ErrorIs(t, q.Extend(ctx, "job-1", "tok-old", time.Minute), queue.ErrNotQueued)
	assert.ErrorIs(t, q.Retry(ctx, "job-1", "tok-old", 0), queue.ErrNotQueued)
	require.NoError(t, q.Ack(ctx, "job-1", "tok-old"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "message of the current submission survives")

	require.NoError(t, q.Retry(ctx, "job-1", "tok-new", 0))
	d, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "tok-new", d.Token)
	assert.Equal(t, 2, d.Attempt)

	require.NoError(t, q.Ack(ctx, "job-1", "tok-new"))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
