package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a miniredis instance and returns a connected RedisClient.
func setupTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, mr
}

func sampleItem(jobID string, index int) WorkItem {
	return WorkItem{
		JobID:       jobID,
		Worker:      "bridge-specialist",
		Pass:        7,
		WorkerIndex: index,
		Attempt:     1,
		RequestJSON: `{"pass":7}`,
		TraceID:     "trace-123",
		SubmittedAt: time.Now().UnixMilli(),
	}
}

func TestNewRedisClient(t *testing.T) {
	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestPushPop(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		item := sampleItem("job-1", 2)
		require.NoError(t, client.Push(ctx, QueueName(item.Worker), item))

		popped, err := client.Pop(ctx, QueueName(item.Worker))
		require.NoError(t, err)
		require.NotNil(t, popped)
		assert.Equal(t, item, *popped)
	})

	t.Run("FIFO order", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, client.Push(ctx, "audit:q:queue", sampleItem(fmt.Sprintf("job-%d", i), i)))
		}
		for i := 0; i < 5; i++ {
			popped, err := client.Pop(ctx, "audit:q:queue")
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("job-%d", i), popped.JobID)
		}
	})

	t.Run("pop blocks until push", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		got := make(chan *WorkItem, 1)
		go func() {
			item, err := client.Pop(ctx, "audit:late:queue")
			assert.NoError(t, err)
			got <- item
		}()

		time.Sleep(100 * time.Millisecond)
		require.NoError(t, client.Push(ctx, "audit:late:queue", sampleItem("late", 0)))

		select {
		case item := <-got:
			require.NotNil(t, item)
			assert.Equal(t, "late", item.JobID)
		case <-time.After(2 * time.Second):
			t.Fatal("Pop did not return after item was pushed")
		}
	})

	t.Run("pop honours cancellation", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := client.Pop(ctx, "audit:empty:queue")
		assert.Error(t, err)
	})
}

func TestPublishSubscribe(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := client.Subscribe(ctx, ResultChannel("job-9"))
	require.NoError(t, err)

	want := Result{
		JobID:       "job-9",
		Error:       "rate limited",
		ErrorClass:  "transient",
		WorkerID:    "host-1-abcd",
		StartedAt:   time.Now().UnixMilli(),
		CompletedAt: time.Now().UnixMilli() + 100,
	}
	require.NoError(t, client.Publish(ctx, ResultChannel("job-9"), want))

	select {
	case got := <-results:
		assert.Equal(t, want, got)
		assert.True(t, got.HasError())
		assert.Equal(t, 100*time.Millisecond, got.Duration())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
	}

	cancel()
	select {
	case _, ok := <-results:
		assert.False(t, ok, "channel closes after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("result channel not closed")
	}
}

func TestRegisterAndListWorkers(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	meta := WorkerMeta{Name: "bridge", Protocol: "bridge", Passes: []int{7}, Description: "bridge specialist"}
	require.NoError(t, client.RegisterWorker(ctx, meta))
	require.NoError(t, client.AddWorkerCount(ctx, "bridge", 2))
	require.NoError(t, client.AddWorkerCount(ctx, "bridge", -1))

	assert.True(t, mr.Exists("audit:bridge:meta"))

	workers, err := client.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	meta.WorkerCount = 1
	assert.Equal(t, meta, workers[0])
}

func TestHeartbeat(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	ok, err := client.Healthy(ctx, "bridge")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Heartbeat(ctx, "bridge"))
	ok, err = client.Healthy(ctx, "bridge")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(31 * time.Second)
	ok, err = client.Healthy(ctx, "bridge")
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat expires after its TTL")
}

func TestWorkItem_Validate(t *testing.T) {
	valid := sampleItem("job-1", 0)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*WorkItem)
		want   string
	}{
		{"missing job id", func(w *WorkItem) { w.JobID = "" }, "job_id is required"},
		{"missing worker", func(w *WorkItem) { w.Worker = "" }, "worker is required"},
		{"negative pass", func(w *WorkItem) { w.Pass = -1 }, "pass must be non-negative"},
		{"missing request", func(w *WorkItem) { w.RequestJSON = "" }, "request_json is required"},
		{"missing timestamp", func(w *WorkItem) { w.SubmittedAt = 0 }, "submitted_at must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := valid
			tt.mutate(&item)
			err := item.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWorkItem_Age(t *testing.T) {
	item := WorkItem{SubmittedAt: time.Now().Add(-2 * time.Second).UnixMilli()}
	assert.GreaterOrEqual(t, item.Age(), 2*time.Second)
	assert.Zero(t, (&WorkItem{}).Age())
}
