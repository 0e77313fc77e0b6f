package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSingleWorkerPreservesOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
		done = make(chan struct{})
	)
	q := NewQueue("ordered", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		if len(seen) == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(Job{ID: id}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestQueueCountsFailures(t *testing.T) {
	done := make(chan struct{})
	q := NewQueue("failing", func(ctx context.Context, job Job) error {
		defer close(done)
		return errors.New("boom")
	}, QueueConfig{})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	<-done
	q.Stop()
	assert.Equal(t, uint64(1), q.Failed())
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
	q.Stop()
}
