package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_ProcessesAllTasks(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	pool := NewPool(4, func(_ context.Context, tk Task) {
		mu.Lock()
		defer mu.Unlock()
		seen[tk.ImageID] = true
	})

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		pool.Enqueue(Task{ImageID: id})
	}
	pool.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.True(t, seen[id], "task %s not processed", id)
	}
}

func TestPool_CloseWaitsForInFlightWork(t *testing.T) {
	done := make(chan struct{})

	pool := NewPool(1, func(_ context.Context, _ Task) {
		time.Sleep(50 * time.Millisecond)
		close(done)
	})

	pool.Enqueue(Task{ImageID: "slow"})
	pool.Close()

	select {
	case <-done:
	default:
		t.Fatal("Close returned before the task finished")
	}
}

func TestPool_EnqueueAfterCloseDoesNotPanic(t *testing.T) {
	pool := NewPool(1, func(_ context.Context, _ Task) {})
	pool.Close()

	assert.NotPanics(t, func() {
		pool.Enqueue(Task{ImageID: "late"})
	})
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	pool := NewPool(2, func(_ context.Context, _ Task) {})

	assert.NotPanics(t, func() {
		pool.Close()
		pool.Close()
	})
}
