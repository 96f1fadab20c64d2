package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	handled  []int64
	block    chan struct{}
	deadline bool
}

func (h *recordingHandler) Handle(ctx context.Context, event ActivityEvent) Result {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event.ObjectID)
	_, h.deadline = ctx.Deadline()
	return Result{Outcome: OutcomeDelivered}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestPoolProcessesSubmittedEvents(t *testing.T) {
	handler := &recordingHandler{}
	pool := NewPool(handler, 2, 10, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := int64(1); i <= 5; i++ {
		pool.Submit(context.Background(), ActivityEvent{ObjectID: i})
	}
	require.Eventually(t, func() bool { return handler.count() == 5 }, time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
	require.True(t, handler.deadline)
}

func TestPoolDrainsQueueOnShutdown(t *testing.T) {
	handler := &recordingHandler{block: make(chan struct{})}
	pool := NewPool(handler, 1, 10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := int64(1); i <= 4; i++ {
		pool.Submit(context.Background(), ActivityEvent{ObjectID: i})
	}
	cancel()
	close(handler.block)
	pool.Wait()

	require.Equal(t, 4, handler.count())
}

func TestPoolProcessesInlineWhenQueueFull(t *testing.T) {
	handler := &recordingHandler{}
	pool := NewPool(handler, 1, 1, 0)

	// Workers are not started, so the second submission cannot be queued.
	pool.Submit(context.Background(), ActivityEvent{ObjectID: 1})
	pool.Submit(context.Background(), ActivityEvent{ObjectID: 2})
	require.Equal(t, 1, handler.count())
	require.Equal(t, []int64{2}, handler.handled)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	cancel()
	pool.Wait()
	require.Equal(t, 2, handler.count())
}

func TestPoolWorkSurvivesCallerCancellation(t *testing.T) {
	var seen error
	var mu sync.Mutex
	handler := handlerFunc(func(ctx context.Context, _ ActivityEvent) Result {
		mu.Lock()
		defer mu.Unlock()
		seen = ctx.Err()
		return Result{}
	})
	pool := NewPool(handler, 1, 1, 0)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	pool.Submit(reqCtx, ActivityEvent{ObjectID: 1})
	pool.Submit(reqCtx, ActivityEvent{ObjectID: 2})
	cancelReq()

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	cancel()
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, seen)
}

type handlerFunc func(ctx context.Context, event ActivityEvent) Result

func (f handlerFunc) Handle(ctx context.Context, event ActivityEvent) Result {
	return f(ctx, event)
}
