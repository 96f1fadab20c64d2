package domain

import (
	"context"
	"log"
	"sync"
	"time"
)

// EventHandler processes a single activity event.
type EventHandler interface {
	Handle(ctx context.Context, event ActivityEvent) Result
}

// Pool runs events through a handler on a fixed set of workers fed by a bounded queue.
type Pool struct {
	handler          EventHandler
	jobs             chan ActivityEvent
	workers          int
	timeout          time.Duration
	logger           *log.Logger
	wg               sync.WaitGroup
	shutdownComplete chan struct{}
}

// NewPool constructs a Pool. Non-positive sizes fall back to a single worker and queue slot.
func NewPool(handler EventHandler, workers, queueSize int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		handler:          handler,
		jobs:             make(chan ActivityEvent, queueSize),
		workers:          workers,
		timeout:          timeout,
		logger:           log.New(log.Writer(), "[pool] ", log.LstdFlags|log.Lshortfile),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the workers. They exit once ctx is cancelled and the queue is drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	go func() {
		p.wg.Wait()
		close(p.shutdownComplete)
	}()
}

// Submit queues an event, or handles it on the caller's goroutine when the queue is full.
func (p *Pool) Submit(ctx context.Context, event ActivityEvent) {
	select {
	case p.jobs <- event:
	default:
		p.logger.Printf("queue full, processing inline (activity=%d)", event.ObjectID)
		p.process(ctx, event)
	}
}

// Wait blocks until every worker has stopped.
func (p *Pool) Wait() {
	<-p.shutdownComplete
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.jobs:
			p.process(ctx, event)
		case <-ctx.Done():
			for {
				select {
				case event := <-p.jobs:
					p.process(ctx, event)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(parent context.Context, event ActivityEvent) {
	// Started work runs to a terminal outcome even during shutdown.
	ctx := context.WithoutCancel(parent)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	p.handler.Handle(ctx, event)
}
