// Package feed delivers store change events to the insight aggregator. It
// decouples write paths from aggregation: stores notify synchronously, the
// hub buffers and re-batches, and a single worker applies batches in order.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// Consumer processes one change batch.
type Consumer interface {
	Process(ctx context.Context, events []store.Event) error
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 200 * time.Millisecond
)

// Hub is a store.Notifier that batches events and hands them to a consumer
// on a single worker goroutine. Batches are applied in arrival order; a
// failed batch is logged and dropped, and the periodic reconcile job corrects
// any resulting drift.
//
// The queue is unbounded. The consumer's own store writes notify the hub
// again (mapping rewrites emit a modify event per recategorized row), so a
// bounded buffer would let the worker fill its own queue and block every
// producer behind it.
type Hub struct {
	consumer Consumer

	mu      sync.Mutex
	pending []store.Event
	wake    chan struct{}

	batchSize     int
	flushInterval time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. Start must be called before events flow.
func NewHub(consumer Consumer) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		consumer:      consumer,
		wake:          make(chan struct{}, 1),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Notify implements store.Notifier. It only appends to the queue and never
// blocks, so it is safe to call from inside the consumer itself.
func (h *Hub) Notify(ctx context.Context, events []store.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case <-h.done:
		log.Printf("WARNING: change feed stopped, dropping %d events", len(events))
		return
	default:
	}
	h.mu.Lock()
	h.pending = append(h.pending, events...)
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// take swaps out the queued events.
func (h *Hub) take() []store.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := h.pending
	h.pending = nil
	return events
}

// Start runs the dispatch worker.
func (h *Hub) Start() {
	go h.run()
}

// Stop drains buffered events into final batches and waits for the worker to
// finish.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *Hub) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	var batch []store.Event
	flush := func() {
		for len(batch) > 0 {
			n := len(batch)
			if n > h.batchSize {
				n = h.batchSize
			}
			if err := h.consumer.Process(context.Background(), batch[:n]); err != nil {
				log.Printf("ERROR: failed to process change batch of %d events: %v", n, err)
			}
			batch = batch[n:]
		}
		batch = nil
	}

	for {
		select {
		case <-h.wake:
			batch = append(batch, h.take()...)
			if len(batch) >= h.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-h.ctx.Done():
			// Processing can queue more events; drain until quiet.
			for {
				batch = append(batch, h.take()...)
				if len(batch) == 0 {
					return
				}
				flush()
			}
		}
	}
}
