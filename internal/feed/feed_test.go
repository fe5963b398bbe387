package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

type captureConsumer struct {
	mu      sync.Mutex
	batches [][]store.Event
}

func (c *captureConsumer) Process(ctx context.Context, events []store.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]store.Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureConsumer) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestHubDeliversAllEventsInOrder(t *testing.T) {
	consumer := &captureConsumer{}
	hub := NewHub(consumer)
	hub.Start()

	mem := store.NewMemory()
	mem.SetNotifier(hub)

	ctx := context.Background()
	for _, sk := range []string{"2023-01-01a", "2023-01-02b", "2023-01-03c"} {
		if err := mem.Put(ctx, store.Record{User: "u1", SK: sk, Date: sk[:10]}); err != nil {
			t.Fatal(err)
		}
	}

	hub.Stop()

	if got := consumer.total(); got != 3 {
		t.Fatalf("delivered %d events, want 3", got)
	}

	var seen []string
	consumer.mu.Lock()
	for _, b := range consumer.batches {
		for _, ev := range b {
			seen = append(seen, ev.SK)
		}
	}
	consumer.mu.Unlock()
	for i, want := range []string{"2023-01-01a", "2023-01-02b", "2023-01-03c"} {
		if seen[i] != want {
			t.Errorf("event %d = %s, want %s", i, seen[i], want)
		}
	}
}

func TestHubFlushesOnInterval(t *testing.T) {
	consumer := &captureConsumer{}
	hub := NewHub(consumer)
	hub.flushInterval = 10 * time.Millisecond
	hub.Start()
	defer hub.Stop()

	hub.Notify(context.Background(), []store.Event{
		{Type: store.EventInsert, User: "u1", SK: "2023-01-01a"},
	})

	deadline := time.Now().Add(time.Second)
	for consumer.total() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event not flushed within a second")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// requeueConsumer notifies the hub from inside Process, the way the insight
// aggregator does when a mapping change rewrites stored rows.
type requeueConsumer struct {
	captureConsumer
	hub   *Hub
	once  sync.Once
	extra int
}

func (c *requeueConsumer) Process(ctx context.Context, events []store.Event) error {
	c.once.Do(func() {
		burst := make([]store.Event, c.extra)
		for i := range burst {
			burst[i] = store.Event{Type: store.EventModify, User: "u1", SK: fmt.Sprintf("2023-02-%02d%d", i%28+1, i)}
		}
		c.hub.Notify(ctx, burst)
	})
	return c.captureConsumer.Process(ctx, events)
}

func TestHubWorkerCanRequeueDuringProcessing(t *testing.T) {
	consumer := &requeueConsumer{extra: 3000}
	hub := NewHub(consumer)
	consumer.hub = hub
	hub.flushInterval = 5 * time.Millisecond
	hub.Start()

	ctx := context.Background()
	hub.Notify(ctx, []store.Event{{Type: store.EventInsert, User: "u1", SK: "2023-01-01a"}})
	hub.Notify(ctx, []store.Event{{Type: store.EventInsert, User: "u2", SK: "2023-03-01b"}})

	deadline := time.Now().Add(2 * time.Second)
	for consumer.total() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first event never processed")
		}
		time.Sleep(time.Millisecond)
	}

	// A worker feeding its own queue must never wedge the hub: Stop has to
	// drain the whole backlog and return.
	done := make(chan struct{})
	go func() {
		hub.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub failed to drain a worker-queued backlog")
	}

	if got := consumer.total(); got != 3002 {
		t.Fatalf("delivered %d events, want 3002", got)
	}
}

func TestHubStopIsIdempotent(t *testing.T) {
	hub := NewHub(&captureConsumer{})
	hub.Start()
	hub.Stop()
	hub.Stop()
}
