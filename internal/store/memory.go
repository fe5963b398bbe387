package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store. It keeps records sorted by sk within each
// user partition and is safe for concurrent use. Data is lost on restart -
// it exists for tests and for wiring services without a backend.
type Memory struct {
	mu       sync.RWMutex
	users    map[string][]Record // sorted ascending by SK
	notifier Notifier
	pageSize int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string][]Record)}
}

// SetNotifier attaches a change-feed consumer. Mutations made after this call
// emit change events synchronously, in write order.
func (m *Memory) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// SetPageSize caps how many records Query returns per page even without an
// explicit Limit, mimicking a backend that pages large scans on its own.
// Tests use this to exercise continuation-key following.
func (m *Memory) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// find returns the insertion index for sk and whether it is present.
func find(recs []Record, sk string) (int, bool) {
	i := sort.Search(len(recs), func(i int) bool { return recs[i].SK >= sk })
	return i, i < len(recs) && recs[i].SK == sk
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, user, sk string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.users[user]
	i, ok := find(recs, sk)
	if !ok {
		return nil, ErrNotFound
	}
	rec := recs[i]
	return &rec, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	ev := m.putLocked(rec)
	n := m.notifier
	m.mu.Unlock()

	if n != nil {
		n.Notify(ctx, []Event{ev})
	}
	return nil
}

func (m *Memory) putLocked(rec Record) Event {
	recs := m.users[rec.User]
	i, ok := find(recs, rec.SK)
	var old *Record
	if ok {
		prev := recs[i]
		old = &prev
		recs[i] = rec
	} else {
		recs = append(recs, Record{})
		copy(recs[i+1:], recs[i:])
		recs[i] = rec
	}
	m.users[rec.User] = recs
	return eventFor(old, rec)
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, user, sk string) (*Record, error) {
	m.mu.Lock()
	recs := m.users[user]
	i, ok := find(recs, sk)
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	old := recs[i]
	m.users[user] = append(recs[:i], recs[i+1:]...)
	n := m.notifier
	m.mu.Unlock()

	if n != nil {
		n.Notify(ctx, []Event{removeEvent(old)})
	}
	return &old, nil
}

// BatchPut implements Store. All records are applied; one change batch is
// emitted for the whole write.
func (m *Memory) BatchPut(ctx context.Context, recs []Record) error {
	m.mu.Lock()
	events := make([]Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, m.putLocked(rec))
	}
	n := m.notifier
	m.mu.Unlock()

	if n != nil && len(events) > 0 {
		n.Notify(ctx, events)
	}
	return nil
}

// BatchDelete implements Store. Missing keys are skipped.
func (m *Memory) BatchDelete(ctx context.Context, user string, sks []string) error {
	m.mu.Lock()
	var events []Event
	for _, sk := range sks {
		recs := m.users[user]
		i, ok := find(recs, sk)
		if !ok {
			continue
		}
		old := recs[i]
		m.users[user] = append(recs[:i], recs[i+1:]...)
		events = append(events, removeEvent(old))
	}
	n := m.notifier
	m.mu.Unlock()

	if n != nil && len(events) > 0 {
		n.Notify(ctx, events)
	}
	return nil
}

// Users returns every user partition with at least one record, sorted.
func (m *Memory) Users(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]string, 0, len(m.users))
	for user, recs := range m.users {
		if len(recs) > 0 {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, user string, q Query) (*Page, error) {
	start, end := q.Start, q.End
	if q.Prefix != "" {
		start, end = PrefixRange(q.Prefix)
	}

	m.mu.RLock()
	recs := m.users[user]
	var window []Record
	for _, rec := range recs {
		if rec.SK >= start && rec.SK <= end {
			window = append(window, rec)
		}
	}
	pageSize := m.pageSize
	m.mu.RUnlock()

	if q.Descending {
		for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
			window[i], window[j] = window[j], window[i]
		}
	}

	if q.StartAfter != "" {
		cut := 0
		for cut < len(window) {
			sk := window[cut].SK
			if (q.Descending && sk < q.StartAfter) || (!q.Descending && sk > q.StartAfter) {
				break
			}
			cut++
		}
		window = window[cut:]
	}

	limit := q.Limit
	if pageSize > 0 && (limit == 0 || pageSize < limit) {
		limit = pageSize
	}

	page := &Page{}
	if limit > 0 && len(window) > limit {
		page.Items = append(page.Items, window[:limit]...)
		page.NextKey = page.Items[len(page.Items)-1].SK
	} else {
		page.Items = append(page.Items, window...)
	}
	return page, nil
}
