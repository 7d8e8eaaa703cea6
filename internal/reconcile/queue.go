package reconcile

import "context"

// EventQueue carries the ids of parked events awaiting a resolution
// re-check. Implementations exist in memory, on disk and in Postgres; the
// store only sees this interface.
type EventQueue interface {
	TryEnqueue(eventID string) bool
	Enqueue(ctx context.Context, eventID string) bool
	Dequeue(ctx context.Context) (string, bool)
	Depth() int
	Capacity() int
	Close() error
}

type eventQueueSnapshotter interface {
	SnapshotEventIDs() []string
}

type inMemoryEventQueue struct {
	ch chan string
}

func NewInMemoryEventQueue(capacity int) EventQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryEventQueue{ch: make(chan string, capacity)}
}

func (q *inMemoryEventQueue) TryEnqueue(eventID string) bool {
	if q == nil || eventID == "" {
		return false
	}
	select {
	case q.ch <- eventID:
		return true
	default:
		return false
	}
}

func (q *inMemoryEventQueue) Enqueue(ctx context.Context, eventID string) bool {
	if q == nil || eventID == "" {
		return false
	}
	select {
	case q.ch <- eventID:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryEventQueue) Dequeue(ctx context.Context) (string, bool) {
	select {
	case eventID := <-q.ch:
		return eventID, true
	case <-ctx.Done():
		return "", false
	}
}

func (q *inMemoryEventQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryEventQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryEventQueue) Close() error {
	return nil
}
