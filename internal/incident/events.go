package incident

import (
	"sync"
	"time"
)

// EventType identifies a controller event.
type EventType string

const (
	// EventFetchStarted fires when a feed fetch begins.
	EventFetchStarted EventType = "fetch_started"

	// EventFetchSucceeded fires when a feed fetch completes and the
	// collection has been replaced. Count carries the incident count.
	EventFetchSucceeded EventType = "fetch_succeeded"

	// EventFetchFailed fires when a feed fetch fails. The collection is
	// cleared and Error carries the user-visible message.
	EventFetchFailed EventType = "fetch_failed"

	// EventReordered fires whenever the collection order changes.
	// Incidents carries the new ordered snapshot.
	EventReordered EventType = "reordered"

	// EventImageReady fires when a sign image becomes available for one
	// incident. IncidentID identifies it; arrivals are unordered and
	// delivered per incident, never in bulk.
	EventImageReady EventType = "image_ready"
)

// Event is a notification from the controller to presentation clients.
type Event struct {
	Type       EventType  `json:"type"`
	At         time.Time  `json:"at"`
	Count      int        `json:"count,omitempty"`
	Error      string     `json:"error,omitempty"`
	IncidentID string     `json:"incidentId,omitempty"`
	Incidents  []Incident `json:"incidents,omitempty"`
	Policy     SortPolicy `json:"policy,omitempty"`
}

// subscriberBufferSize bounds the per-subscriber queue. A subscriber that
// falls this far behind loses events rather than blocking the controller.
const subscriberBufferSize = 64

type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers ev to all subscribers without blocking.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close terminates all subscriptions.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
