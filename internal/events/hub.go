package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind tags what part of the store changed.
type Kind string

const (
	KindWorkspaces Kind = "workspaces"
	KindActions    Kind = "actions"
)

// Event is a single change notification. It carries no payload: consumers
// read the slice they care about from the store after being notified.
type Event struct {
	ID          int64     `json:"id"`
	Kind        Kind      `json:"kind"`
	At          time.Time `json:"at"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	ActionID    string    `json:"action_id,omitempty"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{}
}

func (s subscriber) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish stamps ev with the next ID and fans it out. Callers that need a
// strict publish order across goroutines must serialize calls themselves.
func (h *Hub) Publish(ev Event) Event {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	ev.ID = h.nextID.Add(1)
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		// Don't let slow clients block producers.
		select {
		case sub.ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return ev
}

// Subscribe returns a channel receiving events of the given kinds (all kinds
// when none are given) and a cancel func that closes it.
func (h *Hub) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	sub := subscriber{ch: make(chan Event, 128)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// Close drops every subscriber, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
