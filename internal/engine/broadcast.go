package engine

import (
	"sync"

	"taskwatch/internal/task"
)

// StatusChange is one task state observation pushed to subscribers.
type StatusChange struct {
	TaskID   string
	Label    string
	State    task.State
	Detail   string
	Progress int
}

const subscriberBuffer = 32

// broadcaster fans StatusChange values out to subscribers. Delivery is
// best-effort; a subscriber that stops draining loses updates rather than
// stalling the engine.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan StatusChange
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan StatusChange)}
}

// Subscribe registers a new observer. The returned cancel function must be
// called to release the subscription.
func (b *broadcaster) Subscribe() (<-chan StatusChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan StatusChange, subscriberBuffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publish(change StatusChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
