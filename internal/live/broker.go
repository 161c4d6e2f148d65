package live

import (
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Broker is the in-process Channel. Unlike the session (single-writer by
// design), the broker does see concurrent callers: every spectator
// connection subscribes and cancels from its own goroutine, so the
// registry is mutex-guarded.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[string]chan Event // matchID -> subscriber id -> outbox
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[string]chan Event)}
}

func (b *Broker) Subscribe(matchID string) *Subscription {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[matchID] == nil {
		b.subs[matchID] = make(map[string]chan Event)
	}
	b.subs[matchID][id] = ch
	b.mu.Unlock()

	return &Subscription{
		C:      ch,
		cancel: func() { b.remove(matchID, id) },
	}
}

// Publish fans the event out without blocking. A subscriber whose buffer is
// full is dropped rather than stalling the publisher.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[evt.MatchID] {
		select {
		case ch <- evt:
		default:
			close(ch)
			delete(b.subs[evt.MatchID], id)
		}
	}
}

func (b *Broker) remove(matchID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[matchID][id]
	if !ok {
		return
	}
	close(ch)
	delete(b.subs[matchID], id)
	if len(b.subs[matchID]) == 0 {
		delete(b.subs, matchID)
	}
}
