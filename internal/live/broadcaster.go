// Package live fans poll activity out to server-sent-event subscribers.
package live

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind names the poll activity a subscriber can observe.
type EventKind string

const (
	EventPollCreated   EventKind = "poll_created"
	EventVoteUpdate    EventKind = "vote_update"
	EventPollClosed    EventKind = "poll_closed"
	EventPollRestarted EventKind = "poll_restarted"
)

// Event is one broadcast poll update.
type Event struct {
	Kind     EventKind
	PollID   uuid.UUID
	OptionID uuid.UUID // set for vote updates
	Votes    int64     // new tally for OptionID on vote updates
}

// Broadcaster delivers events to every current subscriber. Sends never block:
// a subscriber that cannot keep up misses events rather than stalling the
// publisher.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
