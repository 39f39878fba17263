// Package events fans session changes out to connected dashboards.
package events

import (
	"sync"
	"time"

	"voice-platform/internal/sessions"
)

const TypeSessionUpdated = "session.updated"

type Event struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Session   sessions.Session `json:"session"`
	At        time.Time        `json:"at"`
}

// Broker is an in-process pub/sub keyed by user id. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	buffer      int
}

func NewBroker() *Broker {
	return &Broker{subscribers: map[string][]chan Event{}, buffer: 16}
}

func (b *Broker) Subscribe(userID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	b.subscribers[userID] = append(b.subscribers[userID], ch)
	return ch
}

func (b *Broker) Unsubscribe(userID string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans := b.subscribers[userID]
	for i, c := range chans {
		if c == ch {
			b.subscribers[userID] = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(b.subscribers[userID]) == 0 {
		delete(b.subscribers, userID)
	}
}

func (b *Broker) Publish(userID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SessionChanged publishes a session.updated event to the session owner.
func (b *Broker) SessionChanged(s sessions.Session) {
	if b == nil {
		return
	}
	b.Publish(s.UserID, Event{Type: TypeSessionUpdated, SessionID: s.ID, Session: s, At: time.Now().UTC()})
}
