package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in process for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if e.ID == "" || e.UserID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	return r.ForSession("")
}

// ForSession returns the events recorded against sessionID, optionally limited to
// the given types. An empty sessionID matches every event.
func (r *MemoryRepo) ForSession(sessionID string, types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		if len(types) > 0 && !hasType(types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasType(types []EventType, t EventType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
