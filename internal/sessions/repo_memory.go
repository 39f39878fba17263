package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Store for tests and local runs.
// The mutex makes each CompareAndUpdate atomic, matching the conditional UPDATE in Postgres.
type MemoryRepo struct {
	mu          sync.Mutex
	byID        map[string]Session
	roomIndex   map[string]string
	transcripts map[string][]Transcript

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:        map[string]Session{},
		roomIndex:   map[string]string{},
		transcripts: map[string][]Transcript{},
		clock:       time.Now,
	}
}

// WithClock replaces the clock used for created_at/updated_at.
func (r *MemoryRepo) WithClock(clock func() time.Time) *MemoryRepo {
	r.clock = clock
	return r
}

func (r *MemoryRepo) Create(ctx context.Context, s Session) (Session, error) {
	if s.UserID == "" || s.RoomName == "" {
		return Session{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := r.byID[s.ID]; ok {
		return Session{}, ErrConflict
	}
	if _, ok := r.roomIndex[s.RoomName]; ok {
		return Session{}, ErrConflict
	}
	now := r.clock().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	r.byID[s.ID] = s
	r.roomIndex[s.RoomName] = s.ID
	return s, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) GetByRoom(ctx context.Context, roomName string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.roomIndex[roomName]
	if !ok {
		return Session{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepo) List(ctx context.Context, userID string, f ListFilter) ([]Session, int, error) {
	f = f.normalized()
	r.mu.Lock()
	var matched []Session
	for _, s := range r.byID {
		if s.UserID != userID {
			continue
		}
		if !f.From.IsZero() && s.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && s.CreatedAt.After(f.To) {
			continue
		}
		matched = append(matched, s)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := f.offset()
	if start >= total {
		return []Session{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepo) CompareAndUpdate(ctx context.Context, id string, t Transition) (Session, error) {
	if err := t.Validate(); err != nil {
		return Session{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !t.Guard.matches(s) {
		return Session{}, ErrConflict
	}
	t.Patch.applyTo(&s)
	s.UpdatedAt = r.clock().UTC()
	r.byID[id] = s
	return s, nil
}

func (r *MemoryRepo) SaveCost(ctx context.Context, id string, total decimal.Decimal, b CostBreakdown) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.TotalCost = &total
	s.CostBreakdown = &CostBreakdown{ByType: copyMap(b.ByType), ByProvider: copyMap(b.ByProvider)}
	s.UpdatedAt = r.clock().UTC()
	r.byID[id] = s
	return s, nil
}

func (r *MemoryRepo) AppendTranscript(ctx context.Context, t Transcript) (Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.SessionID]; !ok {
		return Transcript{}, ErrNotFound
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = r.clock().UTC()
	}
	r.transcripts[t.SessionID] = append(r.transcripts[t.SessionID], t)
	return t, nil
}

func (r *MemoryRepo) Transcripts(ctx context.Context, sessionID string) ([]Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sessionID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Transcript, len(r.transcripts[sessionID]))
	copy(out, r.transcripts[sessionID])
	return out, nil
}

func copyMap(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
