package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-platform/internal/pricing"
	"voice-platform/internal/sessions"

	"github.com/shopspring/decimal"
)

type fakeAnswerer struct{ rooms []string }

func (f *fakeAnswerer) MarkAnswered(ctx context.Context, room string) (sessions.Session, error) {
	f.rooms = append(f.rooms, room)
	return sessions.Session{}, nil
}

func setup(t *testing.T, callStatus sessions.CallStatus) (*Recorder, *MemoryRepo, sessions.Session, *fakeAnswerer) {
	t.Helper()
	store := sessions.NewMemoryRepo()
	now := time.Now()
	s, err := store.Create(context.Background(), sessions.Session{
		UserID:     "u1",
		AgentID:    "a1",
		RoomName:   "outbound-1",
		Direction:  sessions.DirectionOutbound,
		Status:     sessions.StatusActive,
		CallStatus: callStatus,
		StartedAt:  &now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo := NewMemoryRepo().WithSessionStatus(StoreStatus(store))
	ans := &fakeAnswerer{}
	rec := NewRecorder(repo, store, pricing.NewService(&pricing.MemoryRepo{Rates: pricing.DefaultRates()}), ans)
	return rec, repo, s, ans
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecord_QuotesMissingCosts(t *testing.T) {
	rec, repo, s, _ := setup(t, sessions.CallStatusAnswered)

	e, err := rec.Record(context.Background(), RecordRequest{
		SessionID: s.ID,
		Provider:  "Gemini",
		EventType: pricing.EventLLMTokens,
		Quantity:  dec("2000"),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.Provider != "gemini" || e.UserID != "u1" || e.AgentID != "a1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if !e.TotalCost.Equal(dec("0.00172")) || !e.UnitCost.Equal(dec("0.00086")) {
		t.Fatalf("unexpected costs: unit=%s total=%s", e.UnitCost, e.TotalCost)
	}
	evs, _ := repo.ListBySession(context.Background(), s.ID)
	if len(evs) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(evs))
	}
}

func TestRecord_KeepsReportedCosts(t *testing.T) {
	rec, _, s, _ := setup(t, sessions.CallStatusAnswered)
	unit, total := dec("0.01"), dec("0.0123456789")

	e, err := rec.Record(context.Background(), RecordRequest{
		SessionID: s.ID, Provider: "custom", EventType: pricing.EventSTTMinutes,
		Quantity: dec("1"), UnitCost: &unit, TotalCost: &total,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !e.TotalCost.Equal(dec("0.012346")) {
		t.Fatalf("expected total rounded to 6 places, got %s", e.TotalCost)
	}
}

func TestRecord_RejectsInactiveOrUnknownSession(t *testing.T) {
	rec, _, s, _ := setup(t, sessions.CallStatusAnswered)
	ctx := context.Background()

	if _, err := rec.Record(ctx, RecordRequest{SessionID: "nope", Provider: "deepgram", EventType: pricing.EventSTTMinutes, Quantity: dec("1")}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, err := rec.sessions.CompareAndUpdate(ctx, s.ID, sessions.End(s, time.Now())); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := rec.Record(ctx, RecordRequest{SessionID: s.ID, Provider: "deepgram", EventType: pricing.EventSTTMinutes, Quantity: dec("1")}); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestRecord_UnknownRateIsInvalid(t *testing.T) {
	rec, _, s, _ := setup(t, sessions.CallStatusAnswered)
	_, err := rec.Record(context.Background(), RecordRequest{SessionID: s.ID, Provider: "whisper", EventType: pricing.EventSTTMinutes, Quantity: dec("1")})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRecord_FirstMediaOnRingingCallMarksAnswered(t *testing.T) {
	rec, _, s, ans := setup(t, sessions.CallStatusRinging)
	if _, err := rec.Record(context.Background(), RecordRequest{SessionID: s.ID, Provider: "deepgram", EventType: pricing.EventSTTMinutes, Quantity: dec("0.5")}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(ans.rooms) != 1 || ans.rooms[0] != "outbound-1" {
		t.Fatalf("expected answer signal for room, got %v", ans.rooms)
	}
}

// endingRepo ends the session right before the insert, after the recorder
// has already seen it ACTIVE.
type endingRepo struct {
	*MemoryRepo
	store sessions.Store
}

func (r endingRepo) Append(ctx context.Context, e Event) error {
	cur, err := r.store.Get(ctx, e.SessionID)
	if err != nil {
		return err
	}
	if _, err := r.store.CompareAndUpdate(ctx, cur.ID, sessions.End(cur, time.Now())); err != nil {
		return err
	}
	return r.MemoryRepo.Append(ctx, e)
}

func TestRecord_SessionEndedBeforeInsertIsRejected(t *testing.T) {
	store := sessions.NewMemoryRepo()
	now := time.Now()
	s, err := store.Create(context.Background(), sessions.Session{
		UserID: "u1", RoomName: "browser-1", Direction: sessions.DirectionInbound,
		Status: sessions.StatusActive, StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mem := NewMemoryRepo().WithSessionStatus(StoreStatus(store))
	rec := NewRecorder(endingRepo{MemoryRepo: mem, store: store}, store,
		pricing.NewService(&pricing.MemoryRepo{Rates: pricing.DefaultRates()}), nil)
	cost := dec("0.02")

	_, err = rec.Record(context.Background(), RecordRequest{
		SessionID: s.ID, Provider: "deepgram", EventType: pricing.EventSTTMinutes,
		Quantity: dec("1"), UnitCost: &cost, TotalCost: &cost,
	})
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	got, _ := store.Get(context.Background(), s.ID)
	if got.Status != sessions.StatusCompleted {
		t.Fatalf("expected session completed, got %s", got.Status)
	}
	evs, _ := mem.ListBySession(context.Background(), s.ID)
	if len(evs) != 0 {
		t.Fatalf("expected no stored events, got %d", len(evs))
	}
}

func TestMemoryRepo_AppendRequiresActiveSession(t *testing.T) {
	status := sessions.StatusActive
	repo := NewMemoryRepo().WithSessionStatus(func(ctx context.Context, id string) (sessions.Status, error) {
		if id != "s1" {
			return "", sessions.ErrNotFound
		}
		return status, nil
	})
	ctx := context.Background()

	if err := repo.Append(ctx, Event{ID: "e1", SessionID: "s1"}); err != nil {
		t.Fatalf("append active: %v", err)
	}
	status = sessions.StatusCompleted
	if err := repo.Append(ctx, Event{ID: "e2", SessionID: "s1"}); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if err := repo.Append(ctx, Event{ID: "e3", SessionID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	evs, _ := repo.ListBySession(ctx, "s1")
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
}
