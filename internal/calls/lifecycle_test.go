package calls

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/sessions"
	"voice-platform/internal/tasks"
	"voice-platform/internal/webhook"

	"github.com/stretchr/testify/mock"
)

type fakeNotifier struct {
	mu        sync.Mutex
	postCalls []map[string]string
	urls      []string
	bodies    []any
}

func (n *fakeNotifier) PostCall(ctx context.Context, cfg webhook.Config, vars map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.postCalls = append(n.postCalls, vars)
	return nil
}

func (n *fakeNotifier) Post(ctx context.Context, url string, body any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	n.bodies = append(n.bodies, body)
	return nil
}

func createInbound(t *testing.T, f *fixture, room, phone string) sessions.Session {
	t.Helper()
	s, err := f.lc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:      "u1",
		AgentID:     f.agent.ID,
		RoomName:    room,
		PhoneNumber: phone,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestCreateSession_CallStatusByKind(t *testing.T) {
	f := newFixture(t)

	sip := createInbound(t, f, "sip-room", "+15550001111")
	if sip.Status != sessions.StatusActive || sip.CallStatus != sessions.CallStatusAnswered {
		t.Fatalf("unexpected sip session: %s/%s", sip.Status, sip.CallStatus)
	}
	browser := createInbound(t, f, "browser-room", "")
	if browser.CallStatus != sessions.CallStatusNone {
		t.Fatalf("expected no call status for browser session, got %q", browser.CallStatus)
	}
	if browser.StartedAt == nil {
		t.Fatalf("expected started_at")
	}

	_, err := f.lc.CreateSession(context.Background(), CreateSessionRequest{UserID: "u1", RoomName: "browser-room"})
	if err != ErrRoomExists {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}
	_, err = f.lc.CreateSession(context.Background(), CreateSessionRequest{UserID: "u1"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	_, err = f.lc.CreateSession(context.Background(), CreateSessionRequest{UserID: "u2", AgentID: f.agent.ID, RoomName: "x"})
	if err != ErrAgentNotFound {
		t.Fatalf("expected ErrAgentNotFound for foreign agent, got %v", err)
	}
}

func TestEndByRoom_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	createInbound(t, f, "r1", "+15550001111")
	f.clk.advance(30 * time.Second)

	first, err := f.lc.EndByRoom(context.Background(), "r1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if first.Status != sessions.StatusCompleted || first.CallStatus != sessions.CallStatusComplete {
		t.Fatalf("unexpected end state: %s/%s", first.Status, first.CallStatus)
	}
	if first.DurationSeconds == nil || *first.DurationSeconds != 30 {
		t.Fatalf("unexpected duration: %v", first.DurationSeconds)
	}

	f.clk.advance(time.Minute)
	second, err := f.lc.EndByRoom(context.Background(), "r1")
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("ended_at moved: %v -> %v", first.EndedAt, second.EndedAt)
	}
	if n := f.pub.terminal(); n != 1 {
		t.Fatalf("expected one terminal event, got %d", n)
	}
	if got := len(f.queue.Pending()); got != 2 {
		t.Fatalf("expected settle and post-call tasks, got %d", got)
	}
}

func TestEndByRoom_RingingBecomesNoAnswer(t *testing.T) {
	f := newFixture(t)
	now := f.clk.now()
	_, err := f.store.Create(context.Background(), sessions.Session{
		UserID: "u1", RoomName: "outbound-1", Direction: sessions.DirectionOutbound,
		Status: sessions.StatusActive, CallStatus: sessions.CallStatusRinging, StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := f.lc.EndByRoom(context.Background(), "outbound-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if s.Status != sessions.StatusCompleted || s.CallStatus != sessions.CallStatusNoAnswer {
		t.Fatalf("unexpected end state: %s/%s", s.Status, s.CallStatus)
	}
}

func TestEndByRoom_UnknownRoom(t *testing.T) {
	f := newFixture(t)
	if _, err := f.lc.EndByRoom(context.Background(), "nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := f.lc.RoomFinished(context.Background(), "nope"); err != nil {
		t.Fatalf("room_finished for unknown room should be ignored, got %v", err)
	}
}

func TestPhoneLegAnswered_OnlyAnswersOutbound(t *testing.T) {
	f := newFixture(t)
	createInbound(t, f, "browser", "")
	if err := f.lc.PhoneLegAnswered(context.Background(), "browser"); err != nil {
		t.Fatalf("phone leg answered: %v", err)
	}
	s, _ := f.store.GetByRoom(context.Background(), "browser")
	if s.CallStatus != sessions.CallStatusNone {
		t.Fatalf("inbound session must not change, got %q", s.CallStatus)
	}

	now := f.clk.now()
	_, _ = f.store.Create(context.Background(), sessions.Session{
		UserID: "u1", RoomName: "outbound-2", Direction: sessions.DirectionOutbound,
		Status: sessions.StatusActive, CallStatus: sessions.CallStatusRinging, StartedAt: &now,
	})
	if err := f.lc.PhoneLegAnswered(context.Background(), "outbound-2"); err != nil {
		t.Fatalf("phone leg answered: %v", err)
	}
	s, _ = f.store.GetByRoom(context.Background(), "outbound-2")
	if s.CallStatus != sessions.CallStatusAnswered {
		t.Fatalf("expected ANSWERED, got %q", s.CallStatus)
	}

	// A second report is a no-op rather than an error.
	again, err := f.lc.MarkAnswered(context.Background(), "outbound-2")
	if err != nil || again.CallStatus != sessions.CallStatusAnswered {
		t.Fatalf("expected no-op, got %v %q", err, again.CallStatus)
	}
}

func TestPostCallWebhook_DeliveredAfterEnd(t *testing.T) {
	f := newFixture(t)
	cfg, _ := json.Marshal(map[string]any{
		"webhooks": map[string]any{"post_call": map[string]any{"enabled": true, "url": "https://hooks.example/post"}},
	})
	a, err := f.agents.Create(context.Background(), "u1", agents.CreateRequest{Name: "Support", Config: cfg})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	n := &fakeNotifier{}
	f.lc.WithWebhooks(f.agents, n)

	s, err := f.lc.CreateSession(context.Background(), CreateSessionRequest{UserID: "u1", AgentID: a.ID, RoomName: "r-hook"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.clk.advance(42 * time.Second)
	if _, err := f.lc.EndByRoom(context.Background(), "r-hook"); err != nil {
		t.Fatalf("end: %v", err)
	}
	f.queue.RunDue(context.Background())

	if len(n.postCalls) != 1 {
		t.Fatalf("expected one post-call webhook, got %d", len(n.postCalls))
	}
	vars := n.postCalls[0]
	want := map[string]string{
		"agent_id": a.ID, "room_name": "r-hook", "user_id": "u1",
		"session_id": s.ID, "reason": "disconnected", "duration_seconds": "42",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Fatalf("var %s = %q, want %q", k, vars[k], v)
		}
	}
}

func TestStatusCallback_PostedForTerminalCall(t *testing.T) {
	f := newFixture(t)
	n := &fakeNotifier{}
	f.lc.WithWebhooks(f.agents, n)

	now := f.clk.now()
	s, err := f.store.Create(context.Background(), sessions.Session{
		UserID: "u1", RoomName: "outbound-cb", Direction: sessions.DirectionOutbound,
		Status: sessions.StatusActive, CallStatus: sessions.CallStatusRinging,
		CallbackURL: "https://crm.example/status", StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.queue.Enqueue(context.Background(), tasks.ForSession(tasks.TypeNoAnswerTimeout, s.ID), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.gw.On("DeleteRoom", mock.Anything, "outbound-cb").Return(nil).Maybe()

	f.queue.RunDue(context.Background()) // no-answer
	f.queue.RunDue(context.Background()) // follow-ups

	if len(n.urls) != 1 || n.urls[0] != "https://crm.example/status" {
		t.Fatalf("unexpected callbacks: %v", n.urls)
	}
	body, ok := n.bodies[0].(StatusCallback)
	if !ok || body.CallStatus != sessions.CallStatusNoAnswer || body.SessionStatus != sessions.StatusFailed {
		t.Fatalf("unexpected callback body: %+v", n.bodies[0])
	}
}
