package calls

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/sessions"
	"voice-platform/internal/tasks"
	"voice-platform/internal/transfer"
	"voice-platform/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct{ mock.Mock }

func (m *mockGateway) CreateRoom(ctx context.Context, name string, emptyTimeout time.Duration) error {
	return m.Called(ctx, name, emptyTimeout).Error(0)
}

func (m *mockGateway) DeleteRoom(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockGateway) DialSIPParticipant(ctx context.Context, d transfer.Dial) error {
	return m.Called(ctx, d).Error(0)
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingPublisher struct {
	mu  sync.Mutex
	got []sessions.Session
}

func (p *recordingPublisher) SessionChanged(s sessions.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, s)
}

func (p *recordingPublisher) terminal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.got {
		if s.IsTerminal() {
			n++
		}
	}
	return n
}

type fixedBalance struct{ amount decimal.Decimal }

func (f fixedBalance) GetBalance(ctx context.Context, userID string) (wallet.Balance, error) {
	return wallet.Balance{UserID: userID, Balance: f.amount}, nil
}

type fixture struct {
	clk     *testClock
	store   *sessions.MemoryRepo
	queue   *tasks.MemoryQueue
	limiter *MemoryLimiter
	pub     *recordingPublisher
	gw      *mockGateway
	agents  *agents.Service
	agent   agents.Agent
	lc      *Lifecycle
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:     &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		limiter: NewMemoryLimiter(2),
		pub:     &recordingPublisher{},
		gw:      &mockGateway{},
		agents:  agents.NewService(agents.NewMemoryRepo()),
	}
	f.store = sessions.NewMemoryRepo().WithClock(f.clk.now)
	f.queue = tasks.NewMemoryQueue(f.clk.now)

	a, err := f.agents.Create(context.Background(), "u1", agents.CreateRequest{Name: "Sales"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	f.agent = a

	f.lc = NewLifecycle(f.store, f.queue).
		WithLimiter(f.limiter).
		WithPublisher(f.pub).
		WithGateway(f.gw).
		WithWebhooks(f.agents, nil).
		WithClock(f.clk.now)
	f.lc.Register(f.queue)
	f.queue.Register(tasks.TypeSettleCost, func(context.Context, tasks.Task) error { return nil })

	f.orch = NewOrchestrator(f.lc, f.agents, f.gw, OutboundConfig{Configured: true, TrunkID: "ST_out"})
	return f
}

func (f *fixture) expectDial(err error) {
	f.gw.On("CreateRoom", mock.Anything, mock.MatchedBy(func(n string) bool {
		return strings.HasPrefix(n, "outbound-")
	}), 120*time.Second).Return(nil)
	f.gw.On("DialSIPParticipant", mock.Anything, mock.MatchedBy(func(d transfer.Dial) bool {
		p := transfer.Participant{Identity: d.Identity, Metadata: d.Metadata}
		return d.TrunkID == "ST_out" && d.PlayDialtone && strings.HasPrefix(d.Identity, "phone-+") &&
			transfer.Classify(p) == transfer.RolePhoneLeg
	})).Return(err)
}

func pendingTypes(q *tasks.MemoryQueue) []tasks.Type {
	var out []tasks.Type
	for _, t := range q.Pending() {
		out = append(out, t.Type)
	}
	return out
}

func TestInitiateOutbound_RejectsNonE164(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"", "5551234567", "+0123", "+1 555 123 4567", " +15551234567 ", "+15551234567\n"} {
		_, err := f.orch.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: n})
		require.ErrorIs(t, err, ErrInvalidNumber, n)
	}
	f.gw.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiateOutbound_NotConfigured(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.lc, f.agents, f.gw, OutboundConfig{Configured: false, TrunkID: "ST_out"})
	_, err := o.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.ErrorIs(t, err, ErrNotConfigured)

	o = NewOrchestrator(f.lc, f.agents, f.gw, OutboundConfig{Configured: true})
	_, err = o.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestInitiateOutbound_ForeignAgentIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.InitiateOutbound(context.Background(), "u2", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.ErrorIs(t, err, ErrAgentNotFound)

	_, total, err := f.store.List(context.Background(), "u2", sessions.ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestInitiateOutbound_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.lc, f.agents, f.gw, OutboundConfig{Configured: true, TrunkID: "ST_out", EnforceBalance: true}).
		WithBalance(fixedBalance{amount: decimal.Zero})
	_, err := o.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestInitiateOutbound_PersistsRingingAndSchedulesTimeout(t *testing.T) {
	f := newFixture(t)
	f.expectDial(nil)

	res, err := f.orch.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.NoError(t, err)
	require.Equal(t, "outbound-"+res.CallID[:8], res.RoomName)
	require.Equal(t, sessions.CallStatusRinging, res.Status)

	s, err := f.store.Get(context.Background(), res.CallID)
	require.NoError(t, err)
	require.Equal(t, sessions.StatusActive, s.Status)
	require.Equal(t, sessions.DirectionOutbound, s.Direction)
	require.Equal(t, "+15551234567", s.PhoneNumber)
	require.NotNil(t, s.StartedAt)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, tasks.TypeNoAnswerTimeout, pending[0].Type)
	require.Equal(t, f.clk.now().Add(60*time.Second), pending[0].RunAt)
	require.Equal(t, 1, f.limiter.InUse("u1"))
}

func TestNoAnswerTimeout_FailsRingingCall(t *testing.T) {
	f := newFixture(t)
	f.expectDial(nil)
	res, err := f.orch.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.NoError(t, err)
	f.gw.On("DeleteRoom", mock.Anything, res.RoomName).Return(nil)

	f.clk.advance(59 * time.Second)
	require.Zero(t, f.queue.RunDue(context.Background()))

	f.clk.advance(time.Second)
	require.Equal(t, 1, f.queue.RunDue(context.Background()))

	s, err := f.store.Get(context.Background(), res.CallID)
	require.NoError(t, err)
	require.Equal(t, sessions.StatusFailed, s.Status)
	require.Equal(t, sessions.CallStatusNoAnswer, s.CallStatus)
	require.NotNil(t, s.EndedAt)
	require.Equal(t, 60, *s.DurationSeconds)

	f.gw.AssertCalled(t, "DeleteRoom", mock.Anything, res.RoomName)
	require.Zero(t, f.limiter.InUse("u1"))
	require.ElementsMatch(t, []tasks.Type{tasks.TypeSettleCost, tasks.TypePostCallWebhook}, pendingTypes(f.queue))
	require.Equal(t, 1, f.pub.terminal())
}

func TestNoAnswerTimeout_AnsweredCallIsUntouched(t *testing.T) {
	f := newFixture(t)
	f.expectDial(nil)
	res, err := f.orch.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.NoError(t, err)

	f.clk.advance(10 * time.Second)
	_, err = f.lc.MarkAnswered(context.Background(), res.RoomName)
	require.NoError(t, err)

	f.clk.advance(60 * time.Second)
	f.queue.RunDue(context.Background())

	s, err := f.store.Get(context.Background(), res.CallID)
	require.NoError(t, err)
	require.Equal(t, sessions.StatusActive, s.Status)
	require.Equal(t, sessions.CallStatusAnswered, s.CallStatus)
	f.gw.AssertNotCalled(t, "DeleteRoom", mock.Anything, mock.Anything)
}

func TestInitiateOutbound_DialFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.expectDial(errors.New("trunk rejected"))

	_, err := f.orch.InitiateOutbound(context.Background(), "u1", OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"})
	require.ErrorIs(t, err, ErrDialFailed)
	require.Contains(t, err.Error(), "trunk rejected")

	list, _, err := f.store.List(context.Background(), "u1", sessions.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, sessions.StatusFailed, list[0].Status)
	require.Equal(t, sessions.CallStatusFailed, list[0].CallStatus)
	require.NotNil(t, list[0].EndedAt)

	require.NotContains(t, pendingTypes(f.queue), tasks.TypeNoAnswerTimeout)
	require.Zero(t, f.limiter.InUse("u1"))
}

func TestInitiateOutbound_ConcurrencyCap(t *testing.T) {
	f := newFixture(t)
	f.expectDial(nil)
	req := OutboundRequest{AgentID: f.agent.ID, PhoneNumber: "+15551234567"}

	for i := 0; i < 2; i++ {
		_, err := f.orch.InitiateOutbound(context.Background(), "u1", req)
		require.NoError(t, err)
	}
	_, err := f.orch.InitiateOutbound(context.Background(), "u1", req)
	require.ErrorIs(t, err, ErrTooManyCalls)
}
