package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/sessions"
	"voice-platform/internal/tasks"
	"voice-platform/internal/transfer"
	"voice-platform/internal/webhook"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/metrics"
)

// RoomGateway is the room and dial surface of the RTC provider.
type RoomGateway interface {
	CreateRoom(ctx context.Context, name string, emptyTimeout time.Duration) error
	DeleteRoom(ctx context.Context, name string) error
	DialSIPParticipant(ctx context.Context, d transfer.Dial) error
}

type AgentLookup interface {
	Get(ctx context.Context, agentID string) (agents.Agent, error)
}

// Notifier delivers outbound HTTP notifications. *webhook.Dispatcher implements it.
type Notifier interface {
	PostCall(ctx context.Context, cfg webhook.Config, vars map[string]string) error
	Post(ctx context.Context, url string, body any) error
}

// Publisher is told about every session change.
type Publisher interface {
	SessionChanged(s sessions.Session)
}

const maxEndAttempts = 5

// Lifecycle owns the session state changes driven by the media worker,
// provider webhooks and background timers.
type Lifecycle struct {
	store    sessions.Store
	queue    tasks.Queue
	limiter  Limiter
	events   Publisher
	gateway  RoomGateway
	agents   AgentLookup
	notifier Notifier
	now      func() time.Time
}

func NewLifecycle(store sessions.Store, queue tasks.Queue) *Lifecycle {
	return &Lifecycle{store: store, queue: queue, limiter: NewMemoryLimiter(0), now: time.Now}
}

func (l *Lifecycle) WithLimiter(lim Limiter) *Lifecycle {
	l.limiter = lim
	return l
}

func (l *Lifecycle) WithPublisher(p Publisher) *Lifecycle {
	l.events = p
	return l
}

// WithGateway lets the no-answer timeout hang up the ringing leg.
func (l *Lifecycle) WithGateway(g RoomGateway) *Lifecycle {
	l.gateway = g
	return l
}

func (l *Lifecycle) WithWebhooks(a AgentLookup, n Notifier) *Lifecycle {
	l.agents = a
	l.notifier = n
	return l
}

func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// Register installs the lifecycle task handlers. Settlement is registered by the cost aggregator.
func (l *Lifecycle) Register(q tasks.Queue) {
	q.Register(tasks.TypeNoAnswerTimeout, l.HandleNoAnswer)
	q.Register(tasks.TypePostCallWebhook, l.HandlePostCallWebhook)
	q.Register(tasks.TypeStatusCallback, l.HandleStatusCallback)
}

/* ===================== READS ===================== */

func (l *Lifecycle) Get(ctx context.Context, actor Actor, id string) (sessions.Session, error) {
	s, err := l.store.Get(ctx, id)
	if err != nil {
		return sessions.Session{}, mapStoreErr(err)
	}
	if !actor.canAccess(s) {
		return sessions.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (l *Lifecycle) GetByRoom(ctx context.Context, actor Actor, room string) (sessions.Session, error) {
	s, err := l.store.GetByRoom(ctx, room)
	if err != nil {
		return sessions.Session{}, mapStoreErr(err)
	}
	if !actor.canAccess(s) {
		return sessions.Session{}, ErrSessionNotFound
	}
	return s, nil
}

/* ===================== WRITES ===================== */

// CreateSession opens a session that is live from the start. Inbound SIP calls
// are already answered when the media worker reports them; browser sessions
// have no call status.
func (l *Lifecycle) CreateSession(ctx context.Context, req CreateSessionRequest) (sessions.Session, error) {
	room := strings.TrimSpace(req.RoomName)
	if req.UserID == "" || room == "" {
		return sessions.Session{}, ErrInvalidArgument
	}
	dir := req.Direction
	if dir == "" {
		dir = sessions.DirectionInbound
	}
	if dir != sessions.DirectionInbound && dir != sessions.DirectionOutbound {
		return sessions.Session{}, ErrInvalidArgument
	}
	if req.AgentID != "" && l.agents != nil {
		a, err := l.agents.Get(ctx, req.AgentID)
		if err != nil {
			if errors.Is(err, agents.ErrNotFound) {
				return sessions.Session{}, ErrAgentNotFound
			}
			return sessions.Session{}, fmt.Errorf("lookup agent: %w", err)
		}
		if a.UserID != req.UserID {
			return sessions.Session{}, ErrAgentNotFound
		}
	}

	now := l.now().UTC()
	s := sessions.Session{
		UserID:      req.UserID,
		AgentID:     req.AgentID,
		RoomName:    room,
		Direction:   dir,
		Status:      sessions.StatusActive,
		PhoneNumber: req.PhoneNumber,
		Metadata:    req.Metadata,
		StartedAt:   &now,
	}
	if dir == sessions.DirectionInbound && req.PhoneNumber != "" {
		s.CallStatus = sessions.CallStatusAnswered
	}
	s, err := l.store.Create(ctx, s)
	if err != nil {
		if errors.Is(err, sessions.ErrConflict) {
			return sessions.Session{}, ErrRoomExists
		}
		return sessions.Session{}, fmt.Errorf("create session: %w", err)
	}
	l.publish(s)
	return s, nil
}

// MarkAnswered moves a ringing call to ANSWERED. A call already past RINGING
// is returned unchanged.
func (l *Lifecycle) MarkAnswered(ctx context.Context, room string) (sessions.Session, error) {
	cur, err := l.store.GetByRoom(ctx, room)
	if err != nil {
		return sessions.Session{}, mapStoreErr(err)
	}
	next, err := l.store.CompareAndUpdate(ctx, cur.ID, sessions.Answer())
	if err != nil {
		if errors.Is(err, sessions.ErrConflict) {
			return l.store.Get(ctx, cur.ID)
		}
		return sessions.Session{}, fmt.Errorf("mark answered: %w", err)
	}
	logger.From(ctx).Info("call answered", "session_id", next.ID, "room_name", room)
	l.publish(next)
	return next, nil
}

// EndByRoom completes the session for room. Ending an ended session returns it
// unchanged; only the writer that wins the transition schedules follow-up work.
func (l *Lifecycle) EndByRoom(ctx context.Context, room string) (sessions.Session, error) {
	for attempt := 0; attempt < maxEndAttempts; attempt++ {
		cur, err := l.store.GetByRoom(ctx, room)
		if err != nil {
			return sessions.Session{}, mapStoreErr(err)
		}
		if cur.Status != sessions.StatusActive {
			return cur, nil
		}
		next, err := l.store.CompareAndUpdate(ctx, cur.ID, sessions.End(cur, l.now().UTC()))
		if errors.Is(err, sessions.ErrConflict) {
			continue
		}
		if err != nil {
			return sessions.Session{}, fmt.Errorf("end session: %w", err)
		}
		l.terminated(ctx, next)
		return next, nil
	}
	return sessions.Session{}, fmt.Errorf("end session %s: %w", room, sessions.ErrConflict)
}

// RoomFinished implements telephony.RoomEvents.
func (l *Lifecycle) RoomFinished(ctx context.Context, room string) error {
	_, err := l.EndByRoom(ctx, room)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// PhoneLegAnswered implements telephony.RoomEvents. Only outbound rooms ring.
func (l *Lifecycle) PhoneLegAnswered(ctx context.Context, room string) error {
	s, err := l.store.GetByRoom(ctx, room)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil
		}
		return err
	}
	if s.Direction != sessions.DirectionOutbound {
		return nil
	}
	_, err = l.MarkAnswered(ctx, room)
	return err
}

func (l *Lifecycle) AppendTranscript(ctx context.Context, s sessions.Session, speaker sessions.Speaker, content string) (sessions.Transcript, error) {
	if speaker != sessions.SpeakerUser && speaker != sessions.SpeakerAgent {
		return sessions.Transcript{}, ErrInvalidArgument
	}
	if strings.TrimSpace(content) == "" {
		return sessions.Transcript{}, ErrInvalidArgument
	}
	return l.store.AppendTranscript(ctx, sessions.Transcript{
		SessionID: s.ID,
		Speaker:   speaker,
		Content:   content,
		Timestamp: l.now().UTC(),
	})
}

// failDial records a provider failure on a freshly created outbound session.
func (l *Lifecycle) failDial(ctx context.Context, s sessions.Session, cause error) {
	next, err := l.store.CompareAndUpdate(ctx, s.ID, sessions.DialFailed(s, l.now().UTC()))
	if err != nil {
		logger.From(ctx).Error("record dial failure failed", "session_id", s.ID, "error", err)
		l.limiter.Release(ctx, s.UserID)
		return
	}
	logger.From(ctx).Warn("outbound dial failed", "session_id", s.ID, "error", cause)
	l.terminated(ctx, next)
}

// terminated runs once per session, for the writer that moved it to a terminal state.
func (l *Lifecycle) terminated(ctx context.Context, s sessions.Session) {
	log := logger.From(ctx)
	follow := []tasks.Type{tasks.TypeSettleCost, tasks.TypePostCallWebhook}
	if s.CallbackURL != "" {
		follow = append(follow, tasks.TypeStatusCallback)
	}
	for _, typ := range follow {
		if err := l.queue.Enqueue(ctx, tasks.ForSession(typ, s.ID), 0); err != nil {
			log.Error("enqueue follow-up task failed", "session_id", s.ID, "task_type", string(typ), "error", err)
		}
	}
	if s.Direction == sessions.DirectionOutbound {
		l.limiter.Release(ctx, s.UserID)
	}

	callStatus := string(s.CallStatus)
	if callStatus == "" {
		callStatus = "none"
	}
	metrics.CallOutcomes.WithLabelValues(strings.ToLower(string(s.Direction)), string(s.Status), callStatus).Inc()
	log.Info("session ended", "session_id", s.ID, "status", string(s.Status), "call_status", callStatus)
	l.publish(s)
}

func (l *Lifecycle) publish(s sessions.Session) {
	if l.events != nil {
		l.events.SessionChanged(s)
	}
}

/* ===================== TASK HANDLERS ===================== */

// HandleNoAnswer fails a call that is still ringing when its timer fires.
// An answered or ended call makes the task a no-op.
func (l *Lifecycle) HandleNoAnswer(ctx context.Context, t tasks.Task) error {
	cur, ok, err := l.taskSession(ctx, t)
	if !ok {
		return err
	}
	if cur.Status != sessions.StatusActive || cur.CallStatus != sessions.CallStatusRinging {
		return nil
	}
	next, err := l.store.CompareAndUpdate(ctx, cur.ID, sessions.NoAnswer(cur, l.now().UTC()))
	if errors.Is(err, sessions.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply no-answer: %w", err)
	}
	logger.From(ctx).Info("outbound call not answered", "session_id", next.ID, "room_name", next.RoomName)

	if l.gateway != nil {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := l.gateway.DeleteRoom(hctx, next.RoomName); err != nil {
			logger.From(ctx).Warn("hang up unanswered call failed", "room_name", next.RoomName, "error", err)
		}
		cancel()
	}
	l.terminated(ctx, next)
	return nil
}

func (l *Lifecycle) HandlePostCallWebhook(ctx context.Context, t tasks.Task) error {
	s, ok, err := l.taskSession(ctx, t)
	if !ok {
		return err
	}
	if s.AgentID == "" || l.agents == nil || l.notifier == nil {
		return nil
	}
	a, err := l.agents.Get(ctx, s.AgentID)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			return nil
		}
		return err
	}
	cfg := a.Webhooks().PostCall
	if !cfg.Enabled {
		return nil
	}
	err = l.notifier.PostCall(ctx, cfg, PostCallVariables(s))
	if errors.Is(err, webhook.ErrDisabled) {
		return nil
	}
	return err
}

func (l *Lifecycle) HandleStatusCallback(ctx context.Context, t tasks.Task) error {
	s, ok, err := l.taskSession(ctx, t)
	if !ok {
		return err
	}
	if s.CallbackURL == "" || !s.IsTerminal() || l.notifier == nil {
		return nil
	}
	return l.notifier.Post(ctx, s.CallbackURL, newStatusCallback(s))
}

// taskSession loads the session a task refers to. ok is false when the task
// should stop, with err set only when it should be retried.
func (l *Lifecycle) taskSession(ctx context.Context, t tasks.Task) (sessions.Session, bool, error) {
	var p tasks.SessionPayload
	if err := t.Decode(&p); err != nil || p.SessionID == "" {
		logger.From(ctx).Warn("dropping task with bad payload", "error", err)
		return sessions.Session{}, false, nil
	}
	s, err := l.store.Get(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return sessions.Session{}, false, nil
		}
		return sessions.Session{}, false, err
	}
	return s, true, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, sessions.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
