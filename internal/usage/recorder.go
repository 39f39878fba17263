package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/pricing"
	"voice-platform/internal/sessions"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
)

// Quoter prices a usage quantity from the rate catalog.
type Quoter interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

// Answerer is told about the first media of a ringing call.
type Answerer interface {
	MarkAnswered(ctx context.Context, roomName string) (sessions.Session, error)
}

type RecordRequest struct {
	SessionID string            `json:"session_id" binding:"required"`
	UserID    string            `json:"user_id"`
	AgentID   string            `json:"agent_id"`
	Provider  string            `json:"provider" binding:"required"`
	EventType pricing.EventType `json:"event_type" binding:"required"`
	Quantity  decimal.Decimal   `json:"quantity"`
	// Costs are optional; missing costs are quoted from the catalog.
	UnitCost  *decimal.Decimal `json:"unit_cost"`
	TotalCost *decimal.Decimal `json:"total_cost"`
}

// Recorder appends usage events for active sessions. The early status check
// gives a fast 409; the repository repeats it atomically with the insert.
type Recorder struct {
	repo     Repository
	sessions sessions.Store
	quoter   Quoter
	answerer Answerer
	clock    func() time.Time
}

func NewRecorder(repo Repository, store sessions.Store, quoter Quoter, answerer Answerer) *Recorder {
	return &Recorder{repo: repo, sessions: store, quoter: quoter, answerer: answerer, clock: time.Now}
}

func (r *Recorder) Record(ctx context.Context, req RecordRequest) (Event, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if req.SessionID == "" || provider == "" || !req.EventType.Valid() || req.Quantity.IsNegative() {
		return Event{}, ErrInvalidArgument
	}

	s, err := r.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return Event{}, ErrSessionNotFound
		}
		return Event{}, err
	}
	if s.Status != sessions.StatusActive {
		return Event{}, ErrSessionNotActive
	}
	if req.UserID != "" && req.UserID != s.UserID {
		return Event{}, ErrInvalidArgument
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = s.AgentID
	}

	qty := req.Quantity.Round(pricing.QuantityPlaces)
	unit, total, err := r.costs(ctx, provider, req, qty)
	if err != nil {
		return Event{}, err
	}

	e := Event{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		UserID:    s.UserID,
		AgentID:   agentID,
		Provider:  provider,
		EventType: req.EventType,
		Quantity:  qty,
		UnitCost:  unit,
		TotalCost: total,
		CreatedAt: r.clock().UTC(),
	}
	if err := r.repo.Append(ctx, e); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Event{}, ErrSessionNotFound
		}
		if errors.Is(err, ErrSessionNotActive) {
			return Event{}, ErrSessionNotActive
		}
		return Event{}, fmt.Errorf("append usage event: %w", err)
	}

	f, _ := total.Float64()
	metrics.UsageCost.WithLabelValues(provider, string(req.EventType)).Add(f)

	// Media flowing on a ringing outbound leg means the callee picked up.
	if s.CallStatus == sessions.CallStatusRinging && r.answerer != nil {
		if _, err := r.answerer.MarkAnswered(ctx, s.RoomName); err != nil && !errors.Is(err, sessions.ErrConflict) {
			logger.From(ctx).Warn("mark answered from usage failed", "session_id", s.ID, "error", err)
		}
	}
	return e, nil
}

func (r *Recorder) costs(ctx context.Context, provider string, req RecordRequest, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	switch {
	case req.UnitCost != nil && req.TotalCost != nil:
		return req.UnitCost.Round(pricing.UnitCostPlaces), req.TotalCost.Round(pricing.TotalPlaces), nil
	case req.UnitCost != nil:
		return req.UnitCost.Round(pricing.UnitCostPlaces), pricing.Total(qty, *req.UnitCost, pricing.PerUnits(req.EventType)), nil
	}

	q, err := r.quoter.Quote(ctx, pricing.QuoteRequest{Provider: provider, EventType: req.EventType, Quantity: qty})
	if err != nil {
		if errors.Is(err, pricing.ErrRateNotFound) {
			return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: no rate for %s/%s", ErrInvalidArgument, provider, req.EventType)
		}
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	total := q.TotalCost
	if req.TotalCost != nil {
		total = req.TotalCost.Round(pricing.TotalPlaces)
	}
	return q.UnitCost, total, nil
}
