// Package costs settles a finished session: it sums the session's usage events
// into the session record and posts the total against the owner's wallet.
package costs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"voice-platform/internal/sessions"
	"voice-platform/internal/tasks"
	"voice-platform/internal/usage"
	"voice-platform/internal/wallet"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/metrics"

	"github.com/shopspring/decimal"
)

var ErrNotTerminal = errors.New("costs: session is not terminal")

// Charger posts the settled amount. wallet.Service satisfies it.
type Charger interface {
	Charge(ctx context.Context, userID string, req wallet.ChargeRequest) (wallet.LedgerEntry, wallet.Balance, error)
}

type Auditor interface {
	LogSettlement(ctx context.Context, userID, sessionID, walletID, message, metadata string) error
}

type Aggregator struct {
	sessions sessions.Store
	events   usage.Repository
	charger  Charger
	audit    Auditor
}

func NewAggregator(store sessions.Store, events usage.Repository) *Aggregator {
	return &Aggregator{sessions: store, events: events}
}

func (a *Aggregator) WithCharger(c Charger) *Aggregator {
	a.charger = c
	return a
}

func (a *Aggregator) WithAuditor(au Auditor) *Aggregator {
	a.audit = au
	return a
}

// Breakdown sums events by type and by provider. An empty input gives a zero
// total and empty (non-nil) maps.
func Breakdown(events []usage.Event) (decimal.Decimal, sessions.CostBreakdown) {
	total := decimal.Zero
	b := sessions.CostBreakdown{
		ByType:     map[string]decimal.Decimal{},
		ByProvider: map[string]decimal.Decimal{},
	}
	for _, e := range events {
		total = total.Add(e.TotalCost)
		b.ByType[string(e.EventType)] = b.ByType[string(e.EventType)].Add(e.TotalCost)
		b.ByProvider[e.Provider] = b.ByProvider[e.Provider].Add(e.TotalCost)
	}
	return total, b
}

// Settle recomputes the session total from the full event set and stores it.
// Running it twice writes the same numbers and the wallet debit is keyed by session,
// so a retried task cannot double charge.
func (a *Aggregator) Settle(ctx context.Context, sessionID string) (sessions.Session, error) {
	s, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return sessions.Session{}, err
	}
	if !s.IsTerminal() {
		metrics.Settlements.WithLabelValues("skipped").Inc()
		return s, ErrNotTerminal
	}

	events, err := a.events.ListBySession(ctx, sessionID)
	if err != nil {
		metrics.Settlements.WithLabelValues("error").Inc()
		return sessions.Session{}, fmt.Errorf("list usage: %w", err)
	}
	total, b := Breakdown(events)

	s, err = a.sessions.SaveCost(ctx, sessionID, total, b)
	if err != nil {
		metrics.Settlements.WithLabelValues("error").Inc()
		return sessions.Session{}, fmt.Errorf("save cost: %w", err)
	}

	log := logger.From(ctx).With("session_id", sessionID, "total_cost", total.String(), "events", len(events))

	var walletID string
	if a.charger != nil && total.IsPositive() {
		entry, _, err := a.charger.Charge(ctx, s.UserID, wallet.ChargeRequest{
			Amount:         total,
			ExternalRef:    "session:" + sessionID,
			IdempotencyKey: "settlement:" + sessionID,
		})
		if err != nil {
			metrics.Settlements.WithLabelValues("error").Inc()
			return s, fmt.Errorf("charge wallet: %w", err)
		}
		walletID = entry.WalletID
	}

	if a.audit != nil {
		meta, _ := json.Marshal(map[string]any{"total_cost": total, "by_type": b.ByType, "by_provider": b.ByProvider})
		if err := a.audit.LogSettlement(ctx, s.UserID, sessionID, walletID, "session settled", string(meta)); err != nil {
			log.Warn("settlement audit failed", "error", err)
		}
	}

	metrics.Settlements.WithLabelValues("ok").Inc()
	log.Info("session settled")
	return s, nil
}

// HandleTask is the session.settle_cost handler. A session that is not terminal
// yet is left alone; the end path enqueues settlement again.
func (a *Aggregator) HandleTask(ctx context.Context, t tasks.Task) error {
	var p tasks.SessionPayload
	if err := t.Decode(&p); err != nil {
		return fmt.Errorf("decode settle payload: %w", err)
	}
	_, err := a.Settle(ctx, p.SessionID)
	if errors.Is(err, ErrNotTerminal) || errors.Is(err, sessions.ErrNotFound) {
		logger.From(ctx).Warn("settlement skipped", "session_id", p.SessionID, "error", err)
		return nil
	}
	return err
}
