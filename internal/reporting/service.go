package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"voice-platform/internal/usage"

	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// EventSource abstracts data access for reporting. Reports read the immutable
// usage events, never the settled session totals.
type EventSource interface {
	ListByUser(ctx context.Context, userID string, q usage.Query) ([]usage.Event, error)
}

// AgentNames resolves display names; a missing agent resolves to ok=false.
type AgentNames interface {
	AgentName(ctx context.Context, agentID string) (name string, ok bool, err error)
}

const unknownAgent = "Unknown"

type Service struct {
	events EventSource
	agents AgentNames
	clock  func() time.Time
}

func NewService(events EventSource, agents AgentNames) *Service {
	return &Service{events: events, agents: agents, clock: time.Now}
}

func (s *Service) Summary(ctx context.Context, userID string) (CostSummary, error) {
	if userID == "" {
		return CostSummary{}, ErrInvalidRequest
	}
	if s.events == nil {
		return CostSummary{}, errors.New("reporting: event source not configured")
	}

	rows, err := s.events.ListByUser(ctx, userID, usage.Query{})
	if err != nil {
		return CostSummary{}, err
	}

	now := s.clock().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := CostSummary{TotalCost: decimal.Zero, ThisMonthCost: decimal.Zero, ByProvider: map[string]decimal.Decimal{}}
	for _, e := range rows {
		out.TotalCost = out.TotalCost.Add(e.TotalCost)
		out.ByProvider[e.Provider] = out.ByProvider[e.Provider].Add(e.TotalCost)
		if !e.CreatedAt.Before(monthStart) {
			out.ThisMonthCost = out.ThisMonthCost.Add(e.TotalCost)
		}
	}
	return out, nil
}

func (s *Service) Timeline(ctx context.Context, req TimelineRequest) ([]TimelinePoint, error) {
	if req.UserID == "" {
		return nil, ErrInvalidRequest
	}
	if req.Period == "" {
		req.Period = PeriodDaily
	}
	if !req.Period.Valid() {
		return nil, ErrInvalidRequest
	}
	if s.events == nil {
		return nil, errors.New("reporting: event source not configured")
	}

	rows, err := s.events.ListByUser(ctx, req.UserID, usage.Query{From: req.Range.From, To: req.Range.To})
	if err != nil {
		return nil, err
	}

	buckets := map[string]*TimelinePoint{}
	for _, e := range rows {
		key := bucketStart(e.CreatedAt, req.Period).Format("2006-01-02")
		p, ok := buckets[key]
		if !ok {
			p = &TimelinePoint{Date: key, TotalCost: decimal.Zero, ByProvider: map[string]decimal.Decimal{}}
			buckets[key] = p
		}
		p.TotalCost = p.TotalCost.Add(e.TotalCost)
		p.ByProvider[e.Provider] = p.ByProvider[e.Provider].Add(e.TotalCost)
	}

	out := make([]TimelinePoint, 0, len(buckets))
	for _, p := range buckets {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ByAgent groups spend per agent. Events without an agent are left out.
func (s *Service) ByAgent(ctx context.Context, userID string) ([]AgentCost, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if s.events == nil {
		return nil, errors.New("reporting: event source not configured")
	}

	rows, err := s.events.ListByUser(ctx, userID, usage.Query{})
	if err != nil {
		return nil, err
	}

	type acc struct {
		cost     decimal.Decimal
		sessions map[string]struct{}
		events   int
	}
	byAgent := map[string]*acc{}
	for _, e := range rows {
		if e.AgentID == "" {
			continue
		}
		a, ok := byAgent[e.AgentID]
		if !ok {
			a = &acc{cost: decimal.Zero, sessions: map[string]struct{}{}}
			byAgent[e.AgentID] = a
		}
		a.cost = a.cost.Add(e.TotalCost)
		a.sessions[e.SessionID] = struct{}{}
		a.events++
	}

	out := make([]AgentCost, 0, len(byAgent))
	for id, a := range byAgent {
		name := unknownAgent
		if s.agents != nil {
			n, ok, err := s.agents.AgentName(ctx, id)
			if err != nil {
				return nil, err
			}
			if ok {
				name = n
			}
		}
		out = append(out, AgentCost{
			AgentID:      id,
			AgentName:    name,
			TotalCost:    a.cost,
			SessionCount: len(a.sessions),
			EventCount:   a.events,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalCost.Equal(out[j].TotalCost) {
			return out[i].TotalCost.GreaterThan(out[j].TotalCost)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

func bucketStart(t time.Time, p Period) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeekly:
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}
