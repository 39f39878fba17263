package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Persisted precision of usage amounts.
const (
	QuantityPlaces = 4
	UnitCostPlaces = 8
	TotalPlaces    = 6
)

// Service quotes usage costs from the rate catalog.
//
// Contract:
// - Pure calculation + repository lookups.
// - No provider SDK calls.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// RateRepository abstracts rate persistence.
type RateRepository interface {
	FindRate(ctx context.Context, provider string, eventType EventType, at time.Time) (Rate, bool, error)
	ListActive(ctx context.Context, at time.Time) ([]Rate, error)
}

type QuoteRequest struct {
	Provider  string
	EventType EventType
	Quantity  decimal.Decimal
	// At determines which effective rate to use. If zero, service clock is used.
	At time.Time
}

type Quote struct {
	Provider  string          `json:"provider"`
	EventType EventType       `json:"event_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

var (
	ErrRateNotFound   = errors.New("rate not found")
	ErrInvalidRequest = errors.New("invalid pricing request")
)

// Quote prices a quantity of a provider's metered unit.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" || !req.EventType.Valid() || req.Quantity.IsNegative() {
		return Quote{}, ErrInvalidRequest
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	r, ok, err := s.repo.FindRate(ctx, provider, req.EventType, at)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, ErrRateNotFound
	}

	qty := req.Quantity.Round(QuantityPlaces)
	return Quote{
		Provider:  provider,
		EventType: req.EventType,
		Quantity:  qty,
		UnitCost:  r.UnitCost.Round(UnitCostPlaces),
		TotalCost: Total(qty, r.UnitCost, r.PerUnits),
	}, nil
}

// Rates lists the currently effective catalog.
func (s *Service) Rates(ctx context.Context) ([]Rate, error) {
	return s.repo.ListActive(ctx, s.clock().UTC())
}

// Total computes quantity * unitCost / perUnits at persisted precision.
func Total(quantity, unitCost decimal.Decimal, perUnits int64) decimal.Decimal {
	if perUnits <= 0 {
		perUnits = 1
	}
	return quantity.Mul(unitCost).Div(decimal.NewFromInt(perUnits)).Round(TotalPlaces)
}
