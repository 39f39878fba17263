package pricing

import (
	"context"
	"strings"
	"time"
)

// MemoryRepo serves rates from a fixed slice, typically DefaultRates().
type MemoryRepo struct {
	Rates []Rate
}

func (r *MemoryRepo) FindRate(ctx context.Context, provider string, eventType EventType, at time.Time) (Rate, bool, error) {
	// Prefer the most recent effective rate.
	var best Rate
	found := false

	for _, p := range r.Rates {
		if !strings.EqualFold(p.Provider, provider) {
			continue
		}
		if p.EventType != eventType {
			continue
		}
		if p.Status != StatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}

func (r *MemoryRepo) ListActive(ctx context.Context, at time.Time) ([]Rate, error) {
	out := []Rate{}
	for _, p := range r.Rates {
		if p.Status != StatusActive || at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
