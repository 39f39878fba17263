package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the metered unit a provider charges for.
type EventType string

const (
	EventSTTMinutes    EventType = "stt_minutes"
	EventLLMTokens     EventType = "llm_tokens"
	EventTTSCharacters EventType = "tts_characters"
)

func (e EventType) Valid() bool {
	switch e {
	case EventSTTMinutes, EventLLMTokens, EventTTSCharacters:
		return true
	}
	return false
}

// PerUnits is the quantity a catalog unit cost is quoted for.
func PerUnits(e EventType) int64 {
	if e == EventLLMTokens {
		return 1000
	}
	return 1
}

// Rate is the price of one provider's metered unit over an effective window.
//
// UnitCost is priced per PerUnits of quantity: LLM tokens are quoted per 1000,
// everything else per single unit. Amounts are USD.
type Rate struct {
	ID        string          `json:"id" db:"id"`
	Provider  string          `json:"provider" db:"provider"`
	EventType EventType       `json:"event_type" db:"event_type"`
	UnitCost  decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	PerUnits  int64           `json:"per_units" db:"per_units"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status Status `json:"status" db:"status"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// DefaultRates is the published catalog the service ships with.
func DefaultRates() []Rate {
	epoch := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rate := func(provider string, et EventType, cost string, per int64) Rate {
		return Rate{
			ID:            provider + ":" + string(et),
			Provider:      provider,
			EventType:     et,
			UnitCost:      decimal.RequireFromString(cost),
			PerUnits:      per,
			EffectiveFrom: epoch,
			Status:        StatusActive,
		}
	}
	return []Rate{
		rate("deepgram", EventSTTMinutes, "0.0077", PerUnits(EventSTTMinutes)),
		rate("assemblyai", EventSTTMinutes, "0.0078", PerUnits(EventSTTMinutes)),
		rate("elevenlabs", EventSTTMinutes, "0.0167", PerUnits(EventSTTMinutes)),
		rate("gemini", EventLLMTokens, "0.00086", PerUnits(EventLLMTokens)),
		rate("resemble", EventTTSCharacters, "0.00004", PerUnits(EventTTSCharacters)),
	}
}
