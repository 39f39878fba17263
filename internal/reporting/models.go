package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// CostSummary is the caller's all-time spend plus the current calendar month (UTC).
type CostSummary struct {
	TotalCost     decimal.Decimal            `json:"total_cost"`
	ThisMonthCost decimal.Decimal            `json:"this_month"`
	ByProvider    map[string]decimal.Decimal `json:"by_provider"`
}

type TimelineRequest struct {
	UserID string    `json:"user_id"`
	Period Period    `json:"period"`
	Range  TimeRange `json:"range"`
}

// TimelinePoint is one bucket. Date is the bucket start as YYYY-MM-DD: the day,
// the Monday of the week, or the first of the month.
type TimelinePoint struct {
	Date       string                     `json:"date"`
	TotalCost  decimal.Decimal            `json:"total_cost"`
	ByProvider map[string]decimal.Decimal `json:"by_provider"`
}

type AgentCost struct {
	AgentID      string          `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	SessionCount int             `json:"session_count"`
	EventCount   int             `json:"event_count"`
}
