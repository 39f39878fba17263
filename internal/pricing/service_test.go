package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuote_UsesCatalog(t *testing.T) {
	svc := NewService(&MemoryRepo{Rates: DefaultRates()})
	ctx := context.Background()

	cases := []struct {
		provider string
		et       EventType
		qty      string
		want     string
	}{
		{"deepgram", EventSTTMinutes, "2.5", "0.01925"},
		{"Gemini", EventLLMTokens, "1500", "0.00129"},
		{"resemble", EventTTSCharacters, "1000", "0.04"},
	}
	for _, tc := range cases {
		q, err := svc.Quote(ctx, QuoteRequest{Provider: tc.provider, EventType: tc.et, Quantity: d(tc.qty)})
		if err != nil {
			t.Fatalf("%s: %v", tc.provider, err)
		}
		if !q.TotalCost.Equal(d(tc.want)) {
			t.Fatalf("%s: total %s, want %s", tc.provider, q.TotalCost, tc.want)
		}
	}
}

func TestQuote_UnknownProvider(t *testing.T) {
	svc := NewService(&MemoryRepo{Rates: DefaultRates()})
	_, err := svc.Quote(context.Background(), QuoteRequest{Provider: "whisper", EventType: EventSTTMinutes, Quantity: d("1")})
	if err != ErrRateNotFound {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}
	_, err = svc.Quote(context.Background(), QuoteRequest{Provider: "deepgram", EventType: "video_minutes", Quantity: d("1")})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestFindRate_PrefersMostRecentEffective(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &MemoryRepo{Rates: []Rate{
		{Provider: "deepgram", EventType: EventSTTMinutes, UnitCost: d("0.0080"), PerUnits: 1, EffectiveFrom: jan, EffectiveTo: &mar, Status: StatusActive},
		{Provider: "deepgram", EventType: EventSTTMinutes, UnitCost: d("0.0077"), PerUnits: 1, EffectiveFrom: mar, Status: StatusActive},
	}}

	r, ok, _ := repo.FindRate(context.Background(), "deepgram", EventSTTMinutes, mar.Add(-time.Hour))
	if !ok || !r.UnitCost.Equal(d("0.0080")) {
		t.Fatalf("expected january rate, got %v", r.UnitCost)
	}
	r, ok, _ = repo.FindRate(context.Background(), "deepgram", EventSTTMinutes, mar)
	if !ok || !r.UnitCost.Equal(d("0.0077")) {
		t.Fatalf("expected march rate, got %v", r.UnitCost)
	}
	if _, ok, _ := repo.FindRate(context.Background(), "deepgram", EventSTTMinutes, jan.Add(-time.Hour)); ok {
		t.Fatalf("expected no rate before effective_from")
	}
}

func TestTotal_RoundsToSixPlaces(t *testing.T) {
	if got := Total(d("1"), d("0.00000049"), 1); !got.Equal(d("0")) {
		t.Fatalf("expected rounding to 0, got %s", got)
	}
	if got := Total(d("3"), d("0.0000005"), 1); !got.Equal(d("0.000002")) {
		t.Fatalf("expected 0.000002, got %s", got)
	}
}
