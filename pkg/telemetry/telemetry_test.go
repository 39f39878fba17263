package telemetry

import (
	"context"
	"strings"
	"testing"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "svc"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{1: "AlwaysOnSampler", 0: "AlwaysOffSampler", 0.25: "ParentBased"}
	for rate, want := range cases {
		if got := sampler(rate).Description(); !strings.HasPrefix(got, want) {
			t.Fatalf("rate %v: expected %s, got %s", rate, want, got)
		}
	}
}
