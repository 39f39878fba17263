package sessions

import (
	"testing"
	"time"
)

func TestCanTransitionCall_NeverRegresses(t *testing.T) {
	if !CanTransitionCall(CallStatusRinging, CallStatusAnswered) {
		t.Fatalf("ringing -> answered must be allowed")
	}
	if CanTransitionCall(CallStatusAnswered, CallStatusRinging) {
		t.Fatalf("answered -> ringing must be rejected")
	}
	if CanTransitionCall(CallStatusNoAnswer, CallStatusAnswered) {
		t.Fatalf("terminal call status must not move")
	}
	if !CanTransitionCall(CallStatusNone, CallStatusAnswered) {
		t.Fatalf("inbound calls may skip ringing")
	}
}

func TestCanTransition_TerminalIsFinal(t *testing.T) {
	if CanTransition(StatusCompleted, StatusActive) || CanTransition(StatusFailed, StatusCompleted) {
		t.Fatalf("terminal statuses must not move")
	}
	if !CanTransition(StatusCreated, StatusActive) {
		t.Fatalf("created -> active must be allowed")
	}
	if !StatusFailed.IsTerminal() || StatusActive.IsTerminal() {
		t.Fatalf("unexpected terminal classification")
	}
}

func TestEnd_MapsCallStatus(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	cases := []struct {
		cur  CallStatus
		want *CallStatus
	}{
		{CallStatusAnswered, ptr(CallStatusComplete)},
		{CallStatusRinging, ptr(CallStatusNoAnswer)},
		{CallStatusNone, nil},
	}
	for _, tc := range cases {
		tr := End(Session{Status: StatusActive, CallStatus: tc.cur, StartedAt: &start}, end)
		if err := tr.Validate(); err != nil {
			t.Fatalf("%q: validate: %v", tc.cur, err)
		}
		if (tc.want == nil) != (tr.Patch.CallStatus == nil) {
			t.Fatalf("%q: unexpected call status patch %v", tc.cur, tr.Patch.CallStatus)
		}
		if tc.want != nil && *tr.Patch.CallStatus != *tc.want {
			t.Fatalf("%q: got %q want %q", tc.cur, *tr.Patch.CallStatus, *tc.want)
		}
		if *tr.Patch.DurationSeconds != 90 {
			t.Fatalf("expected 90s duration, got %d", *tr.Patch.DurationSeconds)
		}
	}
}

func TestTransitionHelpersValidate(t *testing.T) {
	now := time.Now()
	for name, tr := range map[string]Transition{
		"answer":      Answer(),
		"no_answer":   NoAnswer(Session{}, now),
		"dial_failed": DialFailed(Session{}, now),
		"transfer":    Transfer("+15550001111", TransferCold, now),
	} {
		if err := tr.Validate(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestValidate_RejectsUnguardedOrBackwardPatch(t *testing.T) {
	active := StatusActive
	back := Transition{
		Guard: Guard{Statuses: []Status{StatusCompleted}},
		Patch: Patch{Status: &active},
	}
	if err := back.Validate(); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	to := "+15550001111"
	unguarded := Transition{Guard: Guard{Statuses: []Status{StatusActive}}, Patch: Patch{TransferredTo: &to}}
	if err := unguarded.Validate(); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition for transfer without guard, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
