package sessions

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrConflict          = errors.New("session state conflict")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var statusTransitions = map[Status][]Status{
	StatusCreated: {StatusActive, StatusFailed},
	StatusActive:  {StatusCompleted, StatusFailed},
}

var callTransitions = map[CallStatus][]CallStatus{
	CallStatusNone:     {CallStatusRinging, CallStatusAnswered, CallStatusFailed},
	CallStatusRinging:  {CallStatusAnswered, CallStatusFailed, CallStatusNoAnswer},
	CallStatusAnswered: {CallStatusComplete, CallStatusFailed},
}

// CanTransition reports whether a session may move from one status to another.
// Staying in place is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionCall is CanTransition for the call-level axis; it never regresses.
func CanTransitionCall(from, to CallStatus) bool {
	if from == to {
		return true
	}
	for _, s := range callTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Session) IsTerminal() bool { return s.Status.IsTerminal() }

// Guard is the expected source state of a compare-and-transition write.
// Empty slices match anything. CallStatusNone in CallStatuses matches an absent call status.
type Guard struct {
	Statuses       []Status
	CallStatuses   []CallStatus
	NotTransferred bool
}

func (g Guard) matches(s Session) bool {
	if len(g.Statuses) > 0 && !containsStatus(g.Statuses, s.Status) {
		return false
	}
	if len(g.CallStatuses) > 0 && !containsCallStatus(g.CallStatuses, s.CallStatus) {
		return false
	}
	if g.NotTransferred && s.TransferredTo != "" {
		return false
	}
	return true
}

// Patch lists the fields a transition writes. Nil fields are left alone.
type Patch struct {
	Status          *Status
	CallStatus      *CallStatus
	EndedAt         *time.Time
	DurationSeconds *int
	TransferredTo   *string
	TransferType    *TransferType
	TransferredAt   *time.Time
}

// Transition is a guarded write produced by the helpers below.
type Transition struct {
	Guard Guard
	Patch Patch
}

// Validate rejects a transition whose patch could move any guarded source state
// backwards, so a hand-built transition cannot bypass the tables.
func (t Transition) Validate() error {
	if t.Patch.Status != nil {
		if len(t.Guard.Statuses) == 0 {
			return ErrInvalidTransition
		}
		for _, from := range t.Guard.Statuses {
			if !CanTransition(from, *t.Patch.Status) {
				return ErrInvalidTransition
			}
		}
	}
	if t.Patch.CallStatus != nil {
		if len(t.Guard.CallStatuses) == 0 {
			return ErrInvalidTransition
		}
		for _, from := range t.Guard.CallStatuses {
			if !CanTransitionCall(from, *t.Patch.CallStatus) {
				return ErrInvalidTransition
			}
		}
	}
	if t.Patch.EndedAt != nil && !containsOnly(t.Guard.Statuses, StatusActive, StatusCreated) {
		return ErrInvalidTransition
	}
	if t.Patch.TransferredTo != nil && !t.Guard.NotTransferred {
		return ErrInvalidTransition
	}
	return nil
}

func (p Patch) applyTo(s *Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CallStatus != nil {
		s.CallStatus = *p.CallStatus
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		s.EndedAt = &t
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		s.DurationSeconds = &d
	}
	if p.TransferredTo != nil {
		s.TransferredTo = *p.TransferredTo
	}
	if p.TransferType != nil {
		s.TransferType = *p.TransferType
	}
	if p.TransferredAt != nil {
		t := *p.TransferredAt
		s.TransferredAt = &t
	}
}

/* ===================== TRANSITIONS ===================== */

// Answer moves a ringing call to ANSWERED.
func Answer() Transition {
	cs := CallStatusAnswered
	return Transition{
		Guard: Guard{Statuses: []Status{StatusActive}, CallStatuses: []CallStatus{CallStatusRinging}},
		Patch: Patch{CallStatus: &cs},
	}
}

// End completes an active session observed in state cur.
// The guard pins cur's call status so a concurrent answer forces a re-read.
func End(cur Session, at time.Time) Transition {
	st := StatusCompleted
	p := Patch{Status: &st, EndedAt: &at, DurationSeconds: durationPtr(cur.StartedAt, at)}

	switch cur.CallStatus {
	case CallStatusRinging:
		cs := CallStatusNoAnswer
		p.CallStatus = &cs
	case CallStatusAnswered:
		cs := CallStatusComplete
		p.CallStatus = &cs
	}
	return Transition{
		Guard: Guard{Statuses: []Status{StatusActive}, CallStatuses: []CallStatus{cur.CallStatus}},
		Patch: p,
	}
}

// NoAnswer is applied by the no-answer timeout; it only wins against a session still ringing.
func NoAnswer(cur Session, at time.Time) Transition {
	st, cs := StatusFailed, CallStatusNoAnswer
	return Transition{
		Guard: Guard{Statuses: []Status{StatusActive}, CallStatuses: []CallStatus{CallStatusRinging}},
		Patch: Patch{Status: &st, CallStatus: &cs, EndedAt: &at, DurationSeconds: durationPtr(cur.StartedAt, at)},
	}
}

// DialFailed records a provider failure while the call was being placed.
func DialFailed(cur Session, at time.Time) Transition {
	st, cs := StatusFailed, CallStatusFailed
	return Transition{
		Guard: Guard{
			Statuses:     []Status{StatusCreated, StatusActive},
			CallStatuses: []CallStatus{CallStatusNone, CallStatusRinging},
		},
		Patch: Patch{Status: &st, CallStatus: &cs, EndedAt: &at, DurationSeconds: durationPtr(cur.StartedAt, at)},
	}
}

// Transfer records the first and only transfer of an active session.
func Transfer(to string, typ TransferType, at time.Time) Transition {
	return Transition{
		Guard: Guard{Statuses: []Status{StatusActive}, NotTransferred: true},
		Patch: Patch{TransferredTo: &to, TransferType: &typ, TransferredAt: &at},
	}
}

func durationPtr(started *time.Time, end time.Time) *int {
	d := 0
	if started != nil {
		d = int(end.Sub(*started).Seconds())
		if d < 0 {
			d = 0
		}
	}
	return &d
}

func containsStatus(xs []Status, s Status) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func containsCallStatus(xs []CallStatus, s CallStatus) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func containsOnly(xs []Status, allowed ...Status) bool {
	if len(xs) == 0 {
		return false
	}
	for _, x := range xs {
		if !containsStatus(allowed, x) {
			return false
		}
	}
	return true
}
