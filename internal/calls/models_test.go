package calls

import (
	"errors"
	"testing"
	"time"
)

func TestAdvance_HappyPath(t *testing.T) {
	l := &Leg{ID: "CA1", State: StateInitiated}
	t0 := time.Unix(1700000000, 0).UTC()

	steps := []struct {
		to          State
		sideEffects bool
	}{
		{StateRinging, false},
		{StateConnected, true},
		{StateCompleted, false},
	}
	for i, s := range steps {
		tr, err := Advance(l, s.to, t0.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("step %d: unexpected err: %v", i, err)
		}
		if !tr.Applied || tr.To != s.to {
			t.Fatalf("step %d: expected applied transition to %s, got %+v", i, s.to, tr)
		}
		if tr.SideEffects != s.sideEffects {
			t.Fatalf("step %d: side effects = %v", i, tr.SideEffects)
		}
	}
	if l.ConnectedAt == nil || l.EndedAt == nil {
		t.Fatalf("expected connected and ended timestamps")
	}
}

func TestAdvance_DuplicateIsIdempotent(t *testing.T) {
	l := &Leg{ID: "CA1", State: StateRinging}
	at := time.Now()

	first, err := Advance(l, StateConnected, at)
	if err != nil || !first.SideEffects {
		t.Fatalf("expected first connect to apply, got %+v %v", first, err)
	}
	snapshot := l.Clone()

	second, err := Advance(l, StateConnected, at.Add(time.Second))
	if err != nil {
		t.Fatalf("duplicate must not error: %v", err)
	}
	if second.Applied || second.SideEffects || !second.Duplicate() {
		t.Fatalf("expected no-op, got %+v", second)
	}
	if l.State != snapshot.State || !l.ConnectedAt.Equal(*snapshot.ConnectedAt) {
		t.Fatalf("leg mutated by duplicate")
	}
}

func TestAdvance_StaleReportIsNoop(t *testing.T) {
	l := &Leg{ID: "CA1", State: StateConnected}
	tr, err := Advance(l, StateRinging, time.Now())
	if err != nil {
		t.Fatalf("stale report must not error: %v", err)
	}
	if tr.Applied || l.State != StateConnected {
		t.Fatalf("expected no-op, got %+v state=%s", tr, l.State)
	}
}

func TestAdvance_TerminalIsSticky(t *testing.T) {
	for _, terminal := range []State{StateCompleted, StateNoAnswer, StateBusy, StateFailed} {
		l := &Leg{ID: "CA1", State: terminal}
		for _, s := range []State{StateInitiated, StateRinging, StateConnected, StateCompleted, StateFailed} {
			tr, err := Advance(l, s, time.Now())
			if err != nil || tr.Applied {
				t.Fatalf("%s -> %s: expected no-op, got %+v %v", terminal, s, tr, err)
			}
		}
		if l.State != terminal {
			t.Fatalf("terminal state changed to %s", l.State)
		}
	}
}

func TestAdvance_AnyOpenStateCanFail(t *testing.T) {
	for _, from := range []State{StateInitiated, StateRinging, StateConnected} {
		l := &Leg{ID: "CA1", State: from}
		tr, err := Advance(l, StateFailed, time.Now())
		if err != nil || !tr.Applied {
			t.Fatalf("%s -> failed: %+v %v", from, tr, err)
		}
	}
}

func TestAdvance_InitiatedCanConnectDirectly(t *testing.T) {
	l := &Leg{ID: "CA1", State: StateInitiated}
	tr, err := Advance(l, StateConnected, time.Now())
	if err != nil || !tr.SideEffects {
		t.Fatalf("expected connect with side effects, got %+v %v", tr, err)
	}
}

func TestAdvance_Illegal(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateConnected, StateNoAnswer},
		{StateConnected, StateBusy},
	}
	for _, c := range cases {
		l := &Leg{ID: "CA1", State: c.from}
		_, err := Advance(l, c.to, time.Now())
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s -> %s: expected ErrIllegalTransition, got %v", c.from, c.to, err)
		}
		if l.State != c.from {
			t.Fatalf("leg mutated on illegal transition")
		}
	}
}

func TestAdvance_CompletedBeforeConnectedEndsLeg(t *testing.T) {
	for _, from := range []State{StateInitiated, StateRinging} {
		l := &Leg{ID: "CA1", State: from}
		at := time.Now()

		tr, err := Advance(l, StateCompleted, at)
		if err != nil {
			t.Fatalf("%s -> completed: unexpected err: %v", from, err)
		}
		if !tr.Applied || tr.SideEffects || l.State != StateCompleted || l.EndedAt == nil || l.ConnectedAt != nil {
			t.Fatalf("%s -> completed: expected terminal without side effects, got %+v leg=%+v", from, tr, l)
		}

		late, err := Advance(l, StateConnected, at.Add(time.Second))
		if err != nil || late.Applied || late.SideEffects {
			t.Fatalf("late connected must be a no-op, got %+v %v", late, err)
		}
	}
}

func TestAdvance_InvalidState(t *testing.T) {
	l := &Leg{ID: "CA1", State: StateRinging}
	if _, err := Advance(l, State("queued"), time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := Advance(nil, StateRinging, time.Now()); !errors.Is(err, ErrUnknownLeg) {
		t.Fatalf("expected ErrUnknownLeg, got %v", err)
	}
}
