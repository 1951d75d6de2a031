package dialer

import (
	"context"
	"log/slog"
	"time"

	"power-dialer/internal/calls"
)

// sessionState is everything the coordinator knows about one session.
// Only the session's actor goroutine reads or writes it.
type sessionState struct {
	id     string
	repID  string
	device string

	legs    map[string]*calls.Leg
	order   []string
	batches map[string]*Batch
	current *Batch
	// live is the leg currently bridged to (or ringing through to) the rep.
	live string

	holdSince map[string]time.Time
	// slots marks legs that hold a line slot.
	slots map[string]bool

	closed bool
}

func newSessionState(id, repID, device string) *sessionState {
	return &sessionState{
		id:        id,
		repID:     repID,
		device:    device,
		legs:      map[string]*calls.Leg{},
		batches:   map[string]*Batch{},
		holdSince: map[string]time.Time{},
		slots:     map[string]bool{},
	}
}

// busy reports whether a new dial must wait.
func (st *sessionState) busy() bool {
	if st.current != nil && st.current.Pending() {
		return true
	}
	if st.live == "" {
		return false
	}
	l := st.legs[st.live]
	return l != nil && !l.State.Terminal()
}

func (st *sessionState) legsOf(b *Batch) []calls.Leg {
	out := make([]calls.Leg, 0, len(b.LegIDs))
	for _, id := range b.LegIDs {
		if l := st.legs[id]; l != nil {
			out = append(out, l.Clone())
		}
	}
	return out
}

// actor serializes every mutation of one session's legs and batches.
type actor struct {
	inbox chan func(*sessionState)
	done  chan struct{}
}

func newActor(st *sessionState, log *slog.Logger) *actor {
	a := &actor{inbox: make(chan func(*sessionState), 32), done: make(chan struct{})}
	go a.run(st, log)
	return a
}

func (a *actor) run(st *sessionState, log *slog.Logger) {
	defer close(a.done)
	for {
		fn := <-a.inbox
		a.exec(st, fn, log)
		if st.closed {
			return
		}
	}
}

func (a *actor) exec(st *sessionState, fn func(*sessionState), log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("session actor panic", "session_id", st.id, "panic", r)
		}
	}()
	fn(st)
}

// do runs fn on the actor and waits for it. Once fn is queued it always runs
// to completion, so callers may read what fn wrote after do returns nil.
func (a *actor) do(ctx context.Context, fn func(*sessionState)) error {
	ran := make(chan struct{})
	msg := func(st *sessionState) {
		defer close(ran)
		fn(st)
	}
	select {
	case a.inbox <- msg:
	case <-a.done:
		return ErrNoSession
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-a.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrNoSession
		}
	}
}
