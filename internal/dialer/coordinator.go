package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"power-dialer/internal/audit"
	"power-dialer/internal/calls"
	"power-dialer/internal/disposition"
	"power-dialer/internal/events"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"

	"github.com/google/uuid"
)

// Disposer is the part of the disposition engine the coordinator drives.
type Disposer interface {
	AutoDispose(ctx context.Context, leg calls.Leg, outcome disposition.Outcome) error
	CompleteDue(ctx context.Context, leadID, callID string, now time.Time) (bool, error)
}

// Sessions resolves sessions and records the counters the coordinator owns
// (TotalCalls, ConnectedCalls, HoldSeconds).
type Sessions interface {
	Get(ctx context.Context, id string) (session.Session, error)
	Record(ctx context.Context, id string, delta session.Stats) error
}

// Auditor is satisfied by *audit.Service.
type Auditor interface {
	Record(ctx context.Context, e audit.Event, metadata any) error
}

type Config struct {
	RingWindow     time.Duration
	MaxLegs        int
	OrphanTTL      time.Duration
	CommandTimeout time.Duration
	// VoicemailURL is the recording played by DropVoicemail.
	VoicemailURL string
	// Region is the default region for national-format lead numbers.
	Region string
}

func (c Config) withDefaults() Config {
	if c.RingWindow <= 0 {
		c.RingWindow = 30 * time.Second
	}
	if c.MaxLegs <= 0 {
		c.MaxLegs = 3
	}
	if c.OrphanTTL <= 0 {
		c.OrphanTTL = 30 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.Region == "" {
		c.Region = "US"
	}
	return c
}

type Deps struct {
	Provider  telephony.Provider
	Legs      calls.Repository
	Sessions  Sessions
	Disposer  Disposer
	Numbers   *telephony.NumberPool
	Lines     LineLimiter
	Audit     Auditor
	Publisher events.Publisher
}

// Coordinator owns in-flight legs and dial batches.
//
// Each session gets an actor goroutine; dial commands, provider callbacks,
// ring timeouts and call controls for the session are applied one at a time
// on that actor. The registry below only maps sessions and legs to actors.
type Coordinator struct {
	cfg      Config
	provider telephony.Provider
	legRepo  calls.Repository
	sessions Sessions
	disposer Disposer
	numbers  *telephony.NumberPool
	lines    LineLimiter
	audit    Auditor
	pub      events.Publisher
	log      *slog.Logger

	mu       sync.Mutex
	actors   map[string]*actor
	legIndex map[string]string
	orphans  *orphanBuffer
	closed   map[string]time.Time

	// background terminations and timer posts
	wg sync.WaitGroup

	Now   func() time.Time
	NewID func() string
}

func New(cfg Config, deps Deps, log *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if deps.Lines == nil {
		deps.Lines = NoLineLimit{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		provider: deps.Provider,
		legRepo:  deps.Legs,
		sessions: deps.Sessions,
		disposer: deps.Disposer,
		numbers:  deps.Numbers,
		lines:    deps.Lines,
		audit:    deps.Audit,
		pub:      deps.Publisher,
		log:      log.With("component", "dialer"),
		actors:   map[string]*actor{},
		legIndex: map[string]string{},
		orphans:  newOrphanBuffer(cfg.OrphanTTL, 0),
		closed:   map[string]time.Time{},
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Dial places one leg per target and races them for the rep.
func (c *Coordinator) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	targets, err := c.prepare(req.Targets)
	if err != nil {
		return DialResult{}, err
	}
	a, s, err := c.sessionActor(ctx, req.SessionID)
	if err != nil {
		return DialResult{}, err
	}
	var (
		res  DialResult
		derr error
	)
	err = a.do(ctx, func(st *sessionState) {
		st.device = s.DeviceIdentity
		res, derr = c.dial(context.WithoutCancel(ctx), st, targets)
	})
	if err != nil {
		return DialResult{}, err
	}
	return res, derr
}

// ApplyProviderEvent applies one provider callback to its leg.
//
// Callbacks for legs that are not registered yet are kept for OrphanTTL and
// replayed when the leg registers; the caller still gets ErrUnknownLeg.
func (c *Coordinator) ApplyProviderEvent(ctx context.Context, legID string, reported calls.State, at time.Time) (calls.Transition, error) {
	if !reported.Valid() {
		return calls.Transition{}, fmt.Errorf("%w: %q", calls.ErrInvalidState, reported)
	}
	c.mu.Lock()
	var a *actor
	if sid, ok := c.legIndex[legID]; ok {
		a = c.actors[sid]
	}
	if a == nil {
		c.orphans.stash(legID, reported, at, c.Now().UTC())
		c.mu.Unlock()
		return calls.Transition{}, fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
	}
	c.mu.Unlock()

	var (
		tr   calls.Transition
		aerr error
	)
	if err := a.do(ctx, func(st *sessionState) {
		tr, aerr = c.apply(context.WithoutCancel(ctx), st, legID, reported, at, calls.SourceProvider)
	}); err != nil {
		if errors.Is(err, ErrNoSession) {
			return calls.Transition{}, fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
		}
		return calls.Transition{}, err
	}
	return tr, aerr
}

// RegisterInbound hands an inbound call that routing connected to the rep's session.
func (c *Coordinator) RegisterInbound(ctx context.Context, sessionID string, in InboundLeg) error {
	if in.LegID == "" {
		return fmt.Errorf("%w: leg_id required", ErrInvalidTargets)
	}
	a, _, err := c.sessionActor(ctx, sessionID)
	if err != nil {
		return err
	}
	var rerr error
	if err := a.do(ctx, func(st *sessionState) {
		rerr = c.registerInbound(context.WithoutCancel(ctx), st, in)
	}); err != nil {
		return err
	}
	return rerr
}

// Busy reports whether the session has a batch in flight or a live call.
func (c *Coordinator) Busy(ctx context.Context, sessionID string) (bool, error) {
	a := c.actor(sessionID)
	if a == nil {
		return false, nil
	}
	var busy bool
	if err := a.do(ctx, func(st *sessionState) { busy = st.busy() }); err != nil {
		if errors.Is(err, ErrNoSession) {
			return false, nil
		}
		return false, err
	}
	return busy, nil
}

// Snapshot returns the session's latest batch, live leg and legs.
func (c *Coordinator) Snapshot(ctx context.Context, sessionID string) (SessionView, error) {
	v := SessionView{SessionID: sessionID, Legs: []calls.Leg{}}
	a := c.actor(sessionID)
	if a == nil {
		return v, nil
	}
	err := a.do(ctx, func(st *sessionState) {
		if st.current != nil {
			bv := st.current.View()
			v.Batch = &bv
		}
		v.LiveLegID = st.live
		for _, id := range st.order {
			v.Legs = append(v.Legs, st.legs[id].Clone())
		}
	})
	if errors.Is(err, ErrNoSession) {
		return SessionView{SessionID: sessionID, Legs: []calls.Leg{}}, nil
	}
	return v, err
}

func (c *Coordinator) Hangup(ctx context.Context, legID string) error {
	return c.onLeg(ctx, legID, func(ctx context.Context, st *sessionState) error {
		return c.hangup(ctx, st, legID)
	})
}

func (c *Coordinator) Hold(ctx context.Context, legID string) error {
	return c.onLeg(ctx, legID, func(ctx context.Context, st *sessionState) error {
		return c.hold(ctx, st, legID)
	})
}

func (c *Coordinator) Resume(ctx context.Context, legID string) error {
	return c.onLeg(ctx, legID, func(ctx context.Context, st *sessionState) error {
		return c.resume(ctx, st, legID)
	})
}

// DropVoicemail plays the configured recording on a live leg.
func (c *Coordinator) DropVoicemail(ctx context.Context, legID string) error {
	if c.cfg.VoicemailURL == "" {
		return ErrNoVoicemail
	}
	return c.onLeg(ctx, legID, func(ctx context.Context, st *sessionState) error {
		return c.dropVoicemail(ctx, st, legID)
	})
}

// CloseSession stops the session's actor. Open legs are terminated and
// pending batches aborted. Safe to call for unknown or closed sessions.
func (c *Coordinator) CloseSession(ctx context.Context, sessionID string) error {
	now := c.Now().UTC()
	c.mu.Lock()
	a := c.actors[sessionID]
	c.closed[sessionID] = now
	for id, at := range c.closed {
		if now.Sub(at) > time.Hour {
			delete(c.closed, id)
		}
	}
	c.mu.Unlock()
	if a == nil {
		return nil
	}

	err := a.do(ctx, func(st *sessionState) { c.close(context.WithoutCancel(ctx), st) })
	if errors.Is(err, ErrNoSession) {
		err = nil
	}

	c.mu.Lock()
	delete(c.actors, sessionID)
	for legID, sid := range c.legIndex {
		if sid == sessionID {
			delete(c.legIndex, legID)
		}
	}
	c.mu.Unlock()
	return err
}

// Shutdown closes every session and waits for outstanding terminations.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.actors))
	for id := range c.actors {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		if err := c.CloseSession(ctx, id); err != nil {
			c.log.Warn("close session on shutdown failed", "session_id", id, "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (c *Coordinator) actor(sessionID string) *actor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actors[sessionID]
}

// sessionActor returns the actor for an active session, starting one if needed.
func (c *Coordinator) sessionActor(ctx context.Context, sessionID string) (*actor, session.Session, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, session.Session{}, err
	}
	if !s.IsActive {
		return nil, session.Session{}, ErrNoSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.actors[s.ID]; a != nil {
		return a, s, nil
	}
	if _, ok := c.closed[s.ID]; ok {
		return nil, session.Session{}, ErrNoSession
	}
	a := newActor(newSessionState(s.ID, s.RepID, s.DeviceIdentity), c.log)
	c.actors[s.ID] = a
	return a, s, nil
}

func (c *Coordinator) onLeg(ctx context.Context, legID string, fn func(context.Context, *sessionState) error) error {
	c.mu.Lock()
	var a *actor
	if sid, ok := c.legIndex[legID]; ok {
		a = c.actors[sid]
	}
	c.mu.Unlock()
	if a == nil {
		return fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
	}
	var ferr error
	if err := a.do(ctx, func(st *sessionState) { ferr = fn(context.WithoutCancel(ctx), st) }); err != nil {
		if errors.Is(err, ErrNoSession) {
			return fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
		}
		return err
	}
	return ferr
}

// register indexes legs for callbacks and returns any callbacks that beat them here.
func (c *Coordinator) register(sessionID string, legIDs []string) map[string][]orphanEvent {
	now := c.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string][]orphanEvent{}
	for _, id := range legIDs {
		c.legIndex[id] = sessionID
		if evs := c.orphans.take(id, now); len(evs) > 0 {
			out[id] = evs
		}
	}
	return out
}

// post queues fn on the session's actor without waiting.
func (c *Coordinator) post(sessionID string, fn func(*sessionState)) {
	a := c.actor(sessionID)
	if a == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = a.do(context.Background(), fn)
	}()
}

// OrphanCount reports how many legs have buffered early callbacks.
func (c *Coordinator) OrphanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orphans.prune(c.Now().UTC())
	return c.orphans.len()
}
