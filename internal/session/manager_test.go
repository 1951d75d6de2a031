package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"power-dialer/internal/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, e)
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got[len(p.got)-1]
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time      { return c.t }
func (c *fixedClock) add(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(cfg Config, owner Owner) (*Manager, *MemoryRepo, *recordingPublisher, *fixedClock) {
	repo := NewMemoryRepo()
	pub := &recordingPublisher{}
	clock := &fixedClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(cfg, repo, owner, pub, nil)
	m.Now = clock.now
	var n int
	m.NewID = func() string { n++; return fmt.Sprintf("s%d", n) }
	return m, repo, pub, clock
}

func TestStart_ConflictWhileActive(t *testing.T) {
	m, _, _, _ := newTestManager(Config{}, nil)
	ctx := context.Background()

	first, err := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "rep-r1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	_, err = m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "rep-r1"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ExistingSessionID != first.ID {
		t.Fatalf("expected existing id %s, got %s", first.ID, conflict.ExistingSessionID)
	}

	if _, err := m.Start(ctx, StartRequest{RepID: "r2", DeviceIdentity: "rep-r2"}); err != nil {
		t.Fatalf("other rep should start freely: %v", err)
	}
}

func TestStart_ReplacesStaleSession(t *testing.T) {
	m, repo, _, clock := newTestManager(Config{ReplaceStale: true, StaleAfter: time.Minute}, nil)
	ctx := context.Background()

	var ended []string
	m.OnEnd(func(s Session) { ended = append(ended, s.ID) })

	old, _ := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "rep-r1"})

	clock.add(30 * time.Second)
	if _, err := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "rep-r1"}); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("fresh session must not be replaced, got %v", err)
	}

	clock.add(2 * time.Minute)
	next, err := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "rep-r1"})
	if err != nil {
		t.Fatalf("expected stale replacement, got %v", err)
	}
	if next.ID == old.ID {
		t.Fatalf("expected new session id")
	}
	stored, _ := repo.Get(ctx, old.ID)
	if stored.IsActive || stored.EndReason != EndReasonReplaced {
		t.Fatalf("expected old session ended as replaced, got %+v", stored)
	}
	if len(ended) != 1 || ended[0] != old.ID {
		t.Fatalf("expected end hook for old session, got %v", ended)
	}
}

func TestStart_RequiresRepAndDevice(t *testing.T) {
	m, _, _, _ := newTestManager(Config{}, nil)
	if _, err := m.Start(context.Background(), StartRequest{RepID: "r1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRecordAndEnd_MergeByMax(t *testing.T) {
	m, repo, pub, _ := newTestManager(Config{}, nil)
	ctx := context.Background()
	s, _ := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "rep-r1"})

	if err := m.Record(ctx, s.ID, Stats{TotalCalls: 3, ConnectedCalls: 1}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := m.Record(ctx, s.ID, Stats{TotalCalls: -1}); !errors.Is(err, ErrInvalidStats) {
		t.Fatalf("expected ErrInvalidStats, got %v", err)
	}

	client := Stats{TotalCalls: 2, Mutes: 4, HoldSeconds: 30}
	out, err := m.End(ctx, s.ID, &client)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := Stats{TotalCalls: 3, ConnectedCalls: 1, Mutes: 4, HoldSeconds: 30}
	if out.Stats != want {
		t.Fatalf("expected %+v, got %+v", want, out.Stats)
	}
	if out.IsActive || out.EndedAt == nil {
		t.Fatalf("expected ended session, got %+v", out)
	}
	stored, _ := repo.Get(ctx, s.ID)
	if stored.Stats != want || stored.IsActive {
		t.Fatalf("expected persisted stats, got %+v", stored)
	}
	if e := pub.last(); e.Type != events.TypeSessionUpdate {
		t.Fatalf("expected SESSION_UPDATE, got %s", e.Type)
	}

	// Late counters are dropped, and a second End is a no-op.
	if err := m.Record(ctx, s.ID, Stats{TotalCalls: 1}); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	again, err := m.End(ctx, s.ID, &Stats{TotalCalls: 99})
	if err != nil || again.Stats != want {
		t.Fatalf("expected idempotent end, got %+v %v", again.Stats, err)
	}
	if _, ok := m.ActiveForRep("r1"); ok {
		t.Fatalf("expected no active session")
	}
}

func TestEnd_UnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(Config{}, nil)
	if _, err := m.End(context.Background(), "nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepIdle(t *testing.T) {
	m, _, _, clock := newTestManager(Config{IdleTimeout: 10 * time.Minute, EndedRetention: time.Minute}, nil)
	ctx := context.Background()
	busy, _ := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "a"})
	idle, _ := m.Start(ctx, StartRequest{RepID: "r2", DeviceIdentity: "b"})

	clock.add(8 * time.Minute)
	_ = m.Record(ctx, busy.ID, Stats{})
	clock.add(5 * time.Minute)

	ended := m.SweepIdle(ctx, clock.now())
	if len(ended) != 1 || ended[0] != idle.ID {
		t.Fatalf("expected only idle session ended, got %v", ended)
	}
	got, _ := m.Get(ctx, idle.ID)
	if got.EndReason != EndReasonIdle {
		t.Fatalf("expected idle end reason, got %q", got.EndReason)
	}
	if !m.Local(busy.ID) {
		t.Fatalf("busy session should still be live")
	}

	// Ended sessions are forgotten after retention but stay readable from the store.
	clock.add(2 * time.Minute)
	m.SweepIdle(ctx, clock.now())
	if got, err := m.Get(ctx, idle.ID); err != nil || got.IsActive {
		t.Fatalf("expected stored ended session, got %+v %v", got, err)
	}
}

type stubActivity struct {
	busy map[string]bool
	err  error
}

func (a stubActivity) Busy(_ context.Context, sessionID string) (bool, error) {
	return a.busy[sessionID], a.err
}

func TestSweepIdle_SparesSessionOnCall(t *testing.T) {
	m, _, _, clock := newTestManager(Config{IdleTimeout: 10 * time.Minute}, nil)
	ctx := context.Background()
	onCall, _ := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "a"})
	quiet, _ := m.Start(ctx, StartRequest{RepID: "r2", DeviceIdentity: "b"})

	var closed []string
	m.OnEnd(func(s Session) { closed = append(closed, s.ID) })
	m.SetCallActivity(stubActivity{busy: map[string]bool{onCall.ID: true}})

	// Heartbeats alone do not count as activity.
	clock.add(11 * time.Minute)
	_, _ = m.Heartbeat(ctx, onCall.ID)
	_, _ = m.Heartbeat(ctx, quiet.ID)

	ended := m.SweepIdle(ctx, clock.now())
	if len(ended) != 1 || ended[0] != quiet.ID {
		t.Fatalf("expected only the quiet session ended, got %v", ended)
	}
	if len(closed) != 1 || closed[0] != quiet.ID {
		t.Fatalf("expected end hook for quiet session only, got %v", closed)
	}
	if !m.Local(onCall.ID) {
		t.Fatalf("session on a call must survive the sweep")
	}

	// The live call refreshed activity, so the idle clock restarts from the sweep.
	m.SetCallActivity(stubActivity{})
	clock.add(5 * time.Minute)
	if ended := m.SweepIdle(ctx, clock.now()); len(ended) != 0 {
		t.Fatalf("expected no sweep inside the refreshed window, got %v", ended)
	}
	clock.add(6 * time.Minute)
	if ended := m.SweepIdle(ctx, clock.now()); len(ended) != 1 || ended[0] != onCall.ID {
		t.Fatalf("expected session ended once the call is over, got %v", ended)
	}
}

func TestSweepIdle_KeepsSessionWhenActivityUnknown(t *testing.T) {
	m, _, _, clock := newTestManager(Config{IdleTimeout: 10 * time.Minute}, nil)
	ctx := context.Background()
	s, _ := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "a"})
	m.SetCallActivity(stubActivity{err: errors.New("coordinator stopped")})

	clock.add(11 * time.Minute)
	if ended := m.SweepIdle(ctx, clock.now()); len(ended) != 0 {
		t.Fatalf("expected no sweep on activity error, got %v", ended)
	}
	if !m.Local(s.ID) {
		t.Fatalf("session should still be live")
	}
}

func TestUpdateSettings(t *testing.T) {
	m, _, _, _ := newTestManager(Config{}, nil)
	ctx := context.Background()
	s, _ := m.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "a"})

	on := true
	out, err := m.UpdateSettings(ctx, s.ID, Settings{AutoText: &on})
	if err != nil || !out.AutoTextEnabled || out.AutoDialEnabled {
		t.Fatalf("unexpected settings %+v %v", out, err)
	}
}

func TestRedisOwner_PinsRepToOneNode(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	nodeA, _, _, _ := newTestManager(Config{}, NewRedisOwner(rdb, "node-a", time.Minute))
	nodeB, _, _, _ := newTestManager(Config{}, NewRedisOwner(rdb, "node-b", time.Minute))
	nodeB.NewID = func() string { return "b1" }
	ctx := context.Background()

	a, err := nodeA.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "x"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, err = nodeB.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "x"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.ExistingSessionID != a.ID {
		t.Fatalf("expected conflict naming %s, got %v", a.ID, err)
	}

	if _, err := nodeA.End(ctx, a.ID, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := nodeB.Start(ctx, StartRequest{RepID: "r1", DeviceIdentity: "x"}); err != nil {
		t.Fatalf("expected lease to be free after end, got %v", err)
	}
}

func TestStats_MergeAndAdd(t *testing.T) {
	a := Stats{TotalCalls: 5, Mutes: 1}
	b := Stats{TotalCalls: 3, Mutes: 2, TextsSent: 1}
	if got := a.Merge(b); got != (Stats{TotalCalls: 5, Mutes: 2, TextsSent: 1}) {
		t.Fatalf("unexpected merge %+v", got)
	}
	if got := a.Add(b); got != (Stats{TotalCalls: 8, Mutes: 3, TextsSent: 1}) {
		t.Fatalf("unexpected add %+v", got)
	}
	if (Stats{Busy: -1}).Valid() {
		t.Fatalf("expected negative counter to be invalid")
	}
}
