package disposition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"power-dialer/internal/calls"
	"power-dialer/internal/leads"
	"power-dialer/internal/session"
)

type fakeJobs struct {
	mu     sync.Mutex
	checks map[string]time.Time
	texts  []AutoTextJob
	err    error
}

func (f *fakeJobs) ScheduleCallbackCheck(ctx context.Context, callbackID string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checks == nil {
		f.checks = map[string]time.Time{}
	}
	f.checks[callbackID] = runAt
	return f.err
}

func (f *fakeJobs) ScheduleAutoText(ctx context.Context, job AutoTextJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, job)
	return f.err
}

type fakeVoicemail struct{ legs []string }

func (f *fakeVoicemail) DropVoicemail(ctx context.Context, legID string) error {
	f.legs = append(f.legs, legID)
	return nil
}

type fixture struct {
	engine   *Engine
	repo     *MemoryRepo
	legs     *calls.MemoryRepo
	leads    *leads.MemoryRepo
	sessions *session.Manager
	jobs     *fakeJobs
	vm       *fakeVoicemail
	sess     session.Session
	now      time.Time
}

func newFixture(t *testing.T, autoText bool) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	f := &fixture{
		repo:  NewMemoryRepo(),
		legs:  calls.NewMemoryRepo(),
		leads: leads.NewMemoryRepo(leads.Lead{ID: "l1", RepID: "r1", Phone: "+16502530001", Status: leads.StatusNew}),
		jobs:  &fakeJobs{},
		vm:    &fakeVoicemail{},
		now:   now,
	}
	f.sessions = session.NewManager(session.Config{}, session.NewMemoryRepo(), nil, nil, nil)
	f.sessions.Now = func() time.Time { return now }
	sess, err := f.sessions.Start(ctx, session.StartRequest{RepID: "r1", DeviceIdentity: "rep-r1", AutoText: autoText})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	f.sess = sess

	f.engine = NewEngine(Config{MissedGrace: 15 * time.Minute}, f.repo, f.legs, f.leads, f.sessions, f.jobs, nil, nil)
	f.engine.Now = func() time.Time { return f.now }
	var n int
	f.engine.NewID = func() string { n++; return fmt.Sprintf("id%d", n) }
	f.engine.SetVoicemailDropper(f.vm)
	return f
}

func (f *fixture) addLeg(t *testing.T, id string, state calls.State) calls.Leg {
	t.Helper()
	l := calls.Leg{ID: id, SessionID: f.sess.ID, LeadID: "l1", RepID: "r1", State: state, StartedAt: f.now}
	if err := f.legs.InsertLeg(context.Background(), l); err != nil {
		t.Fatalf("insert leg: %v", err)
	}
	return l
}

func (f *fixture) stats(t *testing.T) session.Stats {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), f.sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s.Stats
}

func TestLog_OnePerLeg(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.addLeg(t, "CA1", calls.StateCompleted)

	d, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeNotInterested})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.RepID != "r1" || d.SessionID != f.sess.ID {
		t.Fatalf("expected rep and session from leg, got %+v", d)
	}
	leg, _ := f.legs.Get(ctx, "CA1")
	if leg.DispositionResult != string(OutcomeNotInterested) {
		t.Fatalf("expected leg disposition result, got %q", leg.DispositionResult)
	}
	lead, _ := f.leads.Get(ctx, "l1")
	if lead.LastContactedAt == nil {
		t.Fatalf("expected lead contact touch")
	}

	if _, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeInterested}); !errors.Is(err, ErrAlreadyDispositioned) {
		t.Fatalf("expected ErrAlreadyDispositioned, got %v", err)
	}
}

func TestLog_RejectsBadInput(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.addLeg(t, "CA1", calls.StateCompleted)

	if _, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "l1", Outcome: "maybe"}); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
	past := f.now.Add(-time.Minute)
	if _, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeCallback, CallbackAt: &past}); !errors.Is(err, ErrCallbackInPast) {
		t.Fatalf("expected ErrCallbackInPast, got %v", err)
	}
	if _, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "other", Outcome: OutcomeBusy}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for lead mismatch, got %v", err)
	}
	if _, err := f.engine.Log(ctx, LogRequest{LegID: "nope", LeadID: "l1", Outcome: OutcomeBusy}); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected calls.ErrNotFound, got %v", err)
	}
}

func TestLog_CallbackSupersedesPending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l1", At: f.now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	f.addLeg(t, "CA1", calls.StateCompleted)
	at := f.now.Add(24 * time.Hour)
	if _, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeCallback, CallbackAt: &at}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	pending, _ := f.repo.ListPendingForLeads(ctx, []string{"l1"})
	if len(pending) != 1 || !pending[0].ScheduledAt.Equal(at) {
		t.Fatalf("expected exactly one pending callback at %s, got %+v", at, pending)
	}
	old, _ := f.repo.GetCallback(ctx, first.ID)
	if old.Status != CallbackCancelled {
		t.Fatalf("expected first callback cancelled, got %s", old.Status)
	}
	if runAt := f.jobs.checks[pending[0].ID]; !runAt.Equal(at.Add(15 * time.Minute)) {
		t.Fatalf("expected missed check at scheduled+grace, got %s", runAt)
	}
	if got := f.stats(t).CallbacksScheduled; got != 1 {
		t.Fatalf("expected 1 callback scheduled from the disposition, got %d", got)
	}
}

func TestLog_DoNotContact(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l1", At: f.now.Add(time.Hour)}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f.addLeg(t, "CA1", calls.StateCompleted)

	if _, err := f.engine.Log(ctx, LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeDoNotContact}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	lead, _ := f.leads.Get(ctx, "l1")
	if !lead.DoNotContact {
		t.Fatalf("expected lead marked do-not-contact")
	}
	if pending, _ := f.repo.ListPendingForLeads(ctx, []string{"l1"}); len(pending) != 0 {
		t.Fatalf("expected pending callbacks cancelled, got %+v", pending)
	}
	if _, err := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l1", At: f.now.Add(time.Hour)}); !errors.Is(err, ErrDoNotContact) {
		t.Fatalf("expected ErrDoNotContact, got %v", err)
	}
}

func TestLog_InterestedQueuesAutoTextOnlyWhenEnabled(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		f := newFixture(t, enabled)
		f.addLeg(t, "CA1", calls.StateCompleted)
		if _, err := f.engine.Log(context.Background(), LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeInterested}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		want := 0
		if enabled {
			want = 1
		}
		if len(f.jobs.texts) != want || f.stats(t).PreviewsSent != want {
			t.Fatalf("auto text %v: expected %d jobs, got %d (stats %+v)", enabled, want, len(f.jobs.texts), f.stats(t))
		}
	}
}

func TestLog_VoicemailDropsOnLiveLeg(t *testing.T) {
	f := newFixture(t, false)
	f.addLeg(t, "CA1", calls.StateConnected)
	if _, err := f.engine.Log(context.Background(), LogRequest{LegID: "CA1", LeadID: "l1", Outcome: OutcomeVoicemail}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(f.vm.legs) != 1 || f.vm.legs[0] != "CA1" {
		t.Fatalf("expected voicemail drop on CA1, got %v", f.vm.legs)
	}
	if f.stats(t).Voicemails != 1 {
		t.Fatalf("expected voicemail counter")
	}
}

func TestAutoDispose(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	leg := f.addLeg(t, "CA1", calls.StateNoAnswer)
	dropped := f.addLeg(t, "CA2", calls.StateCompleted)

	if err := f.engine.AutoDispose(ctx, leg, OutcomeNoAnswer); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.engine.AutoDispose(ctx, leg, OutcomeNoAnswer); err != nil {
		t.Fatalf("second auto dispose should be absorbed: %v", err)
	}
	if err := f.engine.AutoDispose(ctx, dropped, OutcomeDropped); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	d, _ := f.repo.GetByLeg(ctx, "CA1")
	if !d.Auto {
		t.Fatalf("expected auto flag")
	}
	st := f.stats(t)
	if st.NoAnswers != 1 || st.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestCallbackLifecycle(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cb, err := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l1", At: f.now.Add(10 * time.Minute)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cb.RepID != "r1" {
		t.Fatalf("expected rep from lead, got %q", cb.RepID)
	}
	if _, err := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l1", At: f.now}); !errors.Is(err, ErrCallbackInPast) {
		t.Fatalf("expected ErrCallbackInPast, got %v", err)
	}

	// Not yet due: nothing to complete or miss.
	if ok, _ := f.engine.CompleteDue(ctx, "l1", "CA1", f.now); ok {
		t.Fatalf("callback is not due yet")
	}
	if ok, _ := f.engine.MarkMissed(ctx, cb.ID, f.now.Add(20*time.Minute)); ok {
		t.Fatalf("grace period has not passed")
	}

	ok, err := f.engine.CompleteDue(ctx, "l1", "CA1", f.now.Add(11*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected completion, got %v %v", ok, err)
	}
	done, _ := f.repo.GetCallback(ctx, cb.ID)
	if done.Status != CallbackCompleted || done.CallID != "CA1" {
		t.Fatalf("unexpected callback %+v", done)
	}
	if _, err := f.engine.CancelCallback(ctx, cb.ID); !errors.Is(err, ErrCallbackNotPending) {
		t.Fatalf("expected ErrCallbackNotPending, got %v", err)
	}
}

func TestSweepMissed(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.leads.Put(leads.Lead{ID: "l2", RepID: "r1", Phone: "+16502530002", Status: leads.StatusNew})

	late, _ := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l1", At: f.now.Add(time.Minute)})
	soon, _ := f.engine.ScheduleCallback(ctx, ScheduleRequest{LeadID: "l2", At: f.now.Add(30 * time.Minute)})

	n, err := f.engine.SweepMissed(ctx, f.now.Add(20*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one missed callback, got %d %v", n, err)
	}
	if cb, _ := f.repo.GetCallback(ctx, late.ID); cb.Status != CallbackMissed {
		t.Fatalf("expected missed, got %s", cb.Status)
	}
	if cb, _ := f.repo.GetCallback(ctx, soon.ID); cb.Status != CallbackPending {
		t.Fatalf("expected still pending, got %s", cb.Status)
	}
}
