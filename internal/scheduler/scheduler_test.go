package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"power-dialer/internal/disposition"
	"power-dialer/internal/leads"
	"power-dialer/internal/texting"
)

type enqueued struct {
	task *asynq.Task
	opts map[asynq.OptionType]any
}

type fakeEnqueuer struct {
	got []enqueued
	err error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := map[asynq.OptionType]any{}
	for _, o := range opts {
		m[o.Type()] = o.Value()
	}
	f.got = append(f.got, enqueued{task: task, opts: m})
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClient_ScheduleCallbackCheck(t *testing.T) {
	fe := &fakeEnqueuer{}
	c := &Client{client: fe, queue: "dialer"}
	runAt := time.Date(2026, 3, 1, 15, 15, 0, 0, time.UTC)

	if err := c.ScheduleCallbackCheck(context.Background(), "cb1", runAt); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fe.got) != 1 {
		t.Fatalf("expected 1 task; got %d", len(fe.got))
	}
	e := fe.got[0]
	if e.task.Type() != TaskCallbackMissedCheck {
		t.Fatalf("unexpected task type %q", e.task.Type())
	}
	p, err := ParseCallbackMissedCheckPayload(e.task)
	if err != nil || p.CallbackID != "cb1" {
		t.Fatalf("unexpected payload %+v, %v", p, err)
	}
	if at, _ := e.opts[asynq.ProcessAtOpt].(time.Time); !at.Equal(runAt) {
		t.Fatalf("expected process at %v; got %v", runAt, e.opts[asynq.ProcessAtOpt])
	}
	if q := e.opts[asynq.QueueOpt]; q != "dialer" {
		t.Fatalf("expected queue dialer; got %v", q)
	}
	if id := e.opts[asynq.TaskIDOpt]; id != "callbacks.missed_check:cb1" {
		t.Fatalf("unexpected task id %v", id)
	}
}

func TestClient_DuplicateTaskIDIsNotAnError(t *testing.T) {
	c := &Client{client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}, queue: "default"}
	if err := c.ScheduleCallbackCheck(context.Background(), "cb1", time.Now()); err != nil {
		t.Fatalf("expected conflict to be swallowed; got %v", err)
	}
	if err := c.ScheduleAutoText(context.Background(), disposition.AutoTextJob{LeadID: "l1", LegID: "A"}); err != nil {
		t.Fatalf("expected conflict to be swallowed; got %v", err)
	}

	boom := errors.New("redis down")
	c = &Client{client: &fakeEnqueuer{err: boom}, queue: "default"}
	if err := c.ScheduleCallbackCheck(context.Background(), "cb1", time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected enqueue error; got %v", err)
	}
}

func TestClient_NilIsNoop(t *testing.T) {
	var c *Client
	if err := c.ScheduleAutoText(context.Background(), disposition.AutoTextJob{LeadID: "l1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

type stubCallbacks struct {
	marked  []string
	swept   int
	markErr error
}

func (s *stubCallbacks) MarkMissed(ctx context.Context, id string, now time.Time) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	s.marked = append(s.marked, id)
	return true, nil
}

func (s *stubCallbacks) SweepMissed(ctx context.Context, now time.Time) (int, error) {
	s.swept++
	return 2, nil
}

type sentText struct{ to, body string }

type stubTexter struct {
	sent []sentText
	err  error
}

func (s *stubTexter) Send(ctx context.Context, to, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentText{to, body})
	return nil
}

func (s *stubTexter) PreviewLink(leadID string) string {
	return "https://preview.example.com/leads/" + leadID
}

func TestWorker_MissedCheck(t *testing.T) {
	cbs := &stubCallbacks{}
	w := newWorker(Deps{Callbacks: cbs}, nil)

	task, _ := NewCallbackMissedCheckTask(CallbackMissedCheckPayload{CallbackID: "cb1"})
	if err := w.handleCallbackMissedCheck(context.Background(), task); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(cbs.marked) != 1 || cbs.marked[0] != "cb1" {
		t.Fatalf("expected cb1 marked; got %v", cbs.marked)
	}

	cbs.markErr = disposition.ErrNotFound
	if err := w.handleCallbackMissedCheck(context.Background(), task); err != nil {
		t.Fatalf("expected unknown callback to be dropped; got %v", err)
	}

	bad := asynq.NewTask(TaskCallbackMissedCheck, []byte("{"))
	if err := w.handleCallbackMissedCheck(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload; got %v", err)
	}
}

func TestWorker_Sweep(t *testing.T) {
	cbs := &stubCallbacks{}
	w := newWorker(Deps{Callbacks: cbs}, nil)
	if err := w.handleCallbackMissedSweep(context.Background(), NewCallbackMissedSweepTask()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cbs.swept != 1 {
		t.Fatalf("expected one sweep; got %d", cbs.swept)
	}
}

func TestWorker_AutoText(t *testing.T) {
	store := leads.NewMemoryRepo(
		leads.Lead{ID: "l1", RepID: "r1", Name: "Dana", Phone: "+16502530001"},
		leads.Lead{ID: "l2", RepID: "r1", Phone: "+16502530002", DoNotContact: true},
	)
	tx := &stubTexter{}
	w := newWorker(Deps{Leads: store, Texts: tx}, nil)

	task, _ := NewAutoTextTask(AutoTextPayload{LeadID: "l1", RepID: "r1", LegID: "A"})
	if err := w.handleAutoText(context.Background(), task); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(tx.sent) != 1 || tx.sent[0].to != "+16502530001" {
		t.Fatalf("expected one text to lead; got %+v", tx.sent)
	}
	if !strings.Contains(tx.sent[0].body, "https://preview.example.com/leads/l1") || !strings.HasPrefix(tx.sent[0].body, "Hi Dana") {
		t.Fatalf("unexpected body %q", tx.sent[0].body)
	}

	for _, id := range []string{"l2", "missing"} {
		task, _ := NewAutoTextTask(AutoTextPayload{LeadID: id})
		if err := w.handleAutoText(context.Background(), task); err != nil {
			t.Fatalf("lead %s: unexpected err: %v", id, err)
		}
	}
	if len(tx.sent) != 1 {
		t.Fatalf("expected no text for do-not-contact or missing lead; got %+v", tx.sent)
	}

	tx.err = errors.New("gateway 503")
	if err := w.handleAutoText(context.Background(), task); err == nil {
		t.Fatalf("expected send failure to be retried")
	}

	tx.err = fmt.Errorf("%w: status 400", texting.ErrRejected)
	if err := w.handleAutoText(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected rejected text not to be retried; got %v", err)
	}
}
