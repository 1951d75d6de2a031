package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"power-dialer/internal/config"
	"power-dialer/internal/disposition"
	"power-dialer/internal/leads"
	"power-dialer/internal/texting"
)

// Callbacks is the part of the disposition engine the worker drives.
type Callbacks interface {
	MarkMissed(ctx context.Context, id string, now time.Time) (bool, error)
	SweepMissed(ctx context.Context, now time.Time) (int, error)
}

type LeadGetter interface {
	Get(ctx context.Context, id string) (leads.Lead, error)
}

// Texter sends the post-call preview text.
type Texter interface {
	Send(ctx context.Context, to, body string) error
	PreviewLink(leadID string) string
}

type Deps struct {
	Callbacks Callbacks
	Leads     LeadGetter
	Texts     Texter
}

type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	sweepSpec string

	deps Deps
	now  func() time.Time
	log  *slog.Logger
}

func NewWorker(cfg config.Config, deps Deps, log *slog.Logger) (*Worker, error) {
	opt := RedisOpt(cfg)

	queue := cfg.Scheduler.Queue
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.Scheduler.Concurrency
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(deps, log)
	w.server = server
	w.scheduler = asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	w.sweepSpec = cfg.Scheduler.SweepSchedule

	if w.sweepSpec != "" {
		if _, err := w.scheduler.Register(w.sweepSpec, NewCallbackMissedSweepTask(), asynq.Queue(queue)); err != nil {
			return nil, fmt.Errorf("scheduler: register sweep %q: %w", w.sweepSpec, err)
		}
	}
	return w, nil
}

func newWorker(deps Deps, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{mux: asynq.NewServeMux(), deps: deps, now: time.Now, log: log}
	w.mux.HandleFunc(TaskCallbackMissedCheck, w.handleCallbackMissedCheck)
	w.mux.HandleFunc(TaskCallbackMissedSweep, w.handleCallbackMissedSweep)
	w.mux.HandleFunc(TaskAutoText, w.handleAutoText)
	return w
}

// Run blocks until ctx is done or the server fails.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}

	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler: start: %w", err)
	}
	defer w.scheduler.Shutdown()

	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("scheduler: worker start: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

func (w *Worker) handleCallbackMissedCheck(ctx context.Context, task *asynq.Task) error {
	if w.deps.Callbacks == nil {
		return nil
	}

	payload, err := ParseCallbackMissedCheckPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	marked, err := w.deps.Callbacks.MarkMissed(ctx, payload.CallbackID, w.now().UTC())
	if errors.Is(err, disposition.ErrNotFound) {
		w.log.Warn("missed check for unknown callback", "callback_id", payload.CallbackID)
		return nil
	}
	if err != nil {
		return err
	}
	w.log.Info("callback missed check", "callback_id", payload.CallbackID, "marked", marked)
	return nil
}

func (w *Worker) handleCallbackMissedSweep(ctx context.Context, task *asynq.Task) error {
	if w.deps.Callbacks == nil {
		return nil
	}

	n, err := w.deps.Callbacks.SweepMissed(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("callback sweep marked missed", "count", n)
	}
	return nil
}

func (w *Worker) handleAutoText(ctx context.Context, task *asynq.Task) error {
	if w.deps.Texts == nil || w.deps.Leads == nil {
		return nil
	}

	payload, err := ParseAutoTextPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	lead, err := w.deps.Leads.Get(ctx, payload.LeadID)
	if errors.Is(err, leads.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if lead.DoNotContact || lead.Phone == "" {
		w.log.Info("auto text skipped", "lead_id", lead.ID, "do_not_contact", lead.DoNotContact)
		return nil
	}

	body := autoTextBody(lead, w.deps.Texts.PreviewLink(lead.ID))
	if err := w.deps.Texts.Send(ctx, lead.Phone, body); err != nil {
		if errors.Is(err, texting.ErrRejected) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	w.log.Info("auto text sent", "lead_id", lead.ID, "rep_id", payload.RepID, "leg_id", payload.LegID)
	return nil
}

func autoTextBody(lead leads.Lead, link string) string {
	greeting := "Hi"
	if lead.Name != "" {
		greeting = "Hi " + lead.Name
	}
	return fmt.Sprintf("%s, thanks for your time on the phone. Here is the overview we talked about: %s", greeting, link)
}
