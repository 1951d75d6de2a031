package disposition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"power-dialer/internal/calls"
	"power-dialer/internal/events"
	"power-dialer/internal/leads"
	"power-dialer/internal/session"
	"power-dialer/pkg/logger"

	"github.com/google/uuid"
)

// LegStore is the part of the leg store the engine touches.
type LegStore interface {
	Get(ctx context.Context, legID string) (calls.Leg, error)
	SetDisposition(ctx context.Context, legID, result string) error
}

// LeadStore is the part of the CRM the engine writes.
type LeadStore interface {
	Get(ctx context.Context, id string) (leads.Lead, error)
	MarkDoNotContact(ctx context.Context, id string, at time.Time) error
	TouchContact(ctx context.Context, id string, at time.Time) error
}

// Sessions gives the engine session settings and the stats recorder.
type Sessions interface {
	Get(ctx context.Context, id string) (session.Session, error)
	Record(ctx context.Context, id string, delta session.Stats) error
}

// Jobs enqueues follow-up work. Implemented by the scheduler client.
type Jobs interface {
	ScheduleCallbackCheck(ctx context.Context, callbackID string, runAt time.Time) error
	ScheduleAutoText(ctx context.Context, job AutoTextJob) error
}

// VoicemailDropper plays the configured voicemail recording on a live leg.
type VoicemailDropper interface {
	DropVoicemail(ctx context.Context, legID string) error
}

type Config struct {
	// MissedGrace is how long past ScheduledAt a pending callback waits before it is missed.
	MissedGrace time.Duration
}

// Engine records dispositions and owns the callback lifecycle.
// It is the single writer of the outcome counters in session stats.
type Engine struct {
	cfg      Config
	repo     Repository
	legs     LegStore
	leads    LeadStore
	sessions Sessions
	jobs     Jobs
	pub      events.Publisher
	log      *slog.Logger

	voicemail VoicemailDropper

	Now   func() time.Time
	NewID func() string
}

func NewEngine(cfg Config, repo Repository, legs LegStore, leadStore LeadStore, sessions Sessions, jobs Jobs, pub events.Publisher, log *slog.Logger) *Engine {
	if cfg.MissedGrace <= 0 {
		cfg.MissedGrace = 15 * time.Minute
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		repo:     repo,
		legs:     legs,
		leads:    leadStore,
		sessions: sessions,
		jobs:     jobs,
		pub:      pub,
		log:      log.With("component", "disposition"),
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// SetVoicemailDropper wires the dialer after construction; the dialer depends on the engine too.
func (e *Engine) SetVoicemailDropper(v VoicemailDropper) { e.voicemail = v }

func (e *Engine) Log(ctx context.Context, req LogRequest) (Disposition, error) {
	req.LegID = strings.TrimSpace(req.LegID)
	req.LeadID = strings.TrimSpace(req.LeadID)
	if !req.Outcome.Valid() {
		return Disposition{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, req.Outcome)
	}
	if req.LegID == "" || req.LeadID == "" {
		return Disposition{}, fmt.Errorf("%w: leg_id and lead_id are required", ErrInvalidArgument)
	}
	now := e.Now().UTC()
	log := logger.Scope(ctx, e.log)
	if req.Outcome == OutcomeCallback {
		if req.CallbackAt == nil || !req.CallbackAt.After(now) {
			return Disposition{}, ErrCallbackInPast
		}
	}

	leg, err := e.legs.Get(ctx, req.LegID)
	if err != nil {
		return Disposition{}, err
	}
	if leg.LeadID != req.LeadID {
		return Disposition{}, fmt.Errorf("%w: leg %s belongs to lead %s", ErrInvalidArgument, req.LegID, leg.LeadID)
	}
	if req.RepID == "" {
		req.RepID = leg.RepID
	}
	if req.SessionID == "" {
		req.SessionID = leg.SessionID
	}
	if _, err := e.repo.GetByLeg(ctx, req.LegID); err == nil {
		return Disposition{}, ErrAlreadyDispositioned
	} else if !errors.Is(err, ErrNotFound) {
		return Disposition{}, err
	}

	// DNC must hold before we return, whatever happens afterwards.
	if req.Outcome == OutcomeDoNotContact {
		if err := e.leads.MarkDoNotContact(ctx, req.LeadID, now); err != nil {
			return Disposition{}, err
		}
		if n, err := e.repo.CancelPendingForLead(ctx, req.LeadID, now); err != nil {
			return Disposition{}, err
		} else if n > 0 {
			log.Info("callbacks cancelled for do-not-contact lead", "lead_id", req.LeadID, "count", n)
		}
	}

	d := Disposition{
		ID:        e.NewID(),
		LegID:     req.LegID,
		LeadID:    req.LeadID,
		RepID:     req.RepID,
		SessionID: req.SessionID,
		Outcome:   req.Outcome,
		Notes:     req.Notes,
		Auto:      req.Auto,
		CreatedAt: now,
	}
	if err := e.repo.InsertDisposition(ctx, d); err != nil {
		return Disposition{}, err
	}
	if err := e.legs.SetDisposition(ctx, d.LegID, string(d.Outcome)); err != nil {
		log.Error("set leg disposition failed", "leg_id", d.LegID, "err", err)
	}

	var delta session.Stats
	switch d.Outcome {
	case OutcomeCallback:
		if _, err := e.scheduleCallback(ctx, d.LeadID, d.RepID, *req.CallbackAt, d.Notes, now); err != nil {
			log.Error("callback schedule failed", "lead_id", d.LeadID, "err", err)
		} else {
			delta.CallbacksScheduled = 1
		}
	case OutcomeInterested:
		if e.autoTextEnabled(ctx, d.SessionID) {
			job := AutoTextJob{LeadID: d.LeadID, RepID: d.RepID, SessionID: d.SessionID, LegID: d.LegID}
			if err := e.jobs.ScheduleAutoText(ctx, job); err != nil {
				log.Error("auto text enqueue failed", "lead_id", d.LeadID, "err", err)
			} else {
				delta.PreviewsSent = 1
			}
		}
	case OutcomeVoicemail:
		delta.Voicemails = 1
		if e.voicemail != nil && !leg.State.Terminal() {
			if err := e.voicemail.DropVoicemail(ctx, d.LegID); err != nil {
				log.Warn("voicemail drop failed", "leg_id", d.LegID, "err", err)
			}
		}
	case OutcomeNoAnswer:
		delta.NoAnswers = 1
	case OutcomeBusy:
		delta.Busy = 1
	case OutcomeFailed:
		delta.Failed = 1
	case OutcomeDropped:
		delta.Dropped = 1
	}
	e.record(ctx, d.SessionID, delta)

	if err := e.leads.TouchContact(ctx, d.LeadID, now); err != nil {
		log.Warn("touch lead contact failed", "lead_id", d.LeadID, "err", err)
	}

	log.Info("disposition logged", "leg_id", d.LegID, "lead_id", d.LeadID, "outcome", d.Outcome, "auto", d.Auto)
	e.pub.Publish(events.New(events.TypeDispositionLogged, d.RepID, d.SessionID, d))
	return d, nil
}

// AutoDispose records an outcome for a leg that ended without rep input.
// A leg the rep already dispositioned is left alone.
func (e *Engine) AutoDispose(ctx context.Context, leg calls.Leg, outcome Outcome) error {
	_, err := e.Log(ctx, LogRequest{
		LegID:     leg.ID,
		LeadID:    leg.LeadID,
		RepID:     leg.RepID,
		SessionID: leg.SessionID,
		Outcome:   outcome,
		Auto:      true,
	})
	if errors.Is(err, ErrAlreadyDispositioned) {
		return nil
	}
	return err
}

// OutcomeForState maps a terminal leg state to the outcome recorded without rep input.
func OutcomeForState(s calls.State) (Outcome, bool) {
	switch s {
	case calls.StateNoAnswer:
		return OutcomeNoAnswer, true
	case calls.StateBusy:
		return OutcomeBusy, true
	case calls.StateFailed:
		return OutcomeFailed, true
	default:
		return "", false
	}
}

func (e *Engine) ScheduleCallback(ctx context.Context, req ScheduleRequest) (Callback, error) {
	now := e.Now().UTC()
	if !req.At.After(now) {
		return Callback{}, ErrCallbackInPast
	}
	lead, err := e.leads.Get(ctx, req.LeadID)
	if err != nil {
		return Callback{}, err
	}
	if lead.DoNotContact {
		return Callback{}, ErrDoNotContact
	}
	if req.RepID == "" {
		req.RepID = lead.RepID
	}
	cb, err := e.scheduleCallback(ctx, lead.ID, req.RepID, req.At, req.Notes, now)
	if err != nil {
		return Callback{}, err
	}
	e.record(ctx, req.SessionID, session.Stats{CallbacksScheduled: 1})
	return cb, nil
}

func (e *Engine) scheduleCallback(ctx context.Context, leadID, repID string, at time.Time, notes string, now time.Time) (Callback, error) {
	log := logger.Scope(ctx, e.log)
	cb := Callback{
		ID:          e.NewID(),
		LeadID:      leadID,
		RepID:       repID,
		ScheduledAt: at.UTC(),
		Status:      CallbackPending,
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cancelled, err := e.repo.ReplacePendingCallback(ctx, cb)
	if err != nil {
		return Callback{}, err
	}
	if cancelled > 0 {
		log.Info("superseded pending callbacks", "lead_id", leadID, "count", cancelled)
	}
	if e.jobs != nil {
		if err := e.jobs.ScheduleCallbackCheck(ctx, cb.ID, cb.ScheduledAt.Add(e.cfg.MissedGrace)); err != nil {
			// The periodic sweep still catches it.
			log.Warn("missed-check enqueue failed", "callback_id", cb.ID, "err", err)
		}
	}
	e.pub.Publish(events.New(events.TypeQueueUpdate, repID, "", map[string]any{
		"callback": cb,
	}))
	return cb, nil
}

func (e *Engine) CancelCallback(ctx context.Context, id string) (Callback, error) {
	cb, err := e.repo.TransitionCallback(ctx, id, CallbackCancelled, "", e.Now().UTC())
	if err != nil {
		return Callback{}, err
	}
	e.pub.Publish(events.New(events.TypeQueueUpdate, cb.RepID, "", map[string]any{"callback": cb}))
	return cb, nil
}

// CompleteDue marks the lead's due pending callback completed by callID.
// It reports whether a callback was completed.
func (e *Engine) CompleteDue(ctx context.Context, leadID, callID string, now time.Time) (bool, error) {
	pending, err := e.repo.ListPendingForLeads(ctx, []string{leadID})
	if err != nil {
		return false, err
	}
	for _, cb := range pending {
		if !cb.Due(now) {
			continue
		}
		if _, err := e.repo.TransitionCallback(ctx, cb.ID, CallbackCompleted, callID, now); err != nil {
			if errors.Is(err, ErrCallbackNotPending) {
				continue
			}
			return false, err
		}
		e.log.Info("callback completed", "callback_id", cb.ID, "lead_id", leadID, "call_id", callID)
		return true, nil
	}
	return false, nil
}

// MarkMissed moves a pending callback to missed once its grace period has passed.
// It reports whether the callback was marked.
func (e *Engine) MarkMissed(ctx context.Context, id string, now time.Time) (bool, error) {
	cb, err := e.repo.GetCallback(ctx, id)
	if err != nil {
		return false, err
	}
	if cb.Status != CallbackPending || now.Before(cb.ScheduledAt.Add(e.cfg.MissedGrace)) {
		return false, nil
	}
	cb, err = e.repo.TransitionCallback(ctx, id, CallbackMissed, "", now)
	if errors.Is(err, ErrCallbackNotPending) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.log.Warn("callback missed", "callback_id", cb.ID, "lead_id", cb.LeadID, "rep_id", cb.RepID)
	e.pub.Publish(events.New(events.TypeQueueUpdate, cb.RepID, "", map[string]any{"callback": cb}))
	return true, nil
}

// SweepMissed marks every pending callback past its grace period as missed.
func (e *Engine) SweepMissed(ctx context.Context, now time.Time) (int, error) {
	due, err := e.repo.ListPendingDue(ctx, now.Add(-e.cfg.MissedGrace), 0)
	if err != nil {
		return 0, err
	}
	var n int
	for _, cb := range due {
		ok, err := e.MarkMissed(ctx, cb.ID, now)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (e *Engine) Callback(ctx context.Context, id string) (Callback, error) {
	return e.repo.GetCallback(ctx, id)
}

func (e *Engine) ListPending(ctx context.Context, repID string) ([]Callback, error) {
	return e.repo.ListPendingForRep(ctx, repID)
}

// History returns the lead's most recent dispositions, newest first.
func (e *Engine) History(ctx context.Context, leadID string, limit int) ([]Disposition, error) {
	return e.repo.ListByLead(ctx, leadID, limit)
}

func (e *Engine) autoTextEnabled(ctx context.Context, sessionID string) bool {
	if sessionID == "" || e.sessions == nil || e.jobs == nil {
		return false
	}
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	return s.AutoTextEnabled
}

func (e *Engine) record(ctx context.Context, sessionID string, delta session.Stats) {
	if sessionID == "" || e.sessions == nil || delta == (session.Stats{}) {
		return
	}
	if err := e.sessions.Record(ctx, sessionID, delta); err != nil {
		e.log.Warn("session stats not recorded", "session_id", sessionID, "err", err)
	}
}
