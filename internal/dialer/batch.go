package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"power-dialer/internal/audit"
	"power-dialer/internal/calls"
	"power-dialer/internal/disposition"
	"power-dialer/internal/events"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"

	"golang.org/x/sync/errgroup"
)

type preparedTarget struct {
	Target
	to  string
	err error
}

// prepare checks the batch shape and normalizes numbers. A number that does
// not parse is not a batch error; that target becomes a failed leg.
func (c *Coordinator) prepare(targets []Target) ([]preparedTarget, error) {
	if len(targets) == 0 || len(targets) > c.cfg.MaxLegs {
		return nil, fmt.Errorf("%w: need 1 to %d targets, got %d", ErrInvalidTargets, c.cfg.MaxLegs, len(targets))
	}
	seenLead := map[string]bool{}
	seenNum := map[string]bool{}
	out := make([]preparedTarget, 0, len(targets))
	for _, t := range targets {
		t.LeadID = strings.TrimSpace(t.LeadID)
		t.Phone = strings.TrimSpace(t.Phone)
		if t.LeadID == "" || t.Phone == "" {
			return nil, fmt.Errorf("%w: lead_id and phone are required", ErrInvalidTargets)
		}
		if seenLead[t.LeadID] {
			return nil, fmt.Errorf("%w: lead %s listed twice", ErrInvalidTargets, t.LeadID)
		}
		seenLead[t.LeadID] = true

		p := preparedTarget{Target: t}
		p.to, p.err = telephony.NormalizeE164(t.Phone, c.cfg.Region)
		key := p.to
		if p.err != nil {
			key = t.Phone
		}
		if seenNum[key] {
			return nil, fmt.Errorf("%w: number %s listed twice", ErrInvalidTargets, key)
		}
		seenNum[key] = true
		out = append(out, p)
	}
	return out, nil
}

func (c *Coordinator) dial(ctx context.Context, st *sessionState, targets []preparedTarget) (DialResult, error) {
	if st.busy() {
		return DialResult{}, ErrBatchInFlight
	}
	now := c.Now().UTC()
	b := newBatch(c.NewID(), st.id, st.repID, now)

	placeable := 0
	for _, t := range targets {
		if t.err == nil {
			placeable++
		}
	}
	if placeable > 0 {
		got, err := c.lines.Acquire(ctx, st.repID, placeable)
		if err != nil {
			return DialResult{}, err
		}
		if got < placeable {
			if err := c.lines.Release(ctx, st.repID, got); err != nil {
				c.log.Warn("line release failed", "rep_id", st.repID, "err", err)
			}
			return DialResult{}, ErrLinesBusy
		}
	}

	from := make([]string, len(targets))
	var used []string
	for i := range targets {
		if c.numbers != nil {
			from[i] = c.numbers.Pick(used...)
			used = append(used, from[i])
		}
	}

	type placed struct {
		legID string
		err   error
	}
	results := make([]placed, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		if t.err != nil {
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, c.cfg.CommandTimeout)
			defer cancel()
			r, err := telephony.RetryOnce(cctx, func(ctx context.Context) (telephony.PlaceCallResult, error) {
				return c.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
					To:          t.to,
					From:        from[i],
					SessionID:   st.id,
					LeadID:      t.LeadID,
					RingTimeout: c.cfg.RingWindow,
				})
			})
			if err == nil && r.LegID == "" {
				err = errors.New("telephony: provider returned no leg id")
			}
			results[i] = placed{legID: r.LegID, err: err}
			// Failures become failed legs; never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	var (
		placedIDs []string
		failed    []*calls.Leg
	)
	for i, t := range targets {
		leg := &calls.Leg{
			SessionID:   st.id,
			BatchID:     b.ID,
			LeadID:      t.LeadID,
			RepID:       st.repID,
			Direction:   calls.DirectionOutbound,
			State:       calls.StateInitiated,
			PhoneUsed:   t.to,
			CallerID:    from[i],
			StartedAt:   now,
			LastEventAt: now,
		}
		err := t.err
		if err == nil {
			err = results[i].err
		}
		if err != nil {
			if leg.PhoneUsed == "" {
				leg.PhoneUsed = t.Phone
			}
			leg.ID = "local-" + c.NewID()
			leg.State = calls.StateFailed
			ended := now
			leg.EndedAt = &ended
			failed = append(failed, leg)
			c.log.Warn("leg placement failed", "session_id", st.id, "batch_id", b.ID, "lead_id", t.LeadID, "err", err)
		} else {
			leg.ID = results[i].legID
			placedIDs = append(placedIDs, leg.ID)
			st.slots[leg.ID] = true
		}
		st.legs[leg.ID] = leg
		st.order = append(st.order, leg.ID)
		b.LegIDs = append(b.LegIDs, leg.ID)
		if err := c.legRepo.InsertLeg(ctx, *leg); err != nil {
			c.log.Error("persist leg failed", "leg_id", leg.ID, "err", err)
		}
	}
	if spare := placeable - len(placedIDs); spare > 0 {
		if err := c.lines.Release(ctx, st.repID, spare); err != nil {
			c.log.Warn("line release failed", "rep_id", st.repID, "err", err)
		}
	}

	st.batches[b.ID] = b
	st.current = b
	c.log.Info("batch created", "session_id", st.id, "batch_id", b.ID, "legs", b.LegIDs, "placed", len(placedIDs))
	c.auditRecord(ctx, audit.Event{
		Type:      audit.EventTypeBatchCreated,
		RepID:     st.repID,
		SessionID: st.id,
		BatchID:   b.ID,
		Message:   "dial batch created",
	}, map[string]any{"leg_ids": b.LegIDs, "placed": len(placedIDs)})
	if len(placedIDs) > 0 {
		c.record(ctx, st, session.Stats{TotalCalls: len(placedIDs)})
	}
	for _, id := range b.LegIDs {
		l := st.legs[id]
		c.publishLeg(st, l, "", "placed")
	}
	for _, l := range failed {
		c.autoDispose(ctx, *l, disposition.OutcomeFailed)
	}

	if len(placedIDs) == 0 {
		c.resolve(ctx, st, b, OutcomeNoConnect, ReasonAllEnded)
		return DialResult{Batch: b.View(), Legs: st.legsOf(b)}, nil
	}

	batchID := b.ID
	b.timer = time.AfterFunc(c.cfg.RingWindow, func() {
		c.post(st.id, func(st *sessionState) { c.ringTimeout(st, batchID) })
	})

	early := c.register(st.id, placedIDs)
	for _, id := range placedIDs {
		for _, e := range early[id] {
			if _, err := c.apply(ctx, st, id, e.state, e.at, calls.SourceProvider); err != nil {
				c.log.Warn("replayed callback rejected", "leg_id", id, "state", e.state, "err", err)
			}
		}
	}
	return DialResult{Batch: b.View(), Legs: st.legsOf(b)}, nil
}

// apply runs the state machine for one report and triggers batch side effects.
func (c *Coordinator) apply(ctx context.Context, st *sessionState, legID string, reported calls.State, at time.Time, source string) (calls.Transition, error) {
	leg := st.legs[legID]
	if leg == nil {
		return calls.Transition{}, fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
	}
	tr, err := calls.Advance(leg, reported, at)
	if err != nil {
		c.log.Warn("leg transition rejected", "leg_id", legID, "current", leg.State, "reported", reported, "err", err)
		return tr, err
	}
	if !tr.Applied {
		c.log.Warn("stale or duplicate leg event ignored", "leg_id", legID, "current", leg.State, "reported", reported, "source", source)
		return tr, nil
	}

	if err := c.legRepo.SaveTransition(ctx, *leg, calls.LegEvent{
		LegID:      leg.ID,
		From:       tr.From,
		To:         tr.To,
		OccurredAt: at,
		Source:     source,
	}); err != nil {
		c.log.Error("persist leg transition failed", "leg_id", leg.ID, "to", tr.To, "err", err)
	}
	c.publishLeg(st, leg, tr.From, "")

	if tr.SideEffects {
		c.onConnected(ctx, st, leg)
	}
	if tr.To.Terminal() {
		c.onTerminal(ctx, st, leg)
	}
	return tr, nil
}

func (c *Coordinator) onConnected(ctx context.Context, st *sessionState, leg *calls.Leg) {
	if leg.Direction == calls.DirectionInbound {
		leg.Bridged = true
		st.live = leg.ID
		c.saveFlags(ctx, leg)
		c.record(ctx, st, session.Stats{ConnectedCalls: 1})
		c.publishLeg(st, leg, calls.StateConnected, "bridged")
		return
	}

	b := st.batches[leg.BatchID]
	if b == nil {
		c.log.Warn("connected leg has no batch, terminating", "leg_id", leg.ID)
		c.terminateAsync(leg.ID)
		return
	}
	if !b.Claim(leg.ID) {
		c.raceLoss(ctx, st, b, leg)
		return
	}
	c.win(ctx, st, b, leg)
}

func (c *Coordinator) win(ctx context.Context, st *sessionState, b *Batch, leg *calls.Leg) {
	stopTimer(b)
	for _, id := range b.LegIDs {
		if id == leg.ID {
			continue
		}
		if sib := st.legs[id]; sib != nil && sib.State.Open() {
			c.terminateAsync(id)
		}
	}

	if err := c.checkBridgeInvariant(ctx, st, b, leg.ID); err != nil {
		return
	}

	bctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	err := telephony.RetryOnceErr(bctx, func(ctx context.Context) error {
		return c.provider.Bridge(ctx, leg.ID, st.device)
	})
	cancel()
	if err != nil {
		c.log.Error("bridge failed", "session_id", st.id, "batch_id", b.ID, "leg_id", leg.ID, "device", st.device, "err", err)
		c.terminateAsync(leg.ID)
		c.resolve(ctx, st, b, OutcomeNoConnect, ReasonBridgeFailed)
		c.autoDispose(ctx, *leg, disposition.OutcomeFailed)
		return
	}

	leg.Bridged = true
	b.bridged[leg.ID] = true
	st.live = leg.ID
	c.saveFlags(ctx, leg)
	c.resolve(ctx, st, b, OutcomeConnected, "")
	c.record(ctx, st, session.Stats{ConnectedCalls: 1})
	c.publishLeg(st, leg, calls.StateConnected, "bridged")

	if c.disposer == nil {
		return
	}
	if done, err := c.disposer.CompleteDue(ctx, leg.LeadID, leg.ID, c.Now().UTC()); err != nil {
		c.log.Warn("complete due callback failed", "lead_id", leg.LeadID, "err", err)
	} else if done {
		c.pub.Publish(events.New(events.TypeQueueUpdate, st.repID, st.id, map[string]any{
			"callback_completed": leg.LeadID,
		}))
	}
}

func (c *Coordinator) raceLoss(ctx context.Context, st *sessionState, b *Batch, leg *calls.Leg) {
	winner, _ := b.Winner()
	leg.Dropped = true
	c.saveFlags(ctx, leg)
	c.terminateAsync(leg.ID)

	c.log.Warn("leg dropped after losing the race", "err", ErrRaceLoss, "batch_id", b.ID, "leg_id", leg.ID, "winner_leg_id", winner)
	c.auditRecord(ctx, audit.Event{
		Type:      audit.EventTypeRaceLoss,
		RepID:     st.repID,
		SessionID: st.id,
		BatchID:   b.ID,
		LegID:     leg.ID,
		Message:   "leg connected after winner claimed",
	}, map[string]any{"winner_leg_id": winner})
	c.publishLeg(st, leg, calls.StateConnected, "dropped")
	c.autoDispose(ctx, *leg, disposition.OutcomeDropped)
}

// checkBridgeInvariant aborts the batch if any leg other than legID is bridged.
func (c *Coordinator) checkBridgeInvariant(ctx context.Context, st *sessionState, b *Batch, legID string) error {
	var others []string
	for _, id := range b.LegIDs {
		if id == legID {
			continue
		}
		if l := st.legs[id]; (l != nil && l.Bridged) || b.bridged[id] {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}

	involved := append([]string{legID}, others...)
	c.log.Error("bridge invariant violated, aborting batch", "err", ErrInvariantViolation, "session_id", st.id, "batch_id", b.ID, "legs", involved)
	for _, id := range involved {
		c.terminateAsync(id)
		if st.live == id {
			st.live = ""
		}
	}
	c.auditRecord(ctx, audit.Event{
		Type:      audit.EventTypeInvariantViolation,
		RepID:     st.repID,
		SessionID: st.id,
		BatchID:   b.ID,
		LegID:     legID,
		Message:   "more than one leg bridged",
	}, map[string]any{"leg_ids": involved})
	if b.Pending() {
		c.resolve(ctx, st, b, OutcomeAborted, ReasonInvariant)
	} else {
		b.Outcome = OutcomeAborted
		b.Reason = ReasonInvariant
	}
	return ErrInvariantViolation
}

func (c *Coordinator) onTerminal(ctx context.Context, st *sessionState, leg *calls.Leg) {
	c.releaseSlot(ctx, st, leg.ID)
	if leg.Held {
		c.endHold(ctx, st, leg)
	}
	if st.live == leg.ID {
		st.live = ""
	}
	if leg.Direction == calls.DirectionOutbound && leg.ConnectedAt == nil {
		state := leg.State
		if state == calls.StateCompleted {
			// Ended before the rep was ever bridged.
			state = calls.StateNoAnswer
		}
		if outcome, ok := disposition.OutcomeForState(state); ok {
			c.autoDispose(ctx, *leg, outcome)
		}
	}

	b := st.batches[leg.BatchID]
	if b == nil || !b.Pending() {
		return
	}
	for _, id := range b.LegIDs {
		if l := st.legs[id]; l != nil && !l.State.Terminal() {
			return
		}
	}
	reason := ReasonAllEnded
	if b.expired {
		reason = ReasonRingTimeout
	}
	c.resolve(ctx, st, b, OutcomeNoConnect, reason)
}

func (c *Coordinator) resolve(ctx context.Context, st *sessionState, b *Batch, outcome Outcome, reason string) {
	if !b.Pending() {
		return
	}
	now := c.Now().UTC()
	b.Outcome = outcome
	b.Reason = reason
	b.ResolvedAt = &now
	stopTimer(b)

	winner, _ := b.Winner()
	c.log.Info("batch resolved", "session_id", st.id, "batch_id", b.ID, "outcome", outcome, "reason", reason, "winner_leg_id", winner)
	c.auditRecord(ctx, audit.Event{
		Type:      audit.EventTypeBatchResolved,
		RepID:     st.repID,
		SessionID: st.id,
		BatchID:   b.ID,
		LegID:     winner,
		Message:   "dial batch " + string(outcome),
	}, map[string]any{"outcome": outcome, "reason": reason, "winner_leg_id": winner})

	c.pub.Publish(events.New(events.TypeCallStatus, st.repID, st.id, map[string]any{"batch": b.View()}))
	if outcome == OutcomeConnected {
		return
	}
	leadIDs := make([]string, 0, len(b.LegIDs))
	for _, id := range b.LegIDs {
		if l := st.legs[id]; l != nil {
			leadIDs = append(leadIDs, l.LeadID)
		}
	}
	c.pub.Publish(events.New(events.TypeQueueUpdate, st.repID, st.id, map[string]any{
		"advance":  leadIDs,
		"batch_id": b.ID,
		"reason":   reason,
	}))
}

func (c *Coordinator) ringTimeout(st *sessionState, batchID string) {
	b := st.batches[batchID]
	if b == nil || !b.Pending() {
		return
	}
	ctx := context.Background()
	now := c.Now().UTC()
	b.expired = true
	c.log.Info("ring window elapsed", "session_id", st.id, "batch_id", b.ID)
	for _, id := range b.LegIDs {
		l := st.legs[id]
		if l == nil || !l.State.Open() {
			continue
		}
		c.terminateAsync(id)
		if _, err := c.apply(ctx, st, id, calls.StateNoAnswer, now, calls.SourceTimeout); err != nil {
			c.log.Warn("ring timeout transition failed", "leg_id", id, "err", err)
		}
	}
	c.resolve(ctx, st, b, OutcomeNoConnect, ReasonRingTimeout)
}

func (c *Coordinator) registerInbound(ctx context.Context, st *sessionState, in InboundLeg) error {
	if st.busy() {
		return ErrBatchInFlight
	}
	if _, ok := st.legs[in.LegID]; ok {
		return nil
	}
	now := c.Now().UTC()
	leg := &calls.Leg{
		ID:          in.LegID,
		SessionID:   st.id,
		LeadID:      in.LeadID,
		RepID:       st.repID,
		Direction:   calls.DirectionInbound,
		State:       calls.StateInitiated,
		PhoneUsed:   in.From,
		StartedAt:   now,
		LastEventAt: now,
	}
	st.legs[leg.ID] = leg
	st.order = append(st.order, leg.ID)
	st.live = leg.ID
	if err := c.legRepo.InsertLeg(ctx, *leg); err != nil {
		c.log.Error("persist leg failed", "leg_id", leg.ID, "err", err)
	}
	c.record(ctx, st, session.Stats{TotalCalls: 1})
	c.publishLeg(st, leg, "", "inbound")

	early := c.register(st.id, []string{leg.ID})
	for _, e := range early[leg.ID] {
		if _, err := c.apply(ctx, st, leg.ID, e.state, e.at, calls.SourceProvider); err != nil {
			c.log.Warn("replayed callback rejected", "leg_id", leg.ID, "state", e.state, "err", err)
		}
	}
	return nil
}

func (c *Coordinator) hangup(ctx context.Context, st *sessionState, legID string) error {
	leg := st.legs[legID]
	if leg == nil {
		return fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
	}
	if leg.State.Terminal() {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	err := telephony.RetryOnceErr(cctx, func(ctx context.Context) error { return c.provider.Terminate(ctx, legID) })
	if errors.Is(err, telephony.ErrLegGone) {
		return nil
	}
	return err
}

func (c *Coordinator) hold(ctx context.Context, st *sessionState, legID string) error {
	leg, err := liveLeg(st, legID)
	if err != nil {
		return err
	}
	if leg.Held {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	if err := telephony.RetryOnceErr(cctx, func(ctx context.Context) error { return c.provider.Hold(ctx, legID) }); err != nil {
		return err
	}
	leg.Held = true
	st.holdSince[legID] = c.Now().UTC()
	c.saveFlags(ctx, leg)
	c.auditRecord(ctx, audit.Event{
		Type:      audit.EventTypeHold,
		RepID:     st.repID,
		SessionID: st.id,
		BatchID:   leg.BatchID,
		LegID:     legID,
		Message:   "call placed on hold",
	}, nil)
	c.publishLeg(st, leg, leg.State, "hold")
	return nil
}

func (c *Coordinator) resume(ctx context.Context, st *sessionState, legID string) error {
	leg, err := liveLeg(st, legID)
	if err != nil {
		return err
	}
	if !leg.Held {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	if err := telephony.RetryOnceErr(cctx, func(ctx context.Context) error { return c.provider.Resume(ctx, legID, st.device) }); err != nil {
		return err
	}
	secs := c.endHold(ctx, st, leg)
	c.saveFlags(ctx, leg)
	c.auditRecord(ctx, audit.Event{
		Type:      audit.EventTypeResume,
		RepID:     st.repID,
		SessionID: st.id,
		BatchID:   leg.BatchID,
		LegID:     legID,
		Message:   "call resumed",
	}, map[string]any{"hold_seconds": secs})
	c.publishLeg(st, leg, leg.State, "resume")
	return nil
}

// endHold clears the hold flag and records the held time.
func (c *Coordinator) endHold(ctx context.Context, st *sessionState, leg *calls.Leg) int {
	leg.Held = false
	since, ok := st.holdSince[leg.ID]
	delete(st.holdSince, leg.ID)
	if !ok {
		return 0
	}
	secs := int(c.Now().UTC().Sub(since) / time.Second)
	if secs > 0 {
		c.record(ctx, st, session.Stats{HoldSeconds: secs})
	}
	return secs
}

func (c *Coordinator) dropVoicemail(ctx context.Context, st *sessionState, legID string) error {
	leg := st.legs[legID]
	if leg == nil {
		return fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
	}
	if leg.State.Terminal() {
		return ErrLegNotLive
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	if err := telephony.RetryOnceErr(cctx, func(ctx context.Context) error {
		return c.provider.DropVoicemail(ctx, legID, c.cfg.VoicemailURL)
	}); err != nil {
		return err
	}
	c.publishLeg(st, leg, leg.State, "voicemail")
	return nil
}

// close ends everything the session still has open. Legs are moved to a
// terminal state locally so persisted rows do not stay open forever.
func (c *Coordinator) close(ctx context.Context, st *sessionState) {
	for _, b := range st.batches {
		stopTimer(b)
		c.resolve(ctx, st, b, OutcomeAborted, ReasonSessionClosed)
	}
	now := c.Now().UTC()
	for _, id := range st.order {
		leg := st.legs[id]
		if leg.State.Terminal() {
			continue
		}
		c.terminateAsync(id)
		final := calls.StateNoAnswer
		if leg.State == calls.StateConnected {
			final = calls.StateCompleted
		}
		from := leg.State
		if tr, err := calls.Advance(leg, final, now); err == nil && tr.Applied {
			if err := c.legRepo.SaveTransition(ctx, *leg, calls.LegEvent{LegID: id, From: from, To: final, OccurredAt: now, Source: calls.SourceLocal}); err != nil {
				c.log.Warn("persist leg close failed", "leg_id", id, "err", err)
			}
		}
		c.releaseSlot(ctx, st, id)
	}
	st.live = ""
	st.closed = true
	c.log.Info("session closed in dialer", "session_id", st.id, "legs", len(st.order))
}

func liveLeg(st *sessionState, legID string) (*calls.Leg, error) {
	leg := st.legs[legID]
	if leg == nil {
		return nil, fmt.Errorf("%w: %s", calls.ErrUnknownLeg, legID)
	}
	if leg.State != calls.StateConnected || !leg.Bridged {
		return nil, ErrLegNotLive
	}
	return leg, nil
}

func stopTimer(b *Batch) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// terminateAsync hangs up a leg without waiting. A leg that is already gone is fine.
func (c *Coordinator) terminateAsync(legID string) {
	if strings.HasPrefix(legID, "local-") {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
		defer cancel()
		err := telephony.RetryOnceErr(ctx, func(ctx context.Context) error { return c.provider.Terminate(ctx, legID) })
		if err != nil && !errors.Is(err, telephony.ErrLegGone) {
			c.log.Warn("terminate leg failed", "leg_id", legID, "err", err)
		}
	}()
}

func (c *Coordinator) releaseSlot(ctx context.Context, st *sessionState, legID string) {
	if !st.slots[legID] {
		return
	}
	delete(st.slots, legID)
	if err := c.lines.Release(ctx, st.repID, 1); err != nil {
		c.log.Warn("line release failed", "rep_id", st.repID, "leg_id", legID, "err", err)
	}
}

func (c *Coordinator) saveFlags(ctx context.Context, leg *calls.Leg) {
	if err := c.legRepo.UpdateFlags(ctx, *leg); err != nil {
		c.log.Error("persist leg flags failed", "leg_id", leg.ID, "err", err)
	}
}

func (c *Coordinator) record(ctx context.Context, st *sessionState, delta session.Stats) {
	if err := c.sessions.Record(ctx, st.id, delta); err != nil {
		c.log.Warn("session stats not recorded", "session_id", st.id, "err", err)
	}
}

func (c *Coordinator) autoDispose(ctx context.Context, leg calls.Leg, outcome disposition.Outcome) {
	if c.disposer == nil {
		return
	}
	if err := c.disposer.AutoDispose(ctx, leg, outcome); err != nil {
		c.log.Warn("auto disposition failed", "leg_id", leg.ID, "outcome", outcome, "err", err)
	}
}

func (c *Coordinator) auditRecord(ctx context.Context, e audit.Event, metadata any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, e, metadata); err != nil {
		c.log.Warn("audit write failed", "type", e.Type, "err", err)
	}
}

func (c *Coordinator) publishLeg(st *sessionState, leg *calls.Leg, from calls.State, action string) {
	c.pub.Publish(events.New(events.TypeCallStatus, st.repID, st.id, statusOf(leg, from, action)))
}
