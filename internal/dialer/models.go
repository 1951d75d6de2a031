package dialer

import (
	"errors"
	"sync/atomic"
	"time"

	"power-dialer/internal/calls"
)

var (
	// ErrRaceLoss marks a leg that connected after its batch already had a winner.
	ErrRaceLoss = errors.New("dialer: leg connected after winner was claimed")
	// ErrInvariantViolation means two legs of one batch were bridged. The batch is aborted.
	ErrInvariantViolation = errors.New("dialer: more than one leg bridged in batch")

	ErrBatchInFlight  = errors.New("dialer: a dial batch or bridged call is still active")
	ErrInvalidTargets = errors.New("dialer: invalid dial targets")
	ErrNoSession      = errors.New("dialer: no active session")
	ErrLinesBusy      = errors.New("dialer: no free lines for rep")
	ErrLegNotLive     = errors.New("dialer: leg is not connected")
	ErrNoVoicemail    = errors.New("dialer: voicemail drop url not configured")
)

// Outcome is how a batch resolved.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConnected Outcome = "connected"
	OutcomeNoConnect Outcome = "no_connect"
	OutcomeAborted   Outcome = "aborted"
)

// Resolution reasons.
const (
	ReasonAllEnded      = "all_legs_ended"
	ReasonRingTimeout   = "ring_timeout"
	ReasonBridgeFailed  = "bridge_failed"
	ReasonInvariant     = "invariant_violation"
	ReasonSessionClosed = "session_closed"
)

// Target is one lead to dial.
type Target struct {
	LeadID string `json:"lead_id"`
	Phone  string `json:"phone"`
}

type DialRequest struct {
	SessionID string   `json:"session_id"`
	Targets   []Target `json:"targets"`
}

type DialResult struct {
	Batch BatchView   `json:"batch"`
	Legs  []calls.Leg `json:"legs"`
}

// InboundLeg describes an inbound call routing handed to a session.
type InboundLeg struct {
	LegID  string `json:"leg_id"`
	LeadID string `json:"lead_id"`
	From   string `json:"from"`
}

// Batch is the set of legs placed by one dial action.
//
// The winner is claimed exactly once with a compare-and-swap. Everything else
// on a batch is touched only by the owning session's actor.
type Batch struct {
	ID        string
	SessionID string
	RepID     string
	LegIDs    []string
	CreatedAt time.Time

	winner atomic.Pointer[string]

	Outcome    Outcome
	Reason     string
	ResolvedAt *time.Time

	bridged map[string]bool
	timer   *time.Timer
	// expired is set when the ring window closed before any leg connected.
	expired bool
}

func newBatch(id, sessionID, repID string, now time.Time) *Batch {
	return &Batch{
		ID:        id,
		SessionID: sessionID,
		RepID:     repID,
		CreatedAt: now,
		Outcome:   OutcomePending,
		bridged:   map[string]bool{},
	}
}

// Claim makes legID the winner if no leg has won yet.
func (b *Batch) Claim(legID string) bool {
	return b.winner.CompareAndSwap(nil, &legID)
}

func (b *Batch) Winner() (string, bool) {
	p := b.winner.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

func (b *Batch) Pending() bool { return b.Outcome == OutcomePending }

// BatchView is a read-only copy of a batch.
type BatchView struct {
	ID         string     `json:"batch_id"`
	SessionID  string     `json:"session_id"`
	LegIDs     []string   `json:"leg_ids"`
	WinnerID   string     `json:"winner_leg_id,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (b *Batch) View() BatchView {
	w, _ := b.Winner()
	v := BatchView{
		ID:        b.ID,
		SessionID: b.SessionID,
		LegIDs:    append([]string(nil), b.LegIDs...),
		WinnerID:  w,
		Outcome:   b.Outcome,
		Reason:    b.Reason,
		CreatedAt: b.CreatedAt,
	}
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		v.ResolvedAt = &t
	}
	return v
}

// SessionView is what the coordinator holds for one session.
type SessionView struct {
	SessionID string      `json:"session_id"`
	Batch     *BatchView  `json:"batch,omitempty"`
	LiveLegID string      `json:"live_leg_id,omitempty"`
	Legs      []calls.Leg `json:"legs"`
}

// LegStatus is the CALL_STATUS payload.
type LegStatus struct {
	LegID     string      `json:"leg_id"`
	BatchID   string      `json:"batch_id,omitempty"`
	LeadID    string      `json:"lead_id"`
	Direction string      `json:"direction"`
	From      calls.State `json:"from,omitempty"`
	State     calls.State `json:"state"`
	Bridged   bool        `json:"bridged"`
	Dropped   bool        `json:"dropped"`
	Held      bool        `json:"held"`
	Action    string      `json:"action,omitempty"`
}

func statusOf(l *calls.Leg, from calls.State, action string) LegStatus {
	return LegStatus{
		LegID:     l.ID,
		BatchID:   l.BatchID,
		LeadID:    l.LeadID,
		Direction: string(l.Direction),
		From:      from,
		State:     l.State,
		Bridged:   l.Bridged,
		Dropped:   l.Dropped,
		Held:      l.Held,
		Action:    action,
	}
}
