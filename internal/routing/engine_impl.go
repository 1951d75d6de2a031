package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"power-dialer/internal/leads"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"
)

// RoutingEngine evaluates routing for inbound calls.
//
// Priority:
//  1. Caller number matches a lead
//  2. Lead is assigned to a rep with an active session
//  3. That session has no batch in flight and no bridged call
//  4. Otherwise weighted overflow, or reject
//
// Return routing decision only. No side effects (no DB writes, no provider calls).
type RoutingEngine struct {
	Leads    LeadFinder
	Sessions SessionFinder
	Reps     Availability

	// Overflow receives calls that cannot reach their rep. Empty means reject.
	Overflow []WeightedDestination

	// Region is the default region for caller numbers without a country code.
	Region string

	RNG *rand.Rand
	Now func() time.Time

	mu sync.Mutex
}

// LeadFinder resolves the lead behind an inbound caller number.
type LeadFinder interface {
	FindByPhone(ctx context.Context, phone string) (leads.Lead, error)
}

// SessionFinder returns the rep's active session on this node.
type SessionFinder interface {
	ActiveForRep(repID string) (session.Session, bool)
}

// Availability reports whether a session is on a call or dialing.
type Availability interface {
	Busy(ctx context.Context, sessionID string) (bool, error)
}

type WeightedDestination struct {
	// TargetURI is a provider-agnostic dial target.
	// Examples:
	// - "+14155550123" (PSTN)
	// - "sip:frontdesk@pbx.example.com"
	// - "client:reception"
	TargetURI string
	Weight    int
}

type RouteInput struct {
	Inbound telephony.InboundCallRequest
}

func NewRoutingEngine(leadsFinder LeadFinder, sessions SessionFinder, reps Availability, rng *rand.Rand) *RoutingEngine {
	return &RoutingEngine{Leads: leadsFinder, Sessions: sessions, Reps: reps, RNG: rng, Now: time.Now}
}

func (e *RoutingEngine) Route(ctx context.Context, in RouteInput) (Decision, error) {
	if e == nil {
		return Decision{}, errors.New("routing: engine is nil")
	}
	if e.Leads == nil || e.Sessions == nil {
		return Decision{}, errors.New("routing: lead and session lookups required")
	}

	// 1) Caller lookup
	from, err := telephony.NormalizeE164(in.Inbound.From, e.Region)
	if err != nil {
		return e.Fallback(Decision{Reason: ReasonUnknownCaller}), nil
	}
	lead, err := e.Leads.FindByPhone(ctx, from)
	if errors.Is(err, leads.ErrNotFound) {
		return e.Fallback(Decision{Reason: ReasonUnknownCaller}), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("routing: find lead: %w", err)
	}
	d := Decision{LeadID: lead.ID, RepID: lead.RepID}

	// 2) Assigned rep online
	if lead.RepID == "" {
		d.Reason = ReasonUnassigned
		return e.Fallback(d), nil
	}
	s, ok := e.Sessions.ActiveForRep(lead.RepID)
	if !ok || s.DeviceIdentity == "" {
		d.Reason = ReasonRepOffline
		return e.Fallback(d), nil
	}
	d.SessionID = s.ID

	// 3) Rep free
	if e.Reps != nil {
		busy, err := e.Reps.Busy(ctx, s.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("routing: rep availability: %w", err)
		}
		if busy {
			d.Reason = ReasonRepBusy
			return e.Fallback(d), nil
		}
	}

	d.Action = ActionConnect
	d.ConnectTo = "client:" + s.DeviceIdentity
	d.Reason = ReasonAssignedRep
	return d, nil
}

// Fallback turns a decision that could not reach the rep into an overflow
// connect or a reject. d.Reason is kept on reject so the caller hears why.
func (e *RoutingEngine) Fallback(d Decision) Decision {
	if dest, ok := e.pickDestination(e.Overflow); ok {
		d.Action = ActionConnect
		d.ConnectTo = dest
		d.SessionID = ""
		d.Reason = ReasonOverflow + ":" + d.Reason
		return d
	}
	d.Action = ActionReject
	d.ConnectTo = ""
	return d
}

func (e *RoutingEngine) pickDestination(dests []WeightedDestination) (string, bool) {
	var total int
	for _, d := range dests {
		if d.Weight <= 0 {
			continue
		}
		total += d.Weight
	}
	if total <= 0 {
		return "", false
	}

	e.mu.Lock()
	if e.RNG == nil {
		e.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	r := e.RNG.Intn(total) // 0..total-1
	e.mu.Unlock()

	var acc int
	for _, d := range dests {
		if d.Weight <= 0 {
			continue
		}
		acc += d.Weight
		if r < acc {
			return d.TargetURI, true
		}
	}
	return "", false
}

// ParseWeightedDestinations parses "target[=weight],..." as used by
// ROUTING_OVERFLOW. Weight defaults to 1. Targets may contain ':' (SIP URIs),
// so the weight separator is '='.
func ParseWeightedDestinations(raw string) ([]WeightedDestination, error) {
	var out []WeightedDestination
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		target, weight := part, 1
		if i := strings.LastIndex(part, "="); i >= 0 {
			n, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("routing: invalid overflow weight in %q", part)
			}
			target, weight = strings.TrimSpace(part[:i]), n
		}
		if target == "" {
			return nil, fmt.Errorf("routing: empty overflow target in %q", part)
		}
		out = append(out, WeightedDestination{TargetURI: target, Weight: weight})
	}
	return out, nil
}
