package routing

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"power-dialer/internal/audit"
	"power-dialer/internal/dialer"
	"power-dialer/internal/events"
	"power-dialer/internal/leads"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"
)

type stubSessions map[string]session.Session

func (s stubSessions) ActiveForRep(repID string) (session.Session, bool) {
	v, ok := s[repID]
	return v, ok
}

type stubReps struct {
	busy map[string]bool
	err  error
}

func (s stubReps) Busy(ctx context.Context, sessionID string) (bool, error) {
	return s.busy[sessionID], s.err
}

type stubRegistrar struct {
	mu  sync.Mutex
	got []dialer.InboundLeg
	err error
}

func (s *stubRegistrar) RegisterInbound(ctx context.Context, sessionID string, in dialer.InboundLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, in)
	return nil
}

type capturePublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *capturePublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, e)
}

func newTestEngine(reps stubReps) *RoutingEngine {
	store := leads.NewMemoryRepo(
		leads.Lead{ID: "l1", RepID: "r1", Phone: "+16502530001"},
		leads.Lead{ID: "l2", Phone: "+16502530002"},
		leads.Lead{ID: "l3", RepID: "r3", Phone: "+16502530003"},
	)
	sessions := stubSessions{"r1": {ID: "s1", RepID: "r1", DeviceIdentity: "rep-r1", IsActive: true}}
	return NewRoutingEngine(store, sessions, reps, rand.New(rand.NewSource(1)))
}

func inbound(from string) RouteInput {
	return RouteInput{Inbound: telephony.InboundCallRequest{ProviderCallID: "CA1", From: from, To: "+14155550000"}}
}

func TestRoutingEngine_ConnectsAssignedRep(t *testing.T) {
	e := newTestEngine(stubReps{})

	d, err := e.Route(context.Background(), inbound("(650) 253-0001"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionConnect || d.ConnectTo != "client:rep-r1" {
		t.Fatalf("expected connect to rep device; got %+v", d)
	}
	if d.LeadID != "l1" || d.SessionID != "s1" || d.Reason != ReasonAssignedRep {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRoutingEngine_RejectsWhenRepCannotTakeCall(t *testing.T) {
	cases := []struct {
		name   string
		from   string
		reps   stubReps
		reason string
	}{
		{"unknown caller", "+16502539999", stubReps{}, ReasonUnknownCaller},
		{"garbage caller id", "anonymous", stubReps{}, ReasonUnknownCaller},
		{"unassigned lead", "+16502530002", stubReps{}, ReasonUnassigned},
		{"rep offline", "+16502530003", stubReps{}, ReasonRepOffline},
		{"rep busy", "+16502530001", stubReps{busy: map[string]bool{"s1": true}}, ReasonRepBusy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(tc.reps)
			d, err := e.Route(context.Background(), inbound(tc.from))
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if d.Action != ActionReject || d.Reason != tc.reason {
				t.Fatalf("expected reject %q; got %+v", tc.reason, d)
			}
		})
	}
}

func TestRoutingEngine_AvailabilityErrorPropagates(t *testing.T) {
	e := newTestEngine(stubReps{err: errors.New("boom")})
	if _, err := e.Route(context.Background(), inbound("+16502530001")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRoutingEngine_OverflowWhenBusy(t *testing.T) {
	e := newTestEngine(stubReps{busy: map[string]bool{"s1": true}})
	e.Overflow = []WeightedDestination{{TargetURI: "sip:frontdesk@pbx.example.com", Weight: 1}}

	d, err := e.Route(context.Background(), inbound("+16502530001"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionConnect || d.ConnectTo != "sip:frontdesk@pbx.example.com" {
		t.Fatalf("expected overflow connect; got %+v", d)
	}
	if d.SessionID != "" || d.Reason != ReasonOverflow+":"+ReasonRepBusy {
		t.Fatalf("overflow must not target the session: %+v", d)
	}
}

func TestRoutingEngine_WeightedSelectionIsDeterministicWithSeed(t *testing.T) {
	e := &RoutingEngine{RNG: rand.New(rand.NewSource(42))}
	dests := []WeightedDestination{{TargetURI: "a", Weight: 1}, {TargetURI: "b", Weight: 0}, {TargetURI: "c", Weight: 3}}

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		d, ok := e.pickDestination(dests)
		if !ok {
			t.Fatalf("expected a destination")
		}
		seen[d]++
	}
	if seen["b"] != 0 {
		t.Fatalf("zero weight destination picked: %v", seen)
	}
	if seen["c"] <= seen["a"] {
		t.Fatalf("expected heavier destination to win more often: %v", seen)
	}
	if _, ok := e.pickDestination([]WeightedDestination{{TargetURI: "x", Weight: 0}}); ok {
		t.Fatalf("expected no destination when all weights are zero")
	}
}

func TestParseWeightedDestinations(t *testing.T) {
	got, err := ParseWeightedDestinations(" +14155550123=3, sip:desk@pbx.example.com:5060 ,client:reception=1,")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := []WeightedDestination{
		{TargetURI: "+14155550123", Weight: 3},
		{TargetURI: "sip:desk@pbx.example.com:5060", Weight: 1},
		{TargetURI: "client:reception", Weight: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d destinations; got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("destination %d: expected %+v; got %+v", i, want[i], got[i])
		}
	}

	for _, bad := range []string{"a=0", "a=x", "=2"} {
		if _, err := ParseWeightedDestinations(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if got, err := ParseWeightedDestinations(""); err != nil || len(got) != 0 {
		t.Fatalf("expected empty result; got %+v, %v", got, err)
	}
}

func TestEngineAdapter_ConnectRegistersLegAndPublishes(t *testing.T) {
	reg := &stubRegistrar{}
	pub := &capturePublisher{}
	auditRepo := audit.NewMemoryRepo()
	a := NewEngineAdapter(newTestEngine(stubReps{}), AdapterOptions{
		Dialer:    reg,
		Publisher: pub,
		Audit:     &AuditAdapter{Audit: audit.NewService(auditRepo)},
	})

	res, err := a.RouteInbound(context.Background(), telephony.InboundCallRequest{ProviderCallID: "CA9", From: "+16502530001"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Action != telephony.InboundCallActionConnect || res.ConnectTo != "client:rep-r1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(reg.got) != 1 || reg.got[0].LegID != "CA9" || reg.got[0].LeadID != "l1" {
		t.Fatalf("expected inbound leg registered; got %+v", reg.got)
	}
	if len(pub.evs) != 1 || pub.evs[0].Type != events.TypeInboundCall || pub.evs[0].RepID != "r1" {
		t.Fatalf("expected INBOUND_CALL for r1; got %+v", pub.evs)
	}
	routed := auditRepo.OfType(audit.EventTypeInboundRouted)
	if len(routed) != 1 || routed[0].LegID != "CA9" || routed[0].SessionID != "s1" {
		t.Fatalf("expected inbound_routed audit event; got %+v", routed)
	}
}

func TestEngineAdapter_RegisterFailureFallsBack(t *testing.T) {
	reg := &stubRegistrar{err: dialer.ErrBatchInFlight}
	pub := &capturePublisher{}
	a := NewEngineAdapter(newTestEngine(stubReps{}), AdapterOptions{Dialer: reg, Publisher: pub})

	res, err := a.RouteInbound(context.Background(), telephony.InboundCallRequest{ProviderCallID: "CA9", From: "+16502530001"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Action != telephony.InboundCallActionReject || res.Reason != ReasonRepBusy {
		t.Fatalf("expected busy reject; got %+v", res)
	}
	if len(pub.evs) != 0 {
		t.Fatalf("expected no INBOUND_CALL; got %+v", pub.evs)
	}
}

func TestRejectEngine(t *testing.T) {
	res, err := NewRejectEngine().RouteInbound(context.Background(), telephony.InboundCallRequest{ProviderCallID: "CA1"})
	if err != nil || res.Action != telephony.InboundCallActionReject {
		t.Fatalf("expected reject; got %+v, %v", res, err)
	}
}
