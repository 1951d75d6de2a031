package routing

import (
	"context"
	"errors"
	"log/slog"

	"power-dialer/internal/dialer"
	"power-dialer/internal/events"
	"power-dialer/internal/telephony"
)

// Engine decides what to do with an inbound call.
//
// Provider adapters depend only on this abstraction (it satisfies
// telephony.InboundRouter), which keeps webhook code free of business logic.
type Engine interface {
	RouteInbound(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error)
}

// NewRejectEngine returns an engine that always rejects.
func NewRejectEngine() Engine { return rejectEngine{} }

type rejectEngine struct{}

func (rejectEngine) RouteInbound(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	return telephony.InboundCallResult{Action: telephony.InboundCallActionReject, Reason: ReasonRepOffline}, nil
}

// InboundRegistrar hands a routed inbound leg to the rep's dialer session.
type InboundRegistrar interface {
	RegisterInbound(ctx context.Context, sessionID string, in dialer.InboundLeg) error
}

// NewEngineAdapter adapts the Decision-based RoutingEngine into the
// provider-facing Engine and carries out the side effects of a connect.
func NewEngineAdapter(engine *RoutingEngine, opts AdapterOptions) Engine {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return engineAdapter{engine: engine, opts: opts}
}

type AdapterOptions struct {
	Dialer    InboundRegistrar
	Publisher events.Publisher
	Audit     *AuditAdapter
	Log       *slog.Logger
}

type engineAdapter struct {
	engine *RoutingEngine
	opts   AdapterOptions
}

func (a engineAdapter) RouteInbound(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	if a.engine == nil {
		return telephony.InboundCallResult{}, errors.New("routing: engine is nil")
	}

	d, err := a.engine.Route(ctx, RouteInput{Inbound: req})
	if err != nil {
		return telephony.InboundCallResult{}, err
	}

	if d.Action == ActionConnect && d.SessionID != "" && a.opts.Dialer != nil {
		err := a.opts.Dialer.RegisterInbound(ctx, d.SessionID, dialer.InboundLeg{
			LegID:  req.ProviderCallID,
			LeadID: d.LeadID,
			From:   req.From,
		})
		if err != nil {
			// The rep picked up a dial between Route and here.
			a.opts.Log.Warn("inbound register failed", "session_id", d.SessionID, "provider_call_id", req.ProviderCallID, "err", err)
			d.Reason = ReasonRepBusy
			d = a.engine.Fallback(d)
		} else {
			a.opts.Publisher.Publish(events.New(events.TypeInboundCall, d.RepID, d.SessionID, map[string]any{
				"leg_id":  req.ProviderCallID,
				"lead_id": d.LeadID,
				"from":    req.From,
			}))
		}
	}

	if a.opts.Audit != nil {
		if err := a.opts.Audit.LogInboundRouted(ctx, req, d); err != nil {
			a.opts.Log.Warn("audit append failed", "type", "inbound_routed", "err", err)
		}
	}

	res := telephony.InboundCallResult{Reason: d.Reason}
	switch d.Action {
	case ActionReject:
		res.Action = telephony.InboundCallActionReject
	case ActionHangup:
		res.Action = telephony.InboundCallActionHangup
	case ActionConnect:
		res.Action = telephony.InboundCallActionConnect
		res.ConnectTo = d.ConnectTo
	default:
		return telephony.InboundCallResult{}, errors.New("routing: unknown decision action")
	}
	return res, nil
}
