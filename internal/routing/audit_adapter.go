package routing

import (
	"context"

	"power-dialer/internal/audit"
	"power-dialer/internal/telephony"
)

// AuditAdapter bridges routing decisions to the shared audit.Service.
//
// Calls from unknown numbers have no rep to scope the record to and are
// only logged.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogInboundRouted(ctx context.Context, req telephony.InboundCallRequest, d Decision) error {
	if a.Audit == nil || d.RepID == "" {
		return nil
	}
	return a.Audit.Record(ctx, audit.Event{
		Type:      audit.EventTypeInboundRouted,
		RepID:     d.RepID,
		SessionID: d.SessionID,
		LegID:     req.ProviderCallID,
		Message:   "inbound call " + string(d.Action),
	}, map[string]any{
		"from":       req.From,
		"to":         req.To,
		"lead_id":    d.LeadID,
		"connect_to": d.ConnectTo,
		"reason":     d.Reason,
	})
}
