package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider is the provider-agnostic call-control contract used by the dialer.
//
// Rules:
//   - No provider SDK/HTTP calls outside telephony adapters.
//   - Commands are safe to retry once; see RetryOnce.
//   - Terminate on a leg that already ended returns ErrLegGone, which callers
//     treat as success.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	Terminate(ctx context.Context, legID string) error
	// Bridge connects the leg's audio to the rep's softphone identity.
	Bridge(ctx context.Context, legID, deviceIdentity string) error
	Hold(ctx context.Context, legID string) error
	Resume(ctx context.Context, legID, deviceIdentity string) error
	// DropVoicemail plays a prerecorded message on the leg and hangs up.
	DropVoicemail(ctx context.Context, legID, mediaURL string) error
}

var (
	// ErrTransient marks provider failures worth one retry (timeouts, 5xx, 429).
	ErrTransient = errors.New("telephony: transient provider error")
	// ErrLegGone means the provider no longer has an active call for the leg.
	ErrLegGone = errors.New("telephony: leg no longer active")
	// ErrRejected is a non-retryable provider refusal (bad number, auth).
	ErrRejected = errors.New("telephony: request rejected")
)

type PlaceCallRequest struct {
	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	// Correlation ids echoed back in provider metadata; not used for routing.
	SessionID string `json:"session_id"`
	LeadID    string `json:"lead_id"`

	// RingTimeout bounds how long the provider lets the leg ring.
	RingTimeout time.Duration `json:"ring_timeout"`
}

type PlaceCallResult struct {
	LegID string `json:"leg_id"`
}

// InboundCallRequest represents an inbound call event received from a provider.
type InboundCallRequest struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	// OccurredAt is the provider event time.
	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging/audit; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult is the adapter response used to drive next steps.
type InboundCallResult struct {
	// Action describes what should happen next at the provider boundary.
	Action InboundCallAction `json:"action"`

	// ConnectTo is used when Action == "connect". A "client:" prefix targets a
	// softphone identity, "sip:" a SIP URI, anything else a PSTN number.
	ConnectTo string `json:"connect_to,omitempty"`

	Reason string `json:"reason,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionHangup  InboundCallAction = "hangup"
)

// RetryOnce runs fn and retries a single time if it failed with ErrTransient.
func RetryOnce[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !errors.Is(err, ErrTransient) {
		return v, err
	}
	if ctx.Err() != nil {
		return v, err
	}
	return fn(ctx)
}

// RetryOnceErr is RetryOnce for commands without a result.
func RetryOnceErr(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := RetryOnce(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
