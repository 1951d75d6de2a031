package calls

import "time"

// Leg is one call attempt to one phone number.
//
// ID is the provider-assigned call id (Twilio CallSid). Legs that could not be
// placed at all get a local id prefixed with "local-".
//
// Invariants:
//   - at most one leg per session is bridged to the rep at any instant
//   - once State is terminal the leg is never mutated again, except for
//     DispositionResult which is written once by the disposition engine
type Leg struct {
	ID        string    `json:"leg_id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	BatchID   string    `json:"batch_id,omitempty" db:"batch_id"`
	LeadID    string    `json:"lead_id" db:"lead_id"`
	RepID     string    `json:"rep_id" db:"rep_id"`
	Direction Direction `json:"direction" db:"direction"`
	State     State     `json:"state" db:"state"`

	PhoneUsed string `json:"phone_used" db:"phone_used"`
	CallerID  string `json:"caller_id,omitempty" db:"caller_id"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	LastEventAt time.Time  `json:"last_event_at" db:"last_event_at"`

	// Bridged is set once the leg's audio was connected to the rep device.
	Bridged bool `json:"bridged" db:"bridged"`
	// Dropped marks a leg that connected after its batch already had a winner.
	Dropped bool `json:"dropped" db:"dropped"`
	Held    bool `json:"held" db:"held"`

	DispositionResult string `json:"disposition_result,omitempty" db:"disposition_result"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// LegEvent is one applied transition, kept as append-only history.
type LegEvent struct {
	LegID      string    `json:"leg_id" db:"leg_id"`
	From       State     `json:"from" db:"from_state"`
	To         State     `json:"to" db:"to_state"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	Source     string    `json:"source" db:"source"`
}

// Event sources.
const (
	SourceProvider = "provider"
	SourceTimeout  = "ring_timeout"
	SourceLocal    = "local"
)

// Clone returns a copy that shares no pointers with l.
func (l Leg) Clone() Leg {
	out := l
	if l.ConnectedAt != nil {
		t := *l.ConnectedAt
		out.ConnectedAt = &t
	}
	if l.EndedAt != nil {
		t := *l.EndedAt
		out.EndedAt = &t
	}
	return out
}
