package routing

// Decision is the provider-agnostic output of the routing engine.
//
// It carries what the provider boundary needs to execute the decision plus
// the lead/session it was made for, so the adapter can hand the leg to the
// dialer. No provider-specific fields belong here.
type Decision struct {
	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	LeadID    string `json:"lead_id,omitempty"`
	RepID     string `json:"rep_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Reason is intended for internal logs and audit.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionReject  Action = "reject"
	ActionConnect Action = "connect"
	ActionHangup  Action = "hangup"
)

// Reasons.
const (
	ReasonAssignedRep   = "assigned_rep"
	ReasonUnknownCaller = "unknown_caller"
	ReasonUnassigned    = "unassigned"
	ReasonRepOffline    = "rep_offline"
	ReasonRepBusy       = "busy"
	ReasonOverflow      = "overflow"
)
