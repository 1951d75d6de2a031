package events

import "time"

// Type is the dashboard event type.
type Type string

const (
	TypeCallStatus        Type = "CALL_STATUS"
	TypeQueueUpdate       Type = "QUEUE_UPDATE"
	TypeSessionUpdate     Type = "SESSION_UPDATE"
	TypeDispositionLogged Type = "DISPOSITION_LOGGED"
	TypeInboundCall       Type = "INBOUND_CALL"
)

// Event is one message pushed to dashboards.
// RepID scopes delivery; admin subscribers receive every event.
type Event struct {
	Type      Type      `json:"type"`
	RepID     string    `json:"rep_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"ts"`
}

// Publisher accepts events for fan-out. Publish never blocks on slow consumers.
type Publisher interface {
	Publish(e Event)
}

// New stamps an event with the current time.
func New(t Type, repID, sessionID string, payload any) Event {
	return Event{Type: t, RepID: repID, SessionID: sessionID, Payload: payload, At: time.Now().UTC()}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
