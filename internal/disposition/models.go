package disposition

import (
	"errors"
	"time"
)

var (
	ErrAlreadyDispositioned = errors.New("disposition: leg already dispositioned")
	ErrInvalidOutcome       = errors.New("disposition: invalid outcome")
	ErrInvalidArgument      = errors.New("disposition: invalid argument")
	ErrCallbackInPast       = errors.New("disposition: callback time must be in the future")
	ErrCallbackNotPending   = errors.New("disposition: callback is not pending")
	ErrNotFound             = errors.New("disposition: not found")
	ErrDoNotContact         = errors.New("disposition: lead is do-not-contact")
)

// Outcome is the result a rep (or the dialer) records for a leg.
type Outcome string

const (
	OutcomeInterested    Outcome = "interested"
	OutcomeNotInterested Outcome = "not_interested"
	OutcomeCallback      Outcome = "callback"
	OutcomeVoicemail     Outcome = "voicemail"
	OutcomeNoAnswer      Outcome = "no_answer"
	OutcomeBusy          Outcome = "busy"
	OutcomeFailed        Outcome = "failed"
	OutcomeWrongNumber   Outcome = "wrong_number"
	OutcomeDoNotContact  Outcome = "do_not_contact"
	OutcomeDropped       Outcome = "dropped"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeInterested, OutcomeNotInterested, OutcomeCallback, OutcomeVoicemail,
		OutcomeNoAnswer, OutcomeBusy, OutcomeFailed, OutcomeWrongNumber,
		OutcomeDoNotContact, OutcomeDropped:
		return true
	default:
		return false
	}
}

// Disposition is the single recorded outcome of one leg.
type Disposition struct {
	ID        string    `json:"id"`
	LegID     string    `json:"leg_id"`
	LeadID    string    `json:"lead_id"`
	RepID     string    `json:"rep_id"`
	SessionID string    `json:"session_id,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Notes     string    `json:"notes,omitempty"`
	Auto      bool      `json:"auto"`
	CreatedAt time.Time `json:"created_at"`
}

type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
	CallbackMissed    CallbackStatus = "missed"
	CallbackCancelled CallbackStatus = "cancelled"
)

// Callback is a scheduled follow-up call. A lead has at most one pending callback.
type Callback struct {
	ID          string         `json:"id"`
	LeadID      string         `json:"lead_id"`
	RepID       string         `json:"rep_id"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Status      CallbackStatus `json:"status"`
	Notes       string         `json:"notes,omitempty"`
	// CallID is the leg that fulfilled the callback.
	CallID    string    `json:"call_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether a pending callback should be worked at now.
func (c Callback) Due(now time.Time) bool {
	return c.Status == CallbackPending && !c.ScheduledAt.After(now)
}

// LogRequest records the outcome of a leg.
type LogRequest struct {
	LegID      string     `json:"leg_id"`
	LeadID     string     `json:"lead_id" validate:"required"`
	RepID      string     `json:"rep_id"`
	SessionID  string     `json:"session_id"`
	Outcome    Outcome    `json:"outcome" validate:"required"`
	Notes      string     `json:"notes" validate:"max=2000"`
	CallbackAt *time.Time `json:"callback_at,omitempty"`
	Auto       bool       `json:"-"`
}

// ScheduleRequest books a callback outside of a disposition.
type ScheduleRequest struct {
	LeadID    string    `json:"lead_id" validate:"required"`
	RepID     string    `json:"rep_id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at" validate:"required"`
	Notes     string    `json:"notes" validate:"max=2000"`
}

// AutoTextJob asks the background worker to text the lead a preview link.
type AutoTextJob struct {
	LeadID    string `json:"lead_id"`
	RepID     string `json:"rep_id"`
	SessionID string `json:"session_id"`
	LegID     string `json:"leg_id"`
}
