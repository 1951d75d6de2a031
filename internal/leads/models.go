package leads

import (
	"errors"
	"time"
)

// Lead is the CRM record consumed by the dialer.
// The dialer only reads leads, except for the do-not-contact flag and
// last-contact timestamp which the disposition engine writes.
type Lead struct {
	ID    string `json:"id" db:"id"`
	RepID string `json:"rep_id" db:"rep_id"`
	Name  string `json:"name" db:"name"`
	Phone string `json:"phone" db:"phone"`

	Priority    Priority    `json:"priority" db:"priority"`
	Temperature Temperature `json:"temperature" db:"temperature"`
	Status      Status      `json:"status" db:"status"`

	DoNotContact    bool `json:"do_not_contact" db:"do_not_contact"`
	EngagementScore int  `json:"engagement_score" db:"engagement_score"`

	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, lower is more urgent. Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

func (t Temperature) Rank() int {
	switch t {
	case TemperatureHot:
		return 0
	case TemperatureWarm:
		return 1
	case TemperatureCold:
		return 2
	default:
		return 3
	}
}

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusPaid      Status = "paid"
	StatusClosed    Status = "closed"
	StatusLost      Status = "lost"
)

// Closed reports whether the lead is past the point of dialing.
func (s Status) Closed() bool {
	return s == StatusPaid || s == StatusClosed || s == StatusLost
}

var (
	ErrNotFound        = errors.New("leads: not found")
	ErrInvalidArgument = errors.New("leads: invalid argument")
)
