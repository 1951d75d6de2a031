package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionConflict = errors.New("session: rep already has an active session")

	ErrNotFound       = errors.New("session: not found")
	ErrSessionEnded   = errors.New("session: ended")
	ErrNotOwner       = errors.New("session: owned by another node")
	ErrInvalidStats   = errors.New("session: stats deltas must be non-negative")
	ErrInvalidRequest = errors.New("session: invalid request")
)

// ConflictError carries the id of the session that blocked Start.
type ConflictError struct {
	RepID             string
	ExistingSessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session: rep %s already has active session %s", e.RepID, e.ExistingSessionID)
}

func (e *ConflictError) Unwrap() error { return ErrSessionConflict }

// Session is one rep's dialing shift.
type Session struct {
	ID        string     `json:"id"`
	RepID     string     `json:"rep_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	IsActive  bool       `json:"is_active"`

	AutoDialEnabled bool `json:"auto_dial_enabled"`
	AutoTextEnabled bool `json:"auto_text_enabled"`
	// DeviceIdentity is the softphone client the winning leg is bridged to.
	DeviceIdentity string `json:"device_identity"`

	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	EndReason       string    `json:"end_reason,omitempty"`

	Stats Stats `json:"stats"`
}

func (s Session) Clone() Session {
	out := s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}

// Stale reports whether the last heartbeat is older than after.
func (s Session) Stale(now time.Time, after time.Duration) bool {
	return after > 0 && now.Sub(s.LastHeartbeatAt) > after
}

// End reasons.
const (
	EndReasonRep      = "rep"
	EndReasonIdle     = "idle"
	EndReasonReplaced = "replaced"
	EndReasonOrphaned = "orphaned"
	EndReasonShutdown = "shutdown"
)

// Stats are the per-session counters. Counters only grow.
type Stats struct {
	TotalCalls         int `json:"total_calls"`
	ConnectedCalls     int `json:"connected_calls"`
	Voicemails         int `json:"voicemails"`
	NoAnswers          int `json:"no_answers"`
	Busy               int `json:"busy"`
	Failed             int `json:"failed"`
	Dropped            int `json:"dropped"`
	PreviewsSent       int `json:"previews_sent"`
	CallbacksScheduled int `json:"callbacks_scheduled"`
	TextsSent          int `json:"texts_sent"`
	Mutes              int `json:"mutes"`
	HoldSeconds        int `json:"hold_seconds"`
}

func (s *Stats) ptrs() []*int {
	return []*int{
		&s.TotalCalls, &s.ConnectedCalls, &s.Voicemails, &s.NoAnswers, &s.Busy, &s.Failed,
		&s.Dropped, &s.PreviewsSent, &s.CallbacksScheduled, &s.TextsSent, &s.Mutes, &s.HoldSeconds,
	}
}

// Valid reports whether every counter is non-negative.
func (s Stats) Valid() bool {
	for _, v := range s.ptrs() {
		if *v < 0 {
			return false
		}
	}
	return true
}

// Add returns s plus delta.
func (s Stats) Add(delta Stats) Stats {
	out := s
	dst, src := out.ptrs(), delta.ptrs()
	for i := range dst {
		*dst[i] += *src[i]
	}
	return out
}

// Merge returns the field-wise max of s and other.
// Neither side can lower a counter the other has already seen.
func (s Stats) Merge(other Stats) Stats {
	out := s
	dst, src := out.ptrs(), other.ptrs()
	for i := range dst {
		if *src[i] > *dst[i] {
			*dst[i] = *src[i]
		}
	}
	return out
}

// StartRequest opens a session.
type StartRequest struct {
	RepID          string `json:"rep_id" validate:"required"`
	DeviceIdentity string `json:"device_identity" validate:"required"`
	AutoDial       bool   `json:"auto_dial"`
	AutoText       bool   `json:"auto_text"`
}

// Settings toggles mid-session options. Nil fields are left unchanged.
type Settings struct {
	AutoDial       *bool   `json:"auto_dial,omitempty"`
	AutoText       *bool   `json:"auto_text,omitempty"`
	DeviceIdentity *string `json:"device_identity,omitempty"`
}
