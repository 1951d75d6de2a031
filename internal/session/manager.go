package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"power-dialer/internal/events"
	"power-dialer/pkg/logger"

	"github.com/google/uuid"
)

type Config struct {
	// StaleAfter is how old a heartbeat must be before a new Start may replace the session.
	StaleAfter   time.Duration
	ReplaceStale bool
	IdleTimeout  time.Duration
	SweepEvery   time.Duration
	// EndedRetention keeps ended sessions in memory so late End calls stay idempotent.
	EndedRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
	if c.EndedRetention <= 0 {
		c.EndedRetention = time.Hour
	}
	return c
}

// Manager owns the live sessions of this process.
type Manager struct {
	cfg   Config
	repo  Repository
	owner Owner
	pub   events.Publisher
	log   *slog.Logger

	Now   func() time.Time
	NewID func() string

	startMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
	active   map[string]string // rep id -> session id
	onEnd    []func(Session)
	calls    CallActivity
}

// CallActivity reports whether a session is dialing or on a call.
// Implemented by the dial coordinator.
type CallActivity interface {
	Busy(ctx context.Context, sessionID string) (bool, error)
}

func NewManager(cfg Config, repo Repository, owner Owner, pub events.Publisher, log *slog.Logger) *Manager {
	if owner == nil {
		owner = NoopOwner{}
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		repo:     repo,
		owner:    owner,
		pub:      pub,
		log:      log.With("component", "session"),
		Now:      time.Now,
		NewID:    uuid.NewString,
		sessions: map[string]*Session{},
		active:   map[string]string{},
	}
}

// SetCallActivity makes the idle sweep spare sessions with a live call.
func (m *Manager) SetCallActivity(a CallActivity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = a
}

// OnEnd registers fn to run after a session ends. Hooks run outside locks.
func (m *Manager) OnEnd(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

func (m *Manager) Start(ctx context.Context, req StartRequest) (Session, error) {
	req.RepID = strings.TrimSpace(req.RepID)
	req.DeviceIdentity = strings.TrimSpace(req.DeviceIdentity)
	if req.RepID == "" || req.DeviceIdentity == "" {
		return Session{}, ErrInvalidRequest
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	now := m.Now().UTC()
	log := logger.Scope(ctx, m.log)
	if cur, ok := m.ActiveForRep(req.RepID); ok {
		if !m.cfg.ReplaceStale || !cur.Stale(now, m.cfg.StaleAfter) {
			return Session{}, &ConflictError{RepID: req.RepID, ExistingSessionID: cur.ID}
		}
		log.Warn("replacing stale session", "rep_id", req.RepID, "session_id", cur.ID, "last_heartbeat_at", cur.LastHeartbeatAt)
		if _, err := m.end(ctx, cur.ID, nil, EndReasonReplaced); err != nil && !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
	}

	s := Session{
		ID:              m.NewID(),
		RepID:           req.RepID,
		StartedAt:       now,
		IsActive:        true,
		AutoDialEnabled: req.AutoDial,
		AutoTextEnabled: req.AutoText,
		DeviceIdentity:  req.DeviceIdentity,
		LastHeartbeatAt: now,
		LastActivityAt:  now,
	}

	if err := m.owner.Acquire(ctx, s.RepID, s.ID); err != nil {
		return Session{}, err
	}
	// We hold the lease, so any row still active for this rep was left by a dead node.
	if n, err := m.repo.EndActiveForRep(ctx, s.RepID, now, EndReasonOrphaned); err != nil {
		_ = m.owner.Release(ctx, s.RepID, s.ID)
		return Session{}, err
	} else if n > 0 {
		log.Warn("closed orphaned session rows", "rep_id", s.RepID, "count", n)
	}
	if err := m.repo.Insert(ctx, s); err != nil {
		_ = m.owner.Release(ctx, s.RepID, s.ID)
		return Session{}, err
	}

	m.mu.Lock()
	cp := s
	m.sessions[s.ID] = &cp
	m.active[s.RepID] = s.ID
	m.mu.Unlock()

	log.Info("session started", "session_id", s.ID, "rep_id", s.RepID)
	m.pub.Publish(events.New(events.TypeSessionUpdate, s.RepID, s.ID, map[string]any{
		"status": "started",
		"stats":  s.Stats,
	}))
	return s, nil
}

// Get returns a live or recently ended session, falling back to the repository.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		out := s.Clone()
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()
	return m.repo.Get(ctx, id)
}

// Local reports whether this process owns the session.
func (m *Manager) Local(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return ok && s.IsActive
}

func (m *Manager) ActiveForRep(repID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[repID]
	if !ok {
		return Session{}, false
	}
	return m.sessions[id].Clone(), true
}

func (m *Manager) Heartbeat(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	if !s.IsActive {
		m.mu.Unlock()
		return Session{}, ErrSessionEnded
	}
	s.LastHeartbeatAt = m.Now().UTC()
	out := s.Clone()
	m.mu.Unlock()

	if err := m.owner.Refresh(ctx, out.RepID, out.ID); err != nil {
		m.log.Warn("owner lease refresh failed", "session_id", id, "err", err)
		return out, err
	}
	return out, nil
}

// Record adds delta to the session counters. A zero delta only marks activity.
func (m *Manager) Record(ctx context.Context, id string, delta Stats) error {
	if !delta.Valid() {
		return ErrInvalidStats
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !s.IsActive {
		m.mu.Unlock()
		m.log.Warn("dropping stats for ended session", "session_id", id, "delta", delta)
		return ErrSessionEnded
	}
	s.Stats = s.Stats.Add(delta)
	s.LastActivityAt = m.Now().UTC()
	repID, stats := s.RepID, s.Stats
	m.mu.Unlock()

	if delta != (Stats{}) {
		m.pub.Publish(events.New(events.TypeSessionUpdate, repID, id, map[string]any{
			"status": "active",
			"stats":  stats,
		}))
	}
	return nil
}

func (m *Manager) UpdateSettings(ctx context.Context, id string, in Settings) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	if !s.IsActive {
		m.mu.Unlock()
		return Session{}, ErrSessionEnded
	}
	if in.AutoDial != nil {
		s.AutoDialEnabled = *in.AutoDial
	}
	if in.AutoText != nil {
		s.AutoTextEnabled = *in.AutoText
	}
	if in.DeviceIdentity != nil && strings.TrimSpace(*in.DeviceIdentity) != "" {
		s.DeviceIdentity = strings.TrimSpace(*in.DeviceIdentity)
	}
	s.LastActivityAt = m.Now().UTC()
	out := s.Clone()
	m.mu.Unlock()

	if err := m.repo.Update(ctx, out); err != nil {
		return out, err
	}
	m.pub.Publish(events.New(events.TypeSessionUpdate, out.RepID, out.ID, map[string]any{
		"status":   "active",
		"settings": map[string]any{"auto_dial": out.AutoDialEnabled, "auto_text": out.AutoTextEnabled},
	}))
	return out, nil
}

// End closes the session, merging client-reported counters by field-wise max.
// Ending an already ended session returns it unchanged.
func (m *Manager) End(ctx context.Context, id string, client *Stats) (Session, error) {
	return m.end(ctx, id, client, EndReasonRep)
}

func (m *Manager) end(ctx context.Context, id string, client *Stats, reason string) (Session, error) {
	if client != nil && !client.Valid() {
		return Session{}, ErrInvalidStats
	}

	m.mu.Lock()
	log := logger.Scope(ctx, m.log)
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		stored, err := m.repo.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if !stored.IsActive {
			return stored, nil
		}
		return Session{}, ErrNotOwner
	}
	if !s.IsActive {
		out := s.Clone()
		m.mu.Unlock()
		return out, nil
	}

	now := m.Now().UTC()
	if client != nil {
		s.Stats = s.Stats.Merge(*client)
	}
	s.IsActive = false
	s.EndedAt = &now
	s.EndReason = reason
	if m.active[s.RepID] == s.ID {
		delete(m.active, s.RepID)
	}
	out := s.Clone()
	hooks := append([]func(Session){}, m.onEnd...)
	m.mu.Unlock()

	if err := m.repo.Update(ctx, out); err != nil {
		log.Error("persist ended session failed", "session_id", id, "err", err)
	}
	if err := m.owner.Release(ctx, out.RepID, out.ID); err != nil {
		log.Warn("owner lease release failed", "session_id", id, "err", err)
	}
	for _, fn := range hooks {
		fn(out)
	}

	log.Info("session ended", "session_id", id, "rep_id", out.RepID, "reason", reason, "stats", out.Stats)
	m.pub.Publish(events.New(events.TypeSessionUpdate, out.RepID, out.ID, map[string]any{
		"status":     "ended",
		"end_reason": reason,
		"stats":      out.Stats,
	}))
	return out, nil
}

// SweepIdle ends sessions with no activity for IdleTimeout and forgets
// sessions ended longer than EndedRetention ago. It returns the ended ids.
func (m *Manager) SweepIdle(ctx context.Context, now time.Time) []string {
	var idle []string
	m.mu.Lock()
	activity := m.calls
	for id, s := range m.sessions {
		switch {
		case s.IsActive && now.Sub(s.LastActivityAt) > m.cfg.IdleTimeout:
			idle = append(idle, id)
		case !s.IsActive && s.EndedAt != nil && now.Sub(*s.EndedAt) > m.cfg.EndedRetention:
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ended := idle[:0]
	for _, id := range idle {
		if activity != nil {
			busy, err := activity.Busy(ctx, id)
			if err != nil {
				m.log.Warn("idle check skipped", "session_id", id, "err", err)
				continue
			}
			if busy {
				m.touch(id, now)
				continue
			}
		}
		if _, err := m.end(ctx, id, nil, EndReasonIdle); err != nil {
			m.log.Error("idle session end failed", "session_id", id, "err", err)
			continue
		}
		ended = append(ended, id)
	}
	return ended
}

// touch marks the session active at now.
func (m *Manager) touch(id string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.IsActive && now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ended := m.SweepIdle(ctx, m.Now().UTC()); len(ended) > 0 {
				m.log.Info("idle sessions ended", "count", len(ended))
			}
		}
	}
}

// Shutdown ends every live session owned by this process.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	var ids []string
	for _, id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if _, err := m.end(ctx, id, nil, EndReasonShutdown); err != nil {
			m.log.Error("shutdown session end failed", "session_id", id, "err", err)
		}
	}
}
