// Package session provides continuous session re-validation. A background
// goroutine sweeps active sessions and expires those past their idle or
// absolute limits; Validate answers the same question synchronously on the
// request path.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ztx/accessd/internal/core"
	"github.com/ztx/accessd/internal/events"
	"github.com/ztx/accessd/internal/monitoring"
)

// Session tracks one authenticated session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Revoked      bool      `json:"revoked"`
	RevokeReason string    `json:"revoke_reason,omitempty"`
}

// Validity is the result of validating one session.
type Validity struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Action string `json:"action,omitempty"` // "require_reauthentication" when invalid
}

const ActionReauthenticate = "require_reauthentication"

// Invalidity reasons.
const (
	ReasonSessionExpired = "session_expired"
	ReasonIdleTimeout    = "idle_timeout"
	ReasonRevoked        = "revoked"
)

// MonitorConfig configures the monitor.
type MonitorConfig struct {
	MaxSessionAge time.Duration // absolute lifetime
	IdleTimeout   time.Duration // max inactivity
	SweepInterval time.Duration // background sweep cadence
}

// Monitor validates live sessions against idle/absolute expiry and
// revocation state.
type Monitor struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      MonitorConfig
	emitter  events.EventEmitter
	metrics  *monitoring.Metrics
	stopCh   chan struct{}
	stopped  bool
}

// NewMonitor creates a monitor. Zero config fields take the defaults:
// 8h absolute, 30m idle, 60s sweep.
func NewMonitor(cfg MonitorConfig, emitter events.EventEmitter, metrics *monitoring.Metrics) *Monitor {
	if cfg.MaxSessionAge == 0 {
		cfg.MaxSessionAge = 8 * time.Hour
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Monitor{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		emitter:  emitter,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

// Register tracks a new session starting now.
func (m *Monitor) Register(sessionID, userID, deviceID string) *Session {
	now := time.Now()
	s := &Session{
		ID:           sessionID,
		UserID:       userID,
		DeviceID:     deviceID,
		StartedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(count))
	}
	return s
}

// RegisterAt tracks a session with explicit timestamps. Used when adopting
// sessions issued by the host service.
func (m *Monitor) RegisterAt(sessionID, userID, deviceID string, startedAt, lastActivity time.Time) *Session {
	s := &Session{
		ID:           sessionID,
		UserID:       userID,
		DeviceID:     deviceID,
		StartedAt:    startedAt,
		LastActivity: lastActivity,
	}
	m.mu.Lock()
	m.sessions[sessionID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(count))
	}
	return s
}

// Validate checks a session against revocation, absolute age, and idle
// timeout. On a valid result the session's last activity advances to now;
// an invalid session is never silently extended.
func (m *Monitor) Validate(sessionID string) (Validity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Validity{}, &core.NotFoundError{Kind: "session", ID: sessionID}
	}

	now := time.Now()
	if v, expired := m.check(s, now); expired {
		return v, nil
	}

	s.LastActivity = now
	return Validity{Valid: true}, nil
}

// check evaluates invalidity without mutating the session.
func (m *Monitor) check(s *Session, now time.Time) (Validity, bool) {
	if s.Revoked {
		return Validity{Reason: ReasonRevoked, Action: ActionReauthenticate}, true
	}
	if now.Sub(s.StartedAt) > m.cfg.MaxSessionAge {
		return Validity{Reason: ReasonSessionExpired, Action: ActionReauthenticate}, true
	}
	if now.Sub(s.LastActivity) > m.cfg.IdleTimeout {
		return Validity{Reason: ReasonIdleTimeout, Action: ActionReauthenticate}, true
	}
	return Validity{Valid: true}, false
}

// Revoke explicitly invalidates a session. Sessions are invalidated, never
// cancelled mid-evaluation.
func (m *Monitor) Revoke(sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return &core.NotFoundError{Kind: "session", ID: sessionID}
	}
	s.Revoked = true
	s.RevokeReason = reason

	if m.metrics != nil {
		m.metrics.SessionsRevoked.WithLabelValues(ReasonRevoked).Inc()
	}
	if m.emitter != nil {
		m.emitter.Emit(events.TypeSessionRevoked, "/sessions", sessionID, map[string]interface{}{
			"session_id": sessionID,
			"user_id":    s.UserID,
			"reason":     reason,
		})
	}
	return nil
}

// Get returns a session by id.
func (m *Monitor) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, &core.NotFoundError{Kind: "session", ID: sessionID}
	}
	return s, nil
}

// Count returns the number of tracked sessions.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start begins the background sweep goroutine.
func (m *Monitor) Start() {
	slog.Info("Session monitor started",
		"sweep_interval", m.cfg.SweepInterval,
		"idle_timeout", m.cfg.IdleTimeout,
		"max_session_age", m.cfg.MaxSessionAge)
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				slog.Info("Session monitor stopped")
				return
			}
		}
	}()
}

// Stop halts the background sweeper.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		close(m.stopCh)
		m.stopped = true
	}
}

// sweep removes sessions that can no longer validate.
func (m *Monitor) sweep() {
	now := time.Now()
	expired := make(map[string]string)

	m.mu.Lock()
	for id, s := range m.sessions {
		if v, invalid := m.check(s, now); invalid {
			expired[id] = v.Reason
			delete(m.sessions, id)
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	for id, reason := range expired {
		if m.metrics != nil && reason != ReasonRevoked {
			m.metrics.SessionsRevoked.WithLabelValues(reason).Inc()
		}
		if m.emitter != nil {
			m.emitter.Emit(events.TypeSessionExpired, "/sessions", id, map[string]interface{}{
				"session_id": id,
				"reason":     reason,
			})
		}
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(remaining))
	}
	slog.Info(fmt.Sprintf("Session sweep: expired %d, %d active", len(expired), remaining))
}
