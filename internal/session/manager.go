package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sparkmeet/messaging/internal/audit"
	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/pkg/log"
)

// Defaults per configuration.
const (
	DefaultRefreshThreshold    = 5 * time.Minute
	DefaultHealthCheckInterval = 10 * time.Minute
	DefaultMaxRefreshAttempts  = 3

	refreshRetryBase = 5 * time.Second
)

// AuditRecorder receives session audit events.
type AuditRecorder interface {
	Record(ev audit.Event)
}

// Config tunes the session manager.
type Config struct {
	RefreshThreshold    time.Duration
	HealthCheckInterval time.Duration
	MaxRefreshAttempts  int
}

func (c Config) withDefaults() Config {
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = DefaultRefreshThreshold
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.MaxRefreshAttempts <= 0 {
		c.MaxRefreshAttempts = DefaultMaxRefreshAttempts
	}
	return c
}

// Manager keeps one auth session alive: it schedules a proactive refresh
// before expiry, probes the backend periodically, and forces a single
// sign-out once refresh attempts are exhausted.
//
// The manager is an explicitly constructed instance owning its timers;
// it is passed by reference to whatever needs a live credential. It is
// built at sign-in and closed at sign-out.
type Manager struct {
	backend   AuthBackend
	cfg       Config
	auditor   AuditRecorder
	retryBase time.Duration

	mu               sync.Mutex
	session          *domain.Session
	status           domain.SessionStatus
	networkStatus    domain.NetworkStatus
	lastRefresh      time.Time
	refreshCount     int
	healthCheckCount int
	isRefreshing     bool
	signedOut        bool

	refreshTimer *time.Timer
	healthStop   chan struct{}
	closeOnce    sync.Once
}

// NewManager creates a Manager around an established session and starts
// its refresh schedule and health check loop.
func NewManager(backend AuthBackend, sess *domain.Session, cfg Config, auditor AuditRecorder) *Manager {
	m := &Manager{
		backend:       backend,
		cfg:           cfg.withDefaults(),
		auditor:       auditor,
		retryBase:     refreshRetryBase,
		session:       sess,
		status:        domain.SessionActive,
		networkStatus: domain.NetworkUnknown,
		healthStop:    make(chan struct{}),
	}

	m.scheduleRefresh()
	go m.healthLoop()

	return m
}

// State returns a snapshot of the manager's observable state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := domain.SessionState{
		Status:           m.status,
		LastRefresh:      m.lastRefresh,
		RefreshCount:     m.refreshCount,
		HealthCheckCount: m.healthCheckCount,
		NetworkStatus:    m.networkStatus,
		IsRefreshing:     m.isRefreshing,
	}
	if m.session != nil {
		st.ExpiresAt = m.session.ExpiresAt
	}
	return st
}

// Valid reports whether the session can authorize a subscription now.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status != domain.SessionTerminated && m.session != nil && time.Now().Before(m.session.ExpiresAt)
}

// AccessToken returns the current access token, or "" after termination.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

// UserID returns the session owner's ID.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.UserID
}

// SetNetworkStatus records a connectivity transition. Coming back online
// runs an immediate recovery probe instead of waiting for the next
// scheduled health check.
func (m *Manager) SetNetworkStatus(status domain.NetworkStatus) {
	m.mu.Lock()
	prev := m.networkStatus
	m.networkStatus = status
	if m.status != domain.SessionTerminated {
		if status == domain.NetworkOffline {
			m.status = domain.SessionDegraded
		} else if m.status == domain.SessionDegraded {
			m.status = domain.SessionActive
		}
	}
	terminated := m.status == domain.SessionTerminated
	m.mu.Unlock()

	if terminated {
		return
	}
	if prev == domain.NetworkOffline && status == domain.NetworkOnline {
		go m.healthCheck()
	}
}

// Refresh runs a refresh attempt now. A refresh already in flight is not
// duplicated; the call returns immediately in that case.
func (m *Manager) Refresh() {
	m.refresh()
}

// Close stops all timers without signing out. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.healthStop)
		m.mu.Lock()
		if m.refreshTimer != nil {
			m.refreshTimer.Stop()
		}
		m.mu.Unlock()
	})
}

// SignOut terminates the session explicitly.
func (m *Manager) SignOut(ctx context.Context) {
	m.terminate(ctx, audit.ActionSignedOut, audit.SeverityLow)
}

// scheduleRefresh arms the refresh timer at expiresAt - threshold, or
// fires immediately if that point has passed.
func (m *Manager) scheduleRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == domain.SessionTerminated || m.session == nil {
		return
	}

	delay := time.Until(m.session.ExpiresAt.Add(-m.cfg.RefreshThreshold))
	if delay < 0 {
		delay = 0
	}

	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.refreshTimer = time.AfterFunc(delay, m.refresh)

	log.L().Debug().Dur("delay", delay).Msg("session refresh scheduled")
}

// refresh performs one guarded refresh attempt, retrying with linear
// 5s*attempt backoff up to the attempt ceiling.
func (m *Manager) refresh() {
	m.mu.Lock()
	if m.isRefreshing || m.status == domain.SessionTerminated || m.session == nil {
		m.mu.Unlock()
		return
	}
	m.isRefreshing = true
	m.status = domain.SessionRefreshing
	refreshToken := m.session.RefreshToken
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := m.backend.RefreshSession(ctx, refreshToken)

	m.mu.Lock()
	m.isRefreshing = false

	if err == nil {
		m.session = sess
		m.status = domain.SessionActive
		m.refreshCount = 0
		m.lastRefresh = time.Now()
		m.mu.Unlock()

		log.L().Info().Time("expires_at", sess.ExpiresAt).Msg("session refreshed")
		m.record(audit.Event{
			Action:   audit.ActionSessionRefreshed,
			Severity: audit.SeverityLow,
			UserID:   sess.UserID,
		})
		m.scheduleRefresh()
		return
	}

	m.refreshCount++
	attempt := m.refreshCount
	exhausted := attempt >= m.cfg.MaxRefreshAttempts
	userID := m.session.UserID
	m.mu.Unlock()

	log.L().Warn().Err(err).Int("attempt", attempt).Msg("session refresh failed")
	m.record(audit.Event{
		Action:   audit.ActionRefreshFailed,
		Severity: audit.SeverityMedium,
		UserID:   userID,
		Details:  map[string]string{"attempt": strconv.Itoa(attempt)},
	})

	if exhausted {
		m.terminate(context.Background(), audit.ActionForcedSignOut, audit.SeverityCritical)
		return
	}

	// Linear backoff: 5s, 10s, 15s...
	m.mu.Lock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.refreshTimer = time.AfterFunc(m.retryBase*time.Duration(attempt), m.refresh)
	m.status = domain.SessionActive
	m.mu.Unlock()
}

// healthLoop probes the backend on the configured interval.
func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.healthStop:
			return
		case <-ticker.C:
			m.healthCheck()
		}
	}
}

// healthCheck runs one authenticated probe. An auth failure triggers an
// immediate refresh; anything else is logged and non-fatal.
func (m *Manager) healthCheck() {
	m.mu.Lock()
	if m.status == domain.SessionTerminated || m.session == nil {
		m.mu.Unlock()
		return
	}
	if m.networkStatus == domain.NetworkOffline {
		m.mu.Unlock()
		return
	}
	m.healthCheckCount++
	token := m.session.AccessToken
	userID := m.session.UserID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := m.backend.HealthCheck(ctx, token)
	if err == nil {
		return
	}

	if isAuthErr(err) {
		log.L().Warn().Err(err).Msg("health check hit auth error, refreshing session")
		m.record(audit.Event{
			Action:   audit.ActionHealthCheck,
			Severity: audit.SeverityMedium,
			UserID:   userID,
			Details:  map[string]string{"error": err.Error()},
		})
		m.refresh()
		return
	}

	log.L().Warn().Err(err).Msg("health check failed")
}

// terminate moves to the terminal state and signs out exactly once.
func (m *Manager) terminate(ctx context.Context, auditAction, severity string) {
	m.mu.Lock()
	if m.status == domain.SessionTerminated {
		m.mu.Unlock()
		return
	}
	m.status = domain.SessionTerminated
	alreadySignedOut := m.signedOut
	m.signedOut = true
	var userID string
	if m.session != nil {
		userID = m.session.UserID
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.mu.Unlock()

	if !alreadySignedOut {
		if err := m.backend.SignOut(ctx); err != nil {
			log.L().Warn().Err(err).Msg("sign out call failed")
		}
		log.L().Info().Str(log.FieldUserID, userID).Msg("session terminated")
		m.record(audit.Event{
			Action:   auditAction,
			Severity: severity,
			UserID:   userID,
		})
	}
}

func (m *Manager) record(ev audit.Event) {
	if m.auditor != nil {
		m.auditor.Record(ev)
	}
}

func isAuthErr(err error) bool {
	return errors.Is(err, ErrAuth)
}
