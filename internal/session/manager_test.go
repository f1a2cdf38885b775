package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sparkmeet/messaging/internal/audit"
	"github.com/sparkmeet/messaging/internal/domain"
)

// fakeBackend is a scriptable AuthBackend counting its calls.
type fakeBackend struct {
	mu           sync.Mutex
	refreshErr   error
	healthErr    error
	refreshCalls int
	signOutCalls int
	healthCalls  int
	sessionTTL   time.Duration
}

func (f *fakeBackend) GetSession(ctx context.Context) (*domain.Session, error) {
	return testSession(time.Hour), nil
}

func (f *fakeBackend) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	ttl := f.sessionTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return testSession(ttl), nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return nil
}

func (f *fakeBackend) HealthCheck(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	return f.healthErr
}

func (f *fakeBackend) counts() (refresh, signOut, health int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, f.signOutCalls, f.healthCalls
}

// recordingAuditor collects audit events thread-safely.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAuditor) byAction(action string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, ev := range r.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func testSession(ttl time.Duration) *domain.Session {
	return &domain.Session{
		UserID:       "user-1",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(ttl),
	}
}

// testConfig keeps periodic work out of short tests.
func testConfig() Config {
	return Config{
		RefreshThreshold:    time.Minute,
		HealthCheckInterval: time.Hour,
		MaxRefreshAttempts:  3,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_ValidAndAccessors(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, testSession(time.Hour), testConfig(), nil)
	defer m.Close()

	if !m.Valid() {
		t.Error("fresh session not valid")
	}
	if m.UserID() != "user-1" {
		t.Errorf("UserID = %q", m.UserID())
	}
	if m.AccessToken() != "access-token" {
		t.Errorf("AccessToken = %q", m.AccessToken())
	}
	if st := m.State(); st.Status != domain.SessionActive {
		t.Errorf("status = %s, want active", st.Status)
	}
}

func TestManager_ProactiveRefreshNearExpiry(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig()
	// Expires in 50ms with a 1m threshold, so the refresh fires at once.
	m := NewManager(backend, testSession(50*time.Millisecond), cfg, nil)
	defer m.Close()

	waitFor(t, time.Second, func() bool {
		r, _, _ := backend.counts()
		return r >= 1
	})

	waitFor(t, time.Second, func() bool {
		return m.State().Status == domain.SessionActive
	})
	if !m.Valid() {
		t.Error("session invalid after successful refresh")
	}
}

func TestManager_ForcedSignOutExactlyOnce(t *testing.T) {
	backend := &fakeBackend{refreshErr: errors.New("backend down")}
	aud := &recordingAuditor{}

	m := NewManager(backend, testSession(time.Hour), testConfig(), aud)
	m.retryBase = time.Millisecond
	defer m.Close()

	m.Refresh()

	waitFor(t, 2*time.Second, func() bool {
		return m.State().Status == domain.SessionTerminated
	})

	refresh, signOut, _ := backend.counts()
	if refresh != 3 {
		t.Errorf("refresh attempts = %d, want 3", refresh)
	}
	if signOut != 1 {
		t.Errorf("sign out calls = %d, want exactly 1", signOut)
	}
	if got := aud.byAction(audit.ActionForcedSignOut); len(got) != 1 {
		t.Errorf("forced sign out audits = %d, want 1", len(got))
	}
	if got := aud.byAction(audit.ActionRefreshFailed); len(got) != 3 {
		t.Errorf("refresh failure audits = %d, want 3", len(got))
	}
	if m.Valid() {
		t.Error("terminated session reports valid")
	}

	// A second explicit sign out must not call the backend again.
	m.SignOut(context.Background())
	_, signOut, _ = backend.counts()
	if signOut != 1 {
		t.Errorf("sign out calls after re-signout = %d, want 1", signOut)
	}
}

func TestManager_RefreshNotDuplicated(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, testSession(time.Hour), testConfig(), nil)
	defer m.Close()

	// Simulate a refresh already in flight.
	m.mu.Lock()
	m.isRefreshing = true
	m.mu.Unlock()

	m.Refresh()
	m.Refresh()

	if r, _, _ := backend.counts(); r != 0 {
		t.Errorf("refresh calls while one in flight = %d, want 0", r)
	}

	m.mu.Lock()
	m.isRefreshing = false
	m.mu.Unlock()
}

func TestManager_HealthCheckAuthErrorRefreshes(t *testing.T) {
	backend := &fakeBackend{healthErr: fmt.Errorf("%w: token rejected", ErrAuth)}
	aud := &recordingAuditor{}
	m := NewManager(backend, testSession(time.Hour), testConfig(), aud)
	defer m.Close()

	m.healthCheck()

	waitFor(t, time.Second, func() bool {
		r, _, _ := backend.counts()
		return r >= 1
	})
	if got := aud.byAction(audit.ActionHealthCheck); len(got) != 1 {
		t.Errorf("health check audits = %d, want 1", len(got))
	}
	if m.State().HealthCheckCount != 1 {
		t.Errorf("HealthCheckCount = %d, want 1", m.State().HealthCheckCount)
	}
}

func TestManager_HealthCheckTransientErrorIgnored(t *testing.T) {
	backend := &fakeBackend{healthErr: errors.New("connection reset")}
	m := NewManager(backend, testSession(time.Hour), testConfig(), nil)
	defer m.Close()

	m.healthCheck()

	if r, _, _ := backend.counts(); r != 0 {
		t.Errorf("transient health failure triggered refresh: %d calls", r)
	}
	if m.State().Status != domain.SessionActive {
		t.Errorf("status = %s, want active", m.State().Status)
	}
}

func TestManager_HealthCheckSkippedOffline(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, testSession(time.Hour), testConfig(), nil)
	defer m.Close()

	m.SetNetworkStatus(domain.NetworkOffline)
	m.healthCheck()

	if _, _, h := backend.counts(); h != 0 {
		t.Errorf("health calls while offline = %d, want 0", h)
	}
	if m.State().Status != domain.SessionDegraded {
		t.Errorf("status = %s, want degraded while offline", m.State().Status)
	}
}

func TestManager_OnlineRecoveryProbe(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, testSession(time.Hour), testConfig(), nil)
	defer m.Close()

	m.SetNetworkStatus(domain.NetworkOffline)
	m.SetNetworkStatus(domain.NetworkOnline)

	waitFor(t, time.Second, func() bool {
		_, _, h := backend.counts()
		return h >= 1
	})
	if m.State().Status != domain.SessionActive {
		t.Errorf("status = %s, want active after recovery", m.State().Status)
	}
}

func TestManager_ExplicitSignOut(t *testing.T) {
	backend := &fakeBackend{}
	aud := &recordingAuditor{}
	m := NewManager(backend, testSession(time.Hour), testConfig(), aud)
	defer m.Close()

	m.SignOut(context.Background())

	if _, s, _ := backend.counts(); s != 1 {
		t.Errorf("sign out calls = %d, want 1", s)
	}
	if got := aud.byAction(audit.ActionSignedOut); len(got) != 1 {
		t.Errorf("signed out audits = %d, want 1", len(got))
	}
	if m.Valid() {
		t.Error("signed out session reports valid")
	}
	if m.AccessToken() == "" {
		// Token remains readable for teardown but authorizes nothing.
		t.Error("access token cleared before teardown")
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := NewManager(&fakeBackend{}, testSession(time.Hour), testConfig(), nil)
	m.Close()
	m.Close()
}
