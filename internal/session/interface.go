package session

import (
	"context"
	"errors"

	"github.com/sparkmeet/messaging/internal/domain"
)

// ErrAuth marks failures caused by an invalid or expired credential, as
// opposed to transient infrastructure failures. A health check failing
// with ErrAuth triggers an immediate refresh.
var ErrAuth = errors.New("authentication error")

// ErrNoSession indicates no session is currently established.
var ErrNoSession = errors.New("no active session")

// AuthBackend is the external auth service boundary.
type AuthBackend interface {
	// GetSession returns the current session, or ErrNoSession.
	GetSession(ctx context.Context) (*domain.Session, error)

	// RefreshSession exchanges the refresh token for a new session.
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)

	// SignOut invalidates the session server-side.
	SignOut(ctx context.Context) error

	// HealthCheck runs a lightweight authenticated probe. Auth-specific
	// failures are wrapped with ErrAuth.
	HealthCheck(ctx context.Context, accessToken string) error
}
