package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sparkmeet/messaging/internal/domain"
)

// HTTPAuthBackend implements AuthBackend against the auth service's REST
// surface.
type HTTPAuthBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthBackend creates an HTTPAuthBackend.
func NewHTTPAuthBackend(baseURL string, timeout time.Duration) *HTTPAuthBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAuthBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type sessionResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds; 0 means derive from token
}

func (b *HTTPAuthBackend) toSession(sr *sessionResponse) (*domain.Session, error) {
	expiresAt := time.Unix(sr.ExpiresAt, 0)
	if sr.ExpiresAt == 0 {
		exp, err := TokenExpiry(sr.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("session has no expiry: %w", err)
		}
		expiresAt = exp
	}
	return &domain.Session{
		UserID:       sr.UserID,
		AccessToken:  sr.AccessToken,
		RefreshToken: sr.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// GetSession returns the current session.
func (b *HTTPAuthBackend) GetSession(ctx context.Context) (*domain.Session, error) {
	var sr sessionResponse
	if err := b.do(ctx, http.MethodGet, "/v1/session", nil, "", &sr); err != nil {
		return nil, err
	}
	if sr.AccessToken == "" {
		return nil, ErrNoSession
	}
	return b.toSession(&sr)
}

// RefreshSession exchanges the refresh token for a new session.
func (b *HTTPAuthBackend) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var sr sessionResponse
	if err := b.do(ctx, http.MethodPost, "/v1/session/refresh", body, "", &sr); err != nil {
		return nil, err
	}
	return b.toSession(&sr)
}

// SignOut invalidates the session server-side.
func (b *HTTPAuthBackend) SignOut(ctx context.Context) error {
	return b.do(ctx, http.MethodPost, "/v1/session/signout", nil, "", nil)
}

// HealthCheck runs a lightweight authenticated probe.
func (b *HTTPAuthBackend) HealthCheck(ctx context.Context, accessToken string) error {
	return b.do(ctx, http.MethodGet, "/v1/session/health", nil, accessToken, nil)
}

func (b *HTTPAuthBackend) do(ctx context.Context, method, path string, body interface{}, token string, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: auth service returned %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode auth response: %w", err)
		}
	}
	return nil
}

// TokenExpiry extracts the exp claim from a JWT without verifying the
// signature. Verification is the auth service's job; this side only needs
// the expiry for refresh scheduling.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token carries no exp claim")
	}
	return exp.Time, nil
}

var _ AuthBackend = (*HTTPAuthBackend)(nil)
