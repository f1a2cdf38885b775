package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestHTTPAuthBackend_RefreshSession(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/session/refresh" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "refresh-1" {
			t.Errorf("refresh_token = %q", body["refresh_token"])
		}
		json.NewEncoder(w).Encode(sessionResponse{
			UserID:       "user-1",
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    expiresAt.Unix(),
		})
	}))
	defer srv.Close()

	b := NewHTTPAuthBackend(srv.URL, time.Second)
	sess, err := b.RefreshSession(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if sess.AccessToken != "access-2" || sess.RefreshToken != "refresh-2" {
		t.Errorf("session = %+v", sess)
	}
	if !sess.ExpiresAt.Equal(expiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, expiresAt)
	}
}

func TestHTTPAuthBackend_ExpiryFromToken(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := signedTestToken(t, exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sessionResponse{
			UserID:      "user-1",
			AccessToken: token,
		})
	}))
	defer srv.Close()

	b := NewHTTPAuthBackend(srv.URL, time.Second)
	sess, err := b.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v (from exp claim)", sess.ExpiresAt, exp)
	}
}

func TestHTTPAuthBackend_AuthErrors(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		b := NewHTTPAuthBackend(srv.URL, time.Second)
		err := b.HealthCheck(context.Background(), "stale-token")
		if !errors.Is(err, ErrAuth) {
			t.Errorf("status %d: err = %v, want ErrAuth", status, err)
		}
		srv.Close()
	}
}

func TestHTTPAuthBackend_ServerErrorIsNotAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewHTTPAuthBackend(srv.URL, time.Second)
	err := b.HealthCheck(context.Background(), "token")
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if errors.Is(err, ErrAuth) {
		t.Error("transient server failure classified as auth error")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(signedTestToken(t, exp))
	if err != nil {
		t.Fatalf("TokenExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}

	if _, err := TokenExpiry("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
