package domain

import "time"

// SessionStatus is the lifecycle state of an authenticated session.
type SessionStatus int

const (
	// SessionActive indicates the session credential is valid.
	SessionActive SessionStatus = iota
	// SessionRefreshing indicates a credential refresh is in flight.
	SessionRefreshing
	// SessionDegraded indicates the network is offline; refresh and
	// health checks are suspended until connectivity returns.
	SessionDegraded
	// SessionTerminated indicates the session is gone (sign-out or
	// refresh exhaustion). Terminal.
	SessionTerminated
)

// String returns the string representation of SessionStatus.
func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionRefreshing:
		return "refreshing"
	case SessionDegraded:
		return "degraded"
	case SessionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// NetworkStatus is the last observed connectivity state.
type NetworkStatus string

const (
	NetworkOnline  NetworkStatus = "online"
	NetworkOffline NetworkStatus = "offline"
	NetworkUnknown NetworkStatus = "unknown"
)

// Session is an authenticated credential with its expiry.
type Session struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionState is the observable state of the session manager.
type SessionState struct {
	Status           SessionStatus `json:"status"`
	ExpiresAt        time.Time     `json:"expires_at"`
	LastRefresh      time.Time     `json:"last_refresh"`
	RefreshCount     int           `json:"refresh_count"`
	HealthCheckCount int           `json:"health_check_count"`
	NetworkStatus    NetworkStatus `json:"network_status"`
	IsRefreshing     bool          `json:"is_refreshing"`
}
