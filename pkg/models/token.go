package models

import "time"

// TokenRecord is a session token obtained by redeeming a challenge for
// one origin host. Token is the Cookie header value replayed on
// subsequent fetches to that host.
type TokenRecord struct {
	Host      string    `json:"host"`
	Token     string    `json:"token"`
	Version   string    `json:"version"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its declared expiry at the
// given instant.
func (r TokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// CacheStats reports token cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
