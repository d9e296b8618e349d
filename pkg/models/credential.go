package models

import "time"

// Credential is the persisted credential record. The hash is fixed length
// and non-reversible; the presented secret is never stored.
type Credential struct {
	ID          string     `json:"id"`
	Hash        string     `json:"-"`
	Role        Role       `json:"role"`
	Tier        Tier       `json:"tier"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Description string     `json:"description,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the credential has an expiry in the past.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// UsageRecord is one append-only gate log entry. The (credential, timestamp)
// index backs the sliding-window quota checks and the stats endpoint.
type UsageRecord struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credential_id"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	DurationMS   int64     `json:"duration_ms"`
	ClientAddr   string    `json:"client_addr,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
