// Package registry is the claim ledger: the authoritative record of
// which resource names are in use, scoped by region and environment.
package registry

import (
	"errors"
	"strings"
	"time"
)

// Key identifies a claim record. Region and environment form the
// partition; the name is unique within it.
type Key struct {
	Region      string `json:"region"`
	Environment string `json:"environment"`
	Name        string `json:"name"`
}

// Scope returns the partition identifier, region and environment
// joined the way the persisted partition key is built.
func (k Key) Scope() string {
	return k.Region + "-" + k.Environment
}

// Normalize lowercases all key components. Lookups and writes must use
// normalized keys so "Prod" and "prod" address the same partition.
func (k Key) Normalize() Key {
	return Key{
		Region:      strings.ToLower(strings.TrimSpace(k.Region)),
		Environment: strings.ToLower(strings.TrimSpace(k.Environment)),
		Name:        strings.ToLower(strings.TrimSpace(k.Name)),
	}
}

func (k Key) validate() error {
	if k.Region == "" || k.Environment == "" || k.Name == "" {
		return ErrInvalidKey
	}
	return nil
}

// ClaimedName is one ledger record. Version increments on every
// successful write and guards optimistic replacement.
type ClaimedName struct {
	Key           Key               `json:"key"`
	ResourceType  string            `json:"resource_type"`
	InUse         bool              `json:"in_use"`
	ClaimedBy     string            `json:"claimed_by"`
	ClaimedAt     time.Time         `json:"claimed_at"`
	ReleasedBy    string            `json:"released_by,omitempty"`
	ReleasedAt    time.Time         `json:"released_at,omitzero"`
	ReleaseReason string            `json:"release_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Version       int64             `json:"version"`
}

// AuditEntry is one append-only audit record. Entries are never
// updated or deleted once written.
type AuditEntry struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Name      string            `json:"name"`
	Event     string            `json:"event"`
	ActorID   string            `json:"actor_id"`
	CreatedAt time.Time         `json:"created_at"`
	Details   map[string]string `json:"details,omitempty"`
}

// Audit event types.
const (
	EventClaimed  = "claimed"
	EventReleased = "released"
)

// AuditFilter narrows an audit search. Zero fields are unconstrained.
type AuditFilter struct {
	Region      string
	Environment string
	Name        string
	Event       string
	ActorID     string
	Since       time.Time
	Until       time.Time
	Limit       int
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// EffectiveLimit clamps the requested page size.
func (f AuditFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > maxAuditLimit {
		return defaultAuditLimit
	}
	return f.Limit
}

var (
	ErrNotFound   = errors.New("claim not found")
	ErrConflict   = errors.New("name already claimed")
	ErrStale      = errors.New("claim modified concurrently")
	ErrInvalidKey = errors.New("invalid claim key")
)
