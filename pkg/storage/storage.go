// Package storage contains the persistence layer: domain list entries, the
// append-only domain log, and control-API users.
package storage

import (
	"context"
	"time"
)

// Store defines the interface to the persistent record store.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// Domain lists
	ListActive(ctx context.Context, domain string) ([]*ListEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter, offset, limit int) ([]*ListEntry, int, error)
	GetEntry(ctx context.Context, domain string) (*ListEntry, error)
	InsertEntry(ctx context.Context, entry *ListEntry) error
	DeleteEntry(ctx context.Context, domain string, listType ListType, source Source) error
	ListStats(ctx context.Context) ([]*ListStat, error)

	// Domain logs
	AppendLog(ctx context.Context, log *DomainLog) error
	ListLogs(ctx context.Context, offset, limit int, keyword string) ([]*DomainLog, int, error)

	// Users
	FindUser(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error

	// Maintenance
	Ping(ctx context.Context) error
	Close() error
}

// MetricsRecorder receives storage-level metric events. The indirection
// breaks the import cycle between storage and telemetry packages.
type MetricsRecorder interface {
	AddDroppedLog(ctx context.Context, count int64)
}

// ListType is the classification a list entry carries.
type ListType string

const (
	ListTypeWhitelist ListType = "whitelist"
	ListTypeBlacklist ListType = "blacklist"
)

// ValidListType reports whether s names a known list type.
func ValidListType(s string) bool {
	return ListType(s) == ListTypeWhitelist || ListType(s) == ListTypeBlacklist
}

// Source identifies who created a list entry.
type Source string

const (
	SourceManual Source = "manual"
	SourceLLM    Source = "llm"
)

// ValidSource reports whether s names a known entry source.
func ValidSource(s string) bool {
	return Source(s) == SourceManual || Source(s) == SourceLLM
}

// Status is the per-query decision recorded in the domain log.
type Status string

const (
	StatusAllowed  Status = "allowed"
	StatusBlocked  Status = "blocked"
	StatusReviewed Status = "reviewed"
)

// ListEntry is one classification rule. Domain is unique across the store.
// Manual entries never expire; llm entries carry an expiry timestamp.
type ListEntry struct {
	ID        int64      `json:"id"`
	Domain    string     `json:"domain"`
	ListType  ListType   `json:"list_type"`
	Source    Source     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the entry is active at time t.
func (e *ListEntry) ActiveAt(t time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(t)
}

// DomainLog is an append-only record of one DNS query decision.
type DomainLog struct {
	ID        int64     `json:"id"`
	Domain    string    `json:"domain"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// User is a control-API account. Passwords are stored as bcrypt hashes.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	HashedPassword string `json:"-"`
}

// EntryFilter selects list entries. Zero values match everything.
type EntryFilter struct {
	Source   Source
	ListType ListType
	ActiveAt *time.Time
}

// ListStat is an aggregate count for one (list_type, source) bucket.
type ListStat struct {
	ListType ListType `json:"list_type"`
	Source   Source   `json:"source"`
	Count    int64    `json:"count"`
}
