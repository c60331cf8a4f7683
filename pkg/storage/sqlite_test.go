package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	cfg := &config.StorageConfig{
		DatabasePath:  filepath.Join(t.TempDir(), "test.db"),
		LogBufferSize: 100,
		FlushInterval: 10 * time.Millisecond,
		BatchSize:     10,
	}

	store, err := NewSQLiteStore(cfg, nil, logging.NewDefault())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func futureTime(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}

func TestInsertAndGetEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &ListEntry{
		Domain:   "example.com",
		ListType: ListTypeWhitelist,
		Source:   SourceManual,
	}
	if err := store.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	got, err := store.GetEntry(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got.Domain != "example.com" || got.ListType != ListTypeWhitelist || got.Source != SourceManual {
		t.Errorf("GetEntry() = %+v, want example.com/whitelist/manual", got)
	}
	if got.ExpiresAt != nil {
		t.Errorf("manual entry should not expire, got expires_at = %v", got.ExpiresAt)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntry(context.Background(), "missing.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() error = %v, want ErrNotFound", err)
	}
}

func TestInsertDuplicateDomain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &ListEntry{Domain: "example.com", ListType: ListTypeWhitelist, Source: SourceManual}
	if err := store.InsertEntry(ctx, first); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	// Same domain in the other list still conflicts: domain is unique.
	second := &ListEntry{Domain: "example.com", ListType: ListTypeBlacklist, Source: SourceManual}
	err := store.InsertEntry(ctx, second)
	if !errors.Is(err, ErrDuplicateDomain) {
		t.Errorf("InsertEntry() error = %v, want ErrDuplicateDomain", err)
	}
}

func TestInsertEntryExpiryInvariants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	manualWithExpiry := &ListEntry{
		Domain:    "a.com",
		ListType:  ListTypeWhitelist,
		Source:    SourceManual,
		ExpiresAt: futureTime(time.Hour),
	}
	if err := store.InsertEntry(ctx, manualWithExpiry); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("manual entry with expiry: error = %v, want ErrInvalidEntry", err)
	}

	llmWithoutExpiry := &ListEntry{
		Domain:   "b.com",
		ListType: ListTypeBlacklist,
		Source:   SourceLLM,
	}
	if err := store.InsertEntry(ctx, llmWithoutExpiry); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("llm entry without expiry: error = %v, want ErrInvalidEntry", err)
	}
}

func TestListActiveSkipsExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := &ListEntry{
		Domain:    "old.com",
		ListType:  ListTypeBlacklist,
		Source:    SourceLLM,
		ExpiresAt: futureTime(-time.Hour),
	}
	if err := store.InsertEntry(ctx, expired); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	active, err := store.ListActive(ctx, "old.com")
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive() returned %d entries for expired domain, want 0", len(active))
	}

	// GetEntry still sees it: activity is a read-time filter, not deletion.
	if _, err := store.GetEntry(ctx, "old.com"); err != nil {
		t.Errorf("GetEntry() error = %v, want expired entry visible", err)
	}
}

func TestListEntriesFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*ListEntry{
		{Domain: "m1.com", ListType: ListTypeWhitelist, Source: SourceManual},
		{Domain: "m2.com", ListType: ListTypeBlacklist, Source: SourceManual},
		{Domain: "l1.com", ListType: ListTypeBlacklist, Source: SourceLLM, ExpiresAt: futureTime(time.Hour)},
		{Domain: "l2.com", ListType: ListTypeBlacklist, Source: SourceLLM, ExpiresAt: futureTime(-time.Hour)},
	}
	for _, e := range seed {
		if err := store.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry(%s) error = %v", e.Domain, err)
		}
	}

	now := time.Now().UTC()
	entries, total, err := store.ListEntries(ctx, EntryFilter{
		Source:   SourceLLM,
		ListType: ListTypeBlacklist,
		ActiveAt: &now,
	}, 0, 100)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].Domain != "l1.com" {
		t.Errorf("ListEntries(llm/blacklist/active) = %d entries total %d, want only l1.com", len(entries), total)
	}

	_, total, err = store.ListEntries(ctx, EntryFilter{Source: SourceManual}, 0, 100)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if total != 2 {
		t.Errorf("ListEntries(manual) total = %d, want 2", total)
	}
}

func TestDeleteEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &ListEntry{Domain: "gone.com", ListType: ListTypeWhitelist, Source: SourceManual}
	if err := store.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	// Wrong list type does not match.
	if err := store.DeleteEntry(ctx, "gone.com", ListTypeBlacklist, SourceManual); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteEntry(wrong list) error = %v, want ErrNotFound", err)
	}

	if err := store.DeleteEntry(ctx, "gone.com", ListTypeWhitelist, SourceManual); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}
	if _, err := store.GetEntry(ctx, "gone.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() after delete error = %v, want ErrNotFound", err)
	}
}

func TestDeleteExpiredLLMEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &ListEntry{
		Domain:    "stale.com",
		ListType:  ListTypeBlacklist,
		Source:    SourceLLM,
		ExpiresAt: futureTime(-time.Minute),
	}
	if err := store.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	// Expired rows are still deletable so operators can clear them out.
	if err := store.DeleteEntry(ctx, "stale.com", ListTypeBlacklist, SourceLLM); err != nil {
		t.Fatalf("DeleteEntry(expired llm) error = %v", err)
	}
	if _, err := store.GetEntry(ctx, "stale.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() after delete error = %v, want ErrNotFound", err)
	}
}

func TestInsertReplacesExpiredEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := &ListEntry{
		Domain:    "churn.com",
		ListType:  ListTypeWhitelist,
		Source:    SourceLLM,
		ExpiresAt: futureTime(-time.Hour),
	}
	if err := store.InsertEntry(ctx, expired); err != nil {
		t.Fatalf("InsertEntry(expired) error = %v", err)
	}

	// A fresh llm verdict takes over the expired row.
	fresh := &ListEntry{
		Domain:    "churn.com",
		ListType:  ListTypeBlacklist,
		Source:    SourceLLM,
		ExpiresAt: futureTime(24 * time.Hour),
	}
	if err := store.InsertEntry(ctx, fresh); err != nil {
		t.Fatalf("InsertEntry(fresh over expired) error = %v", err)
	}

	got, err := store.GetEntry(ctx, "churn.com")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got.ListType != ListTypeBlacklist || got.ExpiresAt == nil || !got.ExpiresAt.After(time.Now()) {
		t.Errorf("GetEntry() = %+v, want active blacklist entry", got)
	}

	// The row is active now, so a further insert conflicts again.
	manual := &ListEntry{Domain: "churn.com", ListType: ListTypeWhitelist, Source: SourceManual}
	if err := store.InsertEntry(ctx, manual); !errors.Is(err, ErrDuplicateDomain) {
		t.Errorf("InsertEntry(over active) error = %v, want ErrDuplicateDomain", err)
	}
}

func TestManualInsertReplacesExpiredEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := &ListEntry{
		Domain:    "takeover.com",
		ListType:  ListTypeBlacklist,
		Source:    SourceLLM,
		ExpiresAt: futureTime(-time.Minute),
	}
	if err := store.InsertEntry(ctx, expired); err != nil {
		t.Fatalf("InsertEntry(expired) error = %v", err)
	}

	manual := &ListEntry{Domain: "takeover.com", ListType: ListTypeWhitelist, Source: SourceManual}
	if err := store.InsertEntry(ctx, manual); err != nil {
		t.Fatalf("InsertEntry(manual over expired) error = %v", err)
	}

	got, err := store.GetEntry(ctx, "takeover.com")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got.Source != SourceManual || got.ListType != ListTypeWhitelist || got.ExpiresAt != nil {
		t.Errorf("GetEntry() = %+v, want permanent manual whitelist entry", got)
	}
}

func TestListStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*ListEntry{
		{Domain: "w1.com", ListType: ListTypeWhitelist, Source: SourceManual},
		{Domain: "w2.com", ListType: ListTypeWhitelist, Source: SourceManual},
		{Domain: "b1.com", ListType: ListTypeBlacklist, Source: SourceLLM, ExpiresAt: futureTime(time.Hour)},
	}
	for _, e := range seed {
		if err := store.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry(%s) error = %v", e.Domain, err)
		}
	}

	stats, err := store.ListStats(ctx)
	if err != nil {
		t.Fatalf("ListStats() error = %v", err)
	}

	counts := make(map[string]int64)
	for _, s := range stats {
		counts[string(s.ListType)+"/"+string(s.Source)] = s.Count
	}
	if counts["whitelist/manual"] != 2 {
		t.Errorf("whitelist/manual count = %d, want 2", counts["whitelist/manual"])
	}
	if counts["blacklist/llm"] != 1 {
		t.Errorf("blacklist/llm count = %d, want 1", counts["blacklist/llm"])
	}
}

func waitForLogs(t *testing.T, store *SQLiteStore, want int) []*DomainLog {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		logs, total, err := store.ListLogs(context.Background(), 0, 100, "")
		if err != nil {
			t.Fatalf("ListLogs() error = %v", err)
		}
		if total >= want {
			return logs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d log rows", want)
	return nil
}

func TestAppendLogFlushes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, domain := range []string{"a.com", "b.com", "c.com"} {
		if err := store.AppendLog(ctx, &DomainLog{Domain: domain, Status: StatusAllowed}); err != nil {
			t.Fatalf("AppendLog(%s) error = %v", domain, err)
		}
	}

	logs := waitForLogs(t, store, 3)
	if len(logs) != 3 {
		t.Errorf("ListLogs() returned %d rows, want 3", len(logs))
	}
}

func TestListLogsKeywordSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, domain := range []string{"facebook.com", "fakebook.com", "unrelated.org"} {
		if err := store.AppendLog(ctx, &DomainLog{Domain: domain, Status: StatusBlocked}); err != nil {
			t.Fatalf("AppendLog(%s) error = %v", domain, err)
		}
	}
	waitForLogs(t, store, 3)

	logs, total, err := store.ListLogs(ctx, 0, 100, "facebook")
	if err != nil {
		t.Fatalf("ListLogs(keyword) error = %v", err)
	}
	if total != 2 {
		t.Fatalf("ListLogs(keyword) total = %d, want 2", total)
	}
	// Exact token match ranks above the near miss.
	if logs[0].Domain != "facebook.com" {
		t.Errorf("top result = %s, want facebook.com", logs[0].Domain)
	}
	if logs[1].Domain != "fakebook.com" {
		t.Errorf("second result = %s, want fakebook.com", logs[1].Domain)
	}
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &User{Username: "admin", HashedPassword: "$2a$12$notarealhash"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	got, err := store.FindUser(ctx, "admin")
	if err != nil {
		t.Fatalf("FindUser() error = %v", err)
	}
	if got.HashedPassword != user.HashedPassword {
		t.Errorf("FindUser() hash mismatch")
	}

	if err := store.CreateUser(ctx, user); err == nil {
		t.Error("CreateUser() duplicate username should fail")
	}

	if _, err := store.FindUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindUser(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	store := newTestStore(t)

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := store.GetEntry(context.Background(), "x.com"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetEntry() after close error = %v, want ErrClosed", err)
	}
	// Second close is a no-op.
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
