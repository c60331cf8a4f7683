package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"
	"sync"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/fuzzy"
	"dns-warden/pkg/logging"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var initialSchema string

// fuzzyScoreThreshold is the minimum token-set ratio for a log row to count
// as a keyword match.
const fuzzyScoreThreshold = 50

// fuzzySearchCap bounds how many recent log rows a keyword search scores.
const fuzzySearchCap = 10000

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db            *sql.DB
	cfg           *config.StorageConfig
	metrics       MetricsRecorder
	logger        *logging.Logger
	logBuffer     chan *DomainLog
	stmtInsertLog *sql.Stmt
	sweepDone     chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	closed        bool
}

// NewSQLiteStore opens (and migrates) the SQLite database at cfg.DatabasePath
// and starts the background log flush worker.
func NewSQLiteStore(cfg *config.StorageConfig, metrics MetricsRecorder, logger *logging.Logger) (*SQLiteStore, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = logging.NewDefault()
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	stmtInsertLog, err := db.Prepare(`
		INSERT INTO domain_logs (domain, status, timestamp)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare log insert statement: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger,
		logBuffer:     make(chan *DomainLog, cfg.LogBufferSize),
		stmtInsertLog: stmtInsertLog,
		sweepDone:     make(chan struct{}),
	}

	store.wg.Add(1)
	go store.flushWorker()

	if cfg.SweepInterval > 0 {
		store.wg.Add(1)
		go store.sweepWorker()
	}

	return store, nil
}

// ListActive returns all entries for domain that are active right now.
func (s *SQLiteStore) ListActive(ctx context.Context, domain string) ([]*ListEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, list_type, source, created_at, expires_at
		FROM domain_lists
		WHERE domain = ? AND (expires_at IS NULL OR expires_at > ?)
	`, domain, time.Now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanListEntries(rows)
}

// ListEntries returns entries matching the filter, newest first, along with
// the total match count.
func (s *SQLiteStore) ListEntries(ctx context.Context, filter EntryFilter, offset, limit int) ([]*ListEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, ErrClosed
	}

	where, args := entryFilterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM domain_lists"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	query := `
		SELECT id, domain, list_type, source, created_at, expires_at
		FROM domain_lists` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	entries, err := scanListEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// GetEntry returns the entry for domain (active or not).
func (s *SQLiteStore) GetEntry(ctx context.Context, domain string) (*ListEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, list_type, source, created_at, expires_at
		FROM domain_lists
		WHERE domain = ?
	`, domain)

	entry, err := scanListEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return entry, nil
}

// InsertEntry inserts a new list entry. An expired row for the same domain is
// replaced. Returns ErrDuplicateDomain when the domain already has an active
// entry, and ErrInvalidEntry when the source/expiry invariant is violated
// (manual entries never expire, llm entries must).
func (s *SQLiteStore) InsertEntry(ctx context.Context, entry *ListEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if entry.Source == SourceManual && entry.ExpiresAt != nil {
		return fmt.Errorf("%w: manual entries must not expire", ErrInvalidEntry)
	}
	if entry.Source == SourceLLM && entry.ExpiresAt == nil {
		return fmt.Errorf("%w: llm entries must carry an expiry", ErrInvalidEntry)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var expires any
	if entry.ExpiresAt != nil {
		expires = entry.ExpiresAt.UTC().Unix()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_lists (domain, list_type, source, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			list_type = excluded.list_type,
			source = excluded.source,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE domain_lists.expires_at IS NOT NULL AND domain_lists.expires_at <= ?
	`, entry.Domain, string(entry.ListType), string(entry.Source), entry.CreatedAt.Unix(), expires,
		time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if affected == 0 {
		return ErrDuplicateDomain
	}

	return nil
}

// DeleteEntry removes the entry matching (domain, list_type, source). Expired
// llm entries are deletable too, so operators can clear dead rows.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, domain string, listType ListType, source Source) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM domain_lists
		WHERE domain = ? AND list_type = ? AND source = ?
	`, domain, string(listType), string(source))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListStats returns entry counts grouped by (list_type, source).
func (s *SQLiteStore) ListStats(ctx context.Context) ([]*ListStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT list_type, source, COUNT(*)
		FROM domain_lists
		WHERE expires_at IS NULL OR expires_at > ?
		GROUP BY list_type, source
		ORDER BY list_type, source
	`, time.Now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var stats []*ListStat
	for rows.Next() {
		var stat ListStat
		var listType, source string
		if err := rows.Scan(&listType, &source, &stat.Count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		stat.ListType = ListType(listType)
		stat.Source = Source(source)
		stats = append(stats, &stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return stats, nil
}

// AppendLog queues a domain log row for asynchronous persistence. The write
// never blocks the caller; when the buffer is full the row is dropped and
// counted as a metric.
func (s *SQLiteStore) AppendLog(ctx context.Context, log *DomainLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	select {
	case s.logBuffer <- log:
		return nil
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedLog(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker drains the log buffer in batches. Batching keeps the hot path
// off the database: one transaction per batch instead of per row. It exits
// when the buffer channel is closed, flushing what remains.
func (s *SQLiteStore) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*DomainLog, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			s.logger.Error("Failed to flush domain log batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case log, ok := <-s.logBuffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, log)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes a batch of log rows in a single transaction.
func (s *SQLiteStore) flushBatch(logs []*DomainLog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsertLog)

	for _, log := range logs {
		if _, err := stmt.Exec(log.Domain, string(log.Status), log.Timestamp.Unix()); err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return nil
}

// sweepWorker periodically removes expired llm entries. Readers filter on
// activity anyway; the sweeper only keeps the table from growing unbounded.
func (s *SQLiteStore) sweepWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sweepDone:
			return
		case <-ticker.C:
			result, err := s.db.Exec(`
				DELETE FROM domain_lists
				WHERE expires_at IS NOT NULL AND expires_at <= ?
			`, time.Now().UTC().Unix())
			if err != nil {
				s.logger.Warn("Expiry sweep failed", "error", err)
				continue
			}
			if removed, _ := result.RowsAffected(); removed > 0 {
				s.logger.Debug("Expiry sweep removed entries", "removed", removed)
			}
		}
	}
}

// ListLogs returns log rows, newest first, with the total row count. When
// keyword is non-empty, rows are instead ranked by token-set-ratio score
// against the keyword (descending) and total counts matched rows only.
func (s *SQLiteStore) ListLogs(ctx context.Context, offset, limit int, keyword string) ([]*DomainLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, ErrClosed
	}

	if keyword != "" {
		return s.searchLogs(ctx, offset, limit, keyword)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM domain_logs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, status, timestamp
		FROM domain_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	logs, err := scanDomainLogs(rows)
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// searchLogs scores recent rows against keyword in memory. Fuzzy ranking
// cannot be pushed into SQL, so the scan is capped at fuzzySearchCap rows.
func (s *SQLiteStore) searchLogs(ctx context.Context, offset, limit int, keyword string) ([]*DomainLog, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, status, timestamp
		FROM domain_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, fuzzySearchCap)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	logs, err := scanDomainLogs(rows)
	if err != nil {
		return nil, 0, err
	}

	type scored struct {
		log   *DomainLog
		score int
	}
	matched := make([]scored, 0, len(logs))
	for _, log := range logs {
		if score := fuzzy.TokenSetRatio(keyword, log.Domain); score >= fuzzyScoreThreshold {
			matched = append(matched, scored{log: log, score: score})
		}
	}

	// Stable sort keeps recency order among equal scores.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})

	total := len(matched)
	if offset >= total {
		return []*DomainLog{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	result := make([]*DomainLog, 0, end-offset)
	for _, m := range matched[offset:end] {
		result = append(result, m.log)
	}

	return result, total, nil
}

// FindUser returns the user with the given username, or ErrNotFound.
func (s *SQLiteStore) FindUser(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, hashed_password FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.HashedPassword)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return &user, nil
}

// CreateUser inserts a new user. A duplicate username is an error.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, hashed_password)
		VALUES (?, ?)
		ON CONFLICT(username) DO NOTHING
	`, user.Username, user.HashedPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if affected == 0 {
		return fmt.Errorf("user %q already exists", user.Username)
	}

	return nil
}

// Ping checks if the store is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.PingContext(ctx)
}

// Close flushes pending log rows and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.logBuffer)
	close(s.sweepDone)
	s.wg.Wait()

	if s.stmtInsertLog != nil {
		_ = s.stmtInsertLog.Close()
	}

	return s.db.Close()
}

func entryFilterClause(filter EntryFilter) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.ListType != "" {
		conditions = append(conditions, "list_type = ?")
		args = append(args, string(filter.ListType))
	}
	if filter.ActiveAt != nil {
		conditions = append(conditions, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, filter.ActiveAt.UTC().Unix())
	}

	if len(conditions) == 0 {
		return "", nil
	}

	where := " WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}
	return where, args
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListEntry(row rowScanner) (*ListEntry, error) {
	var e ListEntry
	var listType, source string
	var createdAt int64
	var expiresAt sql.NullInt64

	if err := row.Scan(&e.ID, &e.Domain, &listType, &source, &createdAt, &expiresAt); err != nil {
		return nil, err
	}

	e.ListType = ListType(listType)
	e.Source = Source(source)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		e.ExpiresAt = &t
	}

	return &e, nil
}

func scanListEntries(rows *sql.Rows) ([]*ListEntry, error) {
	var entries []*ListEntry
	for rows.Next() {
		entry, err := scanListEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return entries, nil
}

func scanDomainLogs(rows *sql.Rows) ([]*DomainLog, error) {
	var logs []*DomainLog
	for rows.Next() {
		var l DomainLog
		var status string
		var ts int64
		if err := rows.Scan(&l.ID, &l.Domain, &status, &ts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		l.Status = Status(status)
		l.Timestamp = time.Unix(ts, 0).UTC()
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return logs, nil
}
