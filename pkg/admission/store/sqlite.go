package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It provides durable admission state for single-instance deployments where
// counters and violations must survive restarts. The increment path is a
// single UPSERT so concurrent callers on the same instance never lose updates.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent performance
// and periodic checkpointing to balance write performance with durability.
type SQLiteBackend struct {
	db         *sql.DB
	dbPath     string
	checkpoint time.Duration
	done       chan struct{}
	closeOnce  sync.Once

	// nowFunc is swapped in tests to control window boundaries.
	nowFunc func() time.Time

	incrementStmt    *sql.Stmt
	appendStmt       *sql.Stmt
	weightedStmt     *sql.Stmt
	loadEscStmt      *sql.Stmt
	insertEscStmt    *sql.Stmt
	updateEscStmt    *sql.Stmt
	markNotifiedStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:         db,
		dbPath:     cfg.DBPath,
		checkpoint: cfg.CheckpointInterval,
		done:       make(chan struct{}),
		nowFunc:    time.Now,
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS window_counters (
		identifier TEXT NOT NULL,
		route_key TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (identifier, route_key, window_start)
	);

	CREATE TABLE IF NOT EXISTS violations (
		identifier TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		route_key TEXT NOT NULL,
		id TEXT NOT NULL,
		weight REAL NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (identifier, ts_ms, route_key)
	);

	CREATE TABLE IF NOT EXISTS escalations (
		identifier TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		entered_at INTEGER NOT NULL,
		last_violation_at INTEGER NOT NULL,
		version INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS suppressions (
		identifier TEXT NOT NULL,
		tier TEXT NOT NULL,
		last_sent_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (identifier, tier)
	);

	CREATE INDEX IF NOT EXISTS idx_counters_expires ON window_counters(expires_at);
	CREATE INDEX IF NOT EXISTS idx_violations_expires ON violations(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO window_counters (identifier, route_key, window_start, count, expires_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (identifier, route_key, window_start) DO UPDATE SET
			count = count + 1
		RETURNING count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.appendStmt, err = s.db.Prepare(`
		INSERT OR IGNORE INTO violations (identifier, ts_ms, route_key, id, weight, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}

	s.weightedStmt, err = s.db.Prepare(`
		SELECT COALESCE(SUM(weight), 0)
		FROM violations
		WHERE identifier = ? AND ts_ms >= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare weighted statement: %w", err)
	}

	s.loadEscStmt, err = s.db.Prepare(`
		SELECT tier, entered_at, last_violation_at, version, expires_at
		FROM escalations
		WHERE identifier = ? AND expires_at >= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load escalation statement: %w", err)
	}

	// An expired row is the same as no row: the insert may overwrite it,
	// but never a live one.
	s.insertEscStmt, err = s.db.Prepare(`
		INSERT INTO escalations (identifier, tier, entered_at, last_violation_at, version, expires_at)
		VALUES (?1, ?2, ?3, ?4, 1, ?5)
		ON CONFLICT (identifier) DO UPDATE SET
			tier = excluded.tier,
			entered_at = excluded.entered_at,
			last_violation_at = excluded.last_violation_at,
			version = escalations.version + 1,
			expires_at = excluded.expires_at
		WHERE escalations.expires_at < ?6
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert escalation statement: %w", err)
	}

	s.updateEscStmt, err = s.db.Prepare(`
		UPDATE escalations
		SET tier = ?, entered_at = ?, last_violation_at = ?, version = version + 1, expires_at = ?
		WHERE identifier = ? AND version = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update escalation statement: %w", err)
	}

	s.markNotifiedStmt, err = s.db.Prepare(`
		INSERT INTO suppressions (identifier, tier, last_sent_at, expires_at)
		VALUES (?1, ?2, ?3, ?4)
		ON CONFLICT (identifier, tier) DO UPDATE SET
			last_sent_at = excluded.last_sent_at,
			expires_at = excluded.expires_at
		WHERE suppressions.last_sent_at <= ?3 - ?5
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mark notified statement: %w", err)
	}

	return nil
}

// IncrementAndCheck atomically adds one to the window counter and returns the
// post-increment count.
func (s *SQLiteBackend) IncrementAndCheck(ctx context.Context, identifier, routeKey string, window time.Duration) (WindowCount, error) {
	now := s.nowFunc()
	start := windowStart(now, window)
	end := start.Add(window)

	var count int64
	err := s.incrementStmt.QueryRowContext(ctx,
		identifier,
		routeKey,
		start.UnixMilli(),
		now.Add(counterTTL(end, now)).UnixMilli(),
	).Scan(&count)
	if err != nil {
		return WindowCount{}, wrapUnavailable("sqlite increment", err)
	}

	return WindowCount{
		Count:       count,
		WindowStart: start,
		Remaining:   end.Sub(now),
	}, nil
}

// AppendViolation records a denial, idempotently on the dedupe key.
func (s *SQLiteBackend) AppendViolation(ctx context.Context, v Violation) error {
	_, err := s.appendStmt.ExecContext(ctx,
		v.Identifier,
		v.Timestamp.UnixMilli(),
		v.RouteKey,
		v.ID,
		v.Weight,
		v.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return wrapUnavailable("sqlite append violation", err)
	}
	return nil
}

// WeightedViolations sums violation weights for an identifier since the given time.
func (s *SQLiteBackend) WeightedViolations(ctx context.Context, identifier string, since time.Time) (float64, error) {
	var sum float64
	err := s.weightedStmt.QueryRowContext(ctx, identifier, since.UnixMilli()).Scan(&sum)
	if err != nil {
		return 0, wrapUnavailable("sqlite weighted violations", err)
	}
	return sum, nil
}

// LoadEscalation returns the escalation state, or nil if none exists.
func (s *SQLiteBackend) LoadEscalation(ctx context.Context, identifier string) (*EscalationRecord, error) {
	var (
		tier            string
		enteredAt       int64
		lastViolationAt int64
		version         int64
		expiresAt       int64
	)
	err := s.loadEscStmt.QueryRowContext(ctx, identifier, s.nowFunc().UnixMilli()).Scan(
		&tier, &enteredAt, &lastViolationAt, &version, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapUnavailable("sqlite load escalation", err)
	}

	return &EscalationRecord{
		Identifier:      identifier,
		Tier:            tier,
		EnteredAt:       time.UnixMilli(enteredAt),
		LastViolationAt: time.UnixMilli(lastViolationAt),
		ExpiresAt:       time.UnixMilli(expiresAt),
		Version:         version,
	}, nil
}

// SaveEscalation performs a compare-and-swap on the escalation record.
func (s *SQLiteBackend) SaveEscalation(ctx context.Context, prev *EscalationRecord, next EscalationRecord) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if prev == nil {
		res, err = s.insertEscStmt.ExecContext(ctx,
			next.Identifier,
			next.Tier,
			next.EnteredAt.UnixMilli(),
			next.LastViolationAt.UnixMilli(),
			next.ExpiresAt.UnixMilli(),
			s.nowFunc().UnixMilli(),
		)
	} else {
		res, err = s.updateEscStmt.ExecContext(ctx,
			next.Tier,
			next.EnteredAt.UnixMilli(),
			next.LastViolationAt.UnixMilli(),
			next.ExpiresAt.UnixMilli(),
			next.Identifier,
			prev.Version,
		)
	}
	if err != nil {
		return false, wrapUnavailable("sqlite save escalation", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapUnavailable("sqlite save escalation", err)
	}
	return affected == 1, nil
}

// MarkNotified records a notification for identifier+tier unless one was
// already recorded within the dedupe interval.
func (s *SQLiteBackend) MarkNotified(ctx context.Context, identifier, tier string, interval time.Duration) (bool, error) {
	now := s.nowFunc()
	res, err := s.markNotifiedStmt.ExecContext(ctx,
		identifier,
		tier,
		now.UnixMilli(),
		now.Add(interval).UnixMilli(),
		interval.Milliseconds(),
	)
	if err != nil {
		return false, wrapUnavailable("sqlite mark notified", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapUnavailable("sqlite mark notified", err)
	}
	return affected == 1, nil
}

// Cleanup removes expired rows from all tables and returns the total deleted.
// The retention sweeper calls this on a schedule; SQLite has no native TTL.
func (s *SQLiteBackend) Cleanup(ctx context.Context, now time.Time) (int, error) {
	tables := []string{"window_counters", "violations", "escalations", "suppressions"}
	deleted := 0
	for _, table := range tables {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), now.UnixMilli())
		if err != nil {
			return deleted, wrapUnavailable("sqlite cleanup "+table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, wrapUnavailable("sqlite cleanup "+table, err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Close releases resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.incrementStmt, s.appendStmt, s.weightedStmt,
			s.loadEscStmt, s.insertEscStmt, s.updateEscStmt, s.markNotifiedStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpoint)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
