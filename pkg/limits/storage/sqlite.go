package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements QuotaStore using SQLite for persistence.
// It suits single-instance deployments where quotas must survive restarts.
//
// SQLiteStore uses a write-ahead log (WAL) for better concurrent read
// performance and checkpoints it periodically.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.RWMutex
	closeOnce          sync.Once

	saveStmt   *sql.Stmt
	loadStmt   *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite quota store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{
		DBPath:             dbPath,
		CheckpointInterval: 5 * time.Minute,
		BusyTimeout:        5 * time.Second,
	})
}

// NewSQLiteStoreWithConfig creates a new SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
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

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS caller_quotas (
		caller_id TEXT PRIMARY KEY,
		daily_requests INTEGER NOT NULL DEFAULT 0,
		daily_tokens INTEGER NOT NULL DEFAULT 0,
		daily_cost REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO caller_quotas (caller_id, daily_requests, daily_tokens, daily_cost, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (caller_id) DO UPDATE SET
			daily_requests = excluded.daily_requests,
			daily_tokens = excluded.daily_tokens,
			daily_cost = excluded.daily_cost,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT caller_id, daily_requests, daily_tokens, daily_cost, updated_at
		FROM caller_quotas
		WHERE caller_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM caller_quotas WHERE caller_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT caller_id, daily_requests, daily_tokens, daily_cost, updated_at
		FROM caller_quotas
		ORDER BY caller_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

// Save persists a caller's quota.
func (s *SQLiteStore) Save(ctx context.Context, record *QuotaRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.saveStmt.ExecContext(ctx,
		record.CallerID,
		record.DailyRequests,
		record.DailyTokens,
		record.DailyCost,
		record.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}

	return nil
}

// Load retrieves a caller's quota.
func (s *SQLiteStore) Load(ctx context.Context, callerID string) (*QuotaRecord, error) {
	if callerID == "" {
		return nil, fmt.Errorf("caller id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := scanRecord(s.loadStmt.QueryRowContext(ctx, callerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	return record, nil
}

// Delete removes a caller's quota.
func (s *SQLiteStore) Delete(ctx context.Context, callerID string) error {
	if callerID == "" {
		return fmt.Errorf("caller id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deleteStmt.ExecContext(ctx, callerID); err != nil {
		return fmt.Errorf("failed to delete quota: %w", err)
	}
	return nil
}

// List returns every stored quota ordered by caller ID.
func (s *SQLiteStore) List(ctx context.Context) ([]*QuotaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotas: %w", err)
	}
	defer rows.Close()

	records := []*QuotaRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt} {
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
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
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

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*QuotaRecord, error) {
	var (
		record    QuotaRecord
		updatedAt int64
	)
	if err := row.Scan(
		&record.CallerID,
		&record.DailyRequests,
		&record.DailyTokens,
		&record.DailyCost,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	record.UpdatedAt = time.Unix(updatedAt, 0)
	return &record, nil
}
