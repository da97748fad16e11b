package storage

import (
	"context"
	"fmt"
	"math"
	"time"
)

// QuotaStore defines the interface for persisted per-caller quota settings.
// Implementations must be thread-safe and support concurrent access.
type QuotaStore interface {
	// Save persists a caller's quota. Existing records are replaced.
	Save(ctx context.Context, record *QuotaRecord) error

	// Load retrieves a caller's quota.
	// Returns nil if no record exists. Returns error on system failure.
	Load(ctx context.Context, callerID string) (*QuotaRecord, error)

	// Delete removes a caller's quota. No-op if it doesn't exist.
	Delete(ctx context.Context, callerID string) error

	// List returns every stored quota.
	// Returns empty slice if none exist. Returns error on failure.
	List(ctx context.Context) ([]*QuotaRecord, error)

	// Close releases any resources held by the store.
	// The store should not be used after calling Close.
	Close() error
}

// QuotaRecord is the persisted daily quota for one caller.
// Zero ceilings mean unlimited.
type QuotaRecord struct {
	// CallerID identifies the caller.
	CallerID string `json:"caller_id"`

	// DailyRequests is the request ceiling per UTC day.
	DailyRequests int64 `json:"daily_requests"`

	// DailyTokens is the token ceiling per UTC day.
	DailyTokens int64 `json:"daily_tokens"`

	// DailyCost is the cost ceiling in USD per UTC day.
	DailyCost float64 `json:"daily_cost"`

	// UpdatedAt is when this record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the record can be stored.
func (r *QuotaRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if r.CallerID == "" {
		return fmt.Errorf("caller id cannot be empty")
	}
	if r.DailyRequests < 0 {
		return fmt.Errorf("daily requests cannot be negative")
	}
	if r.DailyTokens < 0 {
		return fmt.Errorf("daily tokens cannot be negative")
	}
	if r.DailyCost < 0 || math.IsNaN(r.DailyCost) || math.IsInf(r.DailyCost, 0) {
		return fmt.Errorf("daily cost must be a non-negative number")
	}
	return nil
}

// Config selects and configures a QuotaStore backend.
type Config struct {
	// Backend is one of "memory", "sqlite" or "redis".
	// Default: memory
	Backend string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// RedisAddr is the server address for the redis backend.
	RedisAddr string

	// RedisPassword authenticates to the redis server.
	RedisPassword string

	// RedisDB selects the redis database.
	RedisDB int

	// KeyPrefix namespaces redis keys.
	// Default: sluice:quota
	KeyPrefix string
}

// New creates the QuotaStore selected by cfg.Backend.
func New(cfg Config) (QuotaStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return NewRedisStoreFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unknown quota store backend %q", cfg.Backend)
	}
}
