// Package storage provides persistence backends for per-caller quotas.
//
// # Overview
//
// The storage package defines the QuotaStore interface and provides
// multiple implementations:
//
//   - Memory: Fast in-memory storage (default, no persistence)
//   - SQLite: File-based persistence for single-instance deployments
//   - Redis: Shared quotas across several instances
//
// Only quota configuration is persisted. Usage counters stay in memory.
//
// # Usage
//
//	store, err := storage.New(storage.Config{Backend: "sqlite", SQLitePath: "quotas.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Save(ctx, &storage.QuotaRecord{
//	    CallerID:      "team-a",
//	    DailyRequests: 5000,
//	    DailyCost:     25.00,
//	})
//
//	record, err := store.Load(ctx, "team-a")
//
// # Thread Safety
//
// All stores are safe for concurrent use.
package storage
