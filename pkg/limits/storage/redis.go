package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements QuotaStore on Redis so that several instances can
// share one set of caller quotas.
//
// Each record is a JSON string at "<prefix>:<caller>"; the set
// "<prefix>:index" lists known callers.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	owned     bool
}

// NewRedisStore wraps an existing client. Close does not close it.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "sluice:quota"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// NewRedisStoreFromConfig dials the server described by cfg and verifies
// the connection.
func NewRedisStoreFromConfig(cfg Config) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := NewRedisStore(client, cfg.KeyPrefix)
	store.owned = true
	return store, nil
}

// Save persists a caller's quota.
func (r *RedisStore) Save(ctx context.Context, record *QuotaRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal quota: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(record.CallerID), data, 0)
		pipe.SAdd(ctx, r.indexKey(), record.CallerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}
	return nil
}

// Load retrieves a caller's quota.
func (r *RedisStore) Load(ctx context.Context, callerID string) (*QuotaRecord, error) {
	if callerID == "" {
		return nil, fmt.Errorf("caller id cannot be empty")
	}

	data, err := r.client.Get(ctx, r.key(callerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}

	var record QuotaRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quota: %w", err)
	}
	return &record, nil
}

// Delete removes a caller's quota.
func (r *RedisStore) Delete(ctx context.Context, callerID string) error {
	if callerID == "" {
		return fmt.Errorf("caller id cannot be empty")
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(callerID))
		pipe.SRem(ctx, r.indexKey(), callerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete quota: %w", err)
	}
	return nil
}

// List returns every stored quota ordered by caller ID. Index entries whose
// record has disappeared are skipped.
func (r *RedisStore) List(ctx context.Context) ([]*QuotaRecord, error) {
	callers, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list quotas: %w", err)
	}

	records := []*QuotaRecord{}
	if len(callers) == 0 {
		return records, nil
	}
	sort.Strings(callers)

	keys := make([]string, len(callers))
	for i, c := range callers {
		keys[i] = r.key(c)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load quotas: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var record QuotaRecord
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quota for %s: %w", callers[i], err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// Close closes the client if the store created it.
func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

func (r *RedisStore) key(callerID string) string {
	return r.keyPrefix + ":" + callerID
}

func (r *RedisStore) indexKey() string {
	return r.keyPrefix + ":index"
}
