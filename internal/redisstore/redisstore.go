// Package redisstore keeps the history window in Redis so several processes
// can share one deduplication history.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/contentforge/internal/history"
)

// Backend stores records as JSON strings in a Redis list next to a version
// counter. Writes use WATCH on the version key, so a concurrent writer makes
// the transaction fail with history.ErrConflict.
type Backend struct {
	rdb       *redis.Client
	namespace string
}

// New connects to Redis at url (redis://host:port/db) and namespaces keys
// with namespace.
func New(url, namespace string) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewWithOptions(opts, namespace)
}

// NewWithOptions creates a backend from explicit client options.
func NewWithOptions(opts *redis.Options, namespace string) (*Backend, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Backend{rdb: redis.NewClient(opts), namespace: namespace}, nil
}

// Ping verifies Redis connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.rdb.Close()
}

func (b *Backend) recordsKey() string {
	return fmt.Sprintf("contentforge:%s:history:records", b.namespace)
}

func (b *Backend) versionKey() string {
	return fmt.Sprintf("contentforge:%s:history:version", b.namespace)
}

func (b *Backend) Load(ctx context.Context) (history.Snapshot, error) {
	var lrange *redis.StringSliceCmd
	var get *redis.StringCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, b.recordsKey(), 0, -1)
		get = pipe.Get(ctx, b.versionKey())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return history.Snapshot{}, fmt.Errorf("reading history from redis: %w", err)
	}

	var snap history.Snapshot
	for _, raw := range lrange.Val() {
		var r history.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return history.Snapshot{}, fmt.Errorf("decoding history record: %w", err)
		}
		snap.Records = append(snap.Records, r)
	}
	if v, err := get.Int64(); err == nil {
		snap.Version = v
	} else if !errors.Is(err, redis.Nil) {
		return history.Snapshot{}, fmt.Errorf("reading history version: %w", err)
	}
	return snap, nil
}

func (b *Backend) Append(ctx context.Context, rec history.Record, capacity int, expect int64) (int64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encoding history record: %w", err)
	}
	return b.write(ctx, expect, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, b.recordsKey(), data)
		if capacity > 0 {
			pipe.LTrim(ctx, b.recordsKey(), int64(-capacity), -1)
		}
	})
}

func (b *Backend) Replace(ctx context.Context, records []history.Record, expect int64) (int64, error) {
	values := make([]any, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("encoding history record: %w", err)
		}
		values = append(values, data)
	}
	return b.write(ctx, expect, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, b.recordsKey())
		if len(values) > 0 {
			pipe.RPush(ctx, b.recordsKey(), values...)
		}
	})
}

// write runs ops in a MULTI block guarded by WATCH on the version key.
func (b *Backend) write(ctx context.Context, expect int64, ops func(pipe redis.Pipeliner)) (int64, error) {
	var version int64
	err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, b.versionKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != expect {
			return fmt.Errorf("write at version %d (redis has %d): %w", expect, current, history.ErrConflict)
		}

		var incr *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ops(pipe)
			incr = pipe.Incr(ctx, b.versionKey())
			return nil
		})
		if err != nil {
			return err
		}
		version = incr.Val()
		return nil
	}, b.versionKey())

	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("write at version %d: %w", expect, history.ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}
