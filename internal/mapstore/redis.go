package mapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ldaptoid/ldaptoid/internal/logger"
)

const keyPrefix = "ldaptoid:"

// RedisConfig carries the connection settings from pkg/config.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Redis stores mapping records as JSON strings under
// "ldaptoid:<kind>:<idp id>" keys.
type Redis struct {
	client  *redis.Client
	metrics Metrics
}

// NewRedis builds the store. The connection is not touched until Connect.
func NewRedis(cfg RedisConfig, metrics Metrics) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		metrics: metrics,
	}
}

func (r *Redis) record(op string, err error) error {
	if r.metrics != nil {
		r.metrics.RecordMapstoreOp(op, err == nil)
	}
	return err
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, OpTimeout)
}

func key(kind Kind, idpID string) string {
	return keyPrefix + string(kind) + ":" + idpID
}

// Connect pings the server once so startup can log whether persistence is
// available.
func (r *Redis) Connect(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.record("connect", fmt.Errorf("mapstore: connect: %w", err))
	}
	logger.Info("mapping store connected", "address", r.client.Options().Addr)
	return r.record("connect", nil)
}

func (r *Redis) Put(ctx context.Context, kind Kind, idpID string, rec Record) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return r.record("put", fmt.Errorf("mapstore: marshal record: %w", err))
	}
	if err := r.client.Set(ctx, key(kind, idpID), payload, 0).Err(); err != nil {
		return r.record("put", fmt.Errorf("mapstore: put %s/%s: %w", kind, idpID, err))
	}
	return r.record("put", nil)
}

func (r *Redis) Get(ctx context.Context, kind Kind, idpID string) (Record, bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	payload, err := r.client.Get(ctx, key(kind, idpID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, r.record("get", nil)
	}
	if err != nil {
		return Record{}, false, r.record("get", fmt.Errorf("mapstore: get %s/%s: %w", kind, idpID, err))
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, false, r.record("get", fmt.Errorf("mapstore: decode %s/%s: %w", kind, idpID, err))
	}
	return rec, true, r.record("get", nil)
}

// List scans the kind's namespace. Malformed records are skipped with a
// warning rather than failing the whole seed.
func (r *Redis) List(ctx context.Context, kind Kind) (map[string]Record, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	prefix := keyPrefix + string(kind) + ":"
	out := make(map[string]Record)

	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		payload, err := r.client.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, r.record("list", fmt.Errorf("mapstore: list %s: %w", kind, err))
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			logger.Warn("skipping malformed mapping record", "key", k, "error", err)
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = rec
	}
	if err := iter.Err(); err != nil {
		return nil, r.record("list", fmt.Errorf("mapstore: scan %s: %w", kind, err))
	}
	return out, r.record("list", nil)
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.record("ping", fmt.Errorf("mapstore: ping: %w", err))
	}
	return r.record("ping", nil)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
