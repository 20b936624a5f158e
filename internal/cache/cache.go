package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/Additional-Code/fooddash/internal/config"
)

// Store is the byte-level cache backend behind the order read model.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent stores value only when key is missing and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

// Module provides the cache store and key builder to the Fx graph.
var Module = fx.Provide(NewStore, NewKeys)

// Keys builds namespaced cache keys.
type Keys struct {
	prefix string
}

// NewKeys uses the configured key prefix.
func NewKeys(cfg config.Config) Keys {
	return Keys{prefix: strings.TrimSuffix(cfg.Cache.KeyPrefix, ":")}
}

// OrderView is the key of the hydrated order read model.
func (k Keys) OrderView(orderID int64) string {
	return k.join("order", strconv.FormatInt(orderID, 10), "view")
}

func (k Keys) join(parts ...string) string {
	if k.prefix == "" {
		return strings.Join(parts, ":")
	}
	return k.prefix + ":" + strings.Join(parts, ":")
}

// GetJSON reads key and decodes it into T. Undecodable entries count as misses.
func GetJSON[T any](ctx context.Context, store Store, key string) (T, error) {
	var out T
	raw, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		_ = store.Delete(ctx, key)
		return out, ErrCacheMiss
	}
	return out, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, store Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return store.Set(ctx, key, raw, ttl)
}

// AddJSON encodes value and stores it under key unless an entry is already there.
func AddJSON(ctx context.Context, store Store, key string, value any, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cache value: %w", err)
	}
	return store.SetIfAbsent(ctx, key, raw, ttl)
}
