// Package assets resolves asset identifiers from alerts into the inventory
// records used to derive response parameters. The canonical store is Redis;
// a memory directory backs tests and single-node setups.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when an asset id is not in the directory.
var ErrNotFound = errors.New("asset not found")

// Asset is one inventory record.
type Asset struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	IP       string    `json:"ip_address"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Directory looks up and maintains asset records.
type Directory interface {
	Get(ctx context.Context, id string) (*Asset, error)
	Put(ctx context.Context, asset *Asset) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// RedisConfig holds connection settings for the Redis-backed directory.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// DefaultRedisConfig returns directory settings for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		KeyPrefix:   "warn:asset:",
		DialTimeout: 5 * time.Second,
	}
}

// RedisDirectory stores assets as JSON values under a key prefix.
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

// NewRedisDirectory connects to Redis and verifies the connection.
func NewRedisDirectory(cfg RedisConfig) (*RedisDirectory, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultRedisConfig().DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDirectory{client: client, prefix: cfg.KeyPrefix}, nil
}

func (d *RedisDirectory) key(id string) string { return d.prefix + id }

// Get fetches and decodes an asset record.
func (d *RedisDirectory) Get(ctx context.Context, id string) (*Asset, error) {
	val, err := d.client.Get(ctx, d.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("asset lookup %s: %w", id, err)
	}

	var asset Asset
	if err := json.Unmarshal([]byte(val), &asset); err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", id, err)
	}
	return &asset, nil
}

// Put stores an asset record, stamping LastSeen.
func (d *RedisDirectory) Put(ctx context.Context, asset *Asset) error {
	if asset == nil || asset.ID == "" {
		return errors.New("asset requires an id")
	}
	asset.LastSeen = time.Now().UTC()

	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", asset.ID, err)
	}
	return d.client.Set(ctx, d.key(asset.ID), data, 0).Err()
}

// Delete removes an asset record.
func (d *RedisDirectory) Delete(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.key(id)).Err()
}

// Close releases the Redis connection.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

// MemoryDirectory is an in-process Directory for tests and single-node use.
type MemoryDirectory struct {
	mu     sync.RWMutex
	assets map[string]*Asset
	closed bool
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{assets: make(map[string]*Asset)}
}

// Get returns a copy of the stored asset.
func (d *MemoryDirectory) Get(ctx context.Context, id string) (*Asset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, errors.New("directory closed")
	}
	asset, ok := d.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *asset
	return &cp, nil
}

// Put stores a copy of the asset, stamping LastSeen.
func (d *MemoryDirectory) Put(ctx context.Context, asset *Asset) error {
	if asset == nil || asset.ID == "" {
		return errors.New("asset requires an id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("directory closed")
	}
	cp := *asset
	cp.LastSeen = time.Now().UTC()
	d.assets[cp.ID] = &cp
	return nil
}

// Delete removes an asset.
func (d *MemoryDirectory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("directory closed")
	}
	delete(d.assets, id)
	return nil
}

// Len returns the number of stored assets.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.assets)
}

// Close marks the directory as closed.
func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
