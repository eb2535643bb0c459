package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// SnapshotCache stores finalized flight snapshots shared by the API server
// and the worker.
type SnapshotCache interface {
	PutFlight(ctx context.Context, snap models.FlightSnapshot) error
	GetFlight(ctx context.Context, key surety.FlightKey) (models.FlightSnapshot, error)
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

// RedisClient represents the Redis client
type RedisClient struct {
	*redis.Client
	ttl time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &RedisClient{Client: client, ttl: opts.SnapshotTTL}, nil
}

// SetJSON sets a JSON value in Redis with expiration
func (rc *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return rc.Set(ctx, key, jsonData, expiration).Err()
}

// GetJSON gets a JSON value from Redis
func (rc *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrCacheMiss, key)
		}
		return fmt.Errorf("failed to get from Redis: %w", err)
	}
	return json.Unmarshal(data, dest)
}

func (rc *RedisClient) PutFlight(ctx context.Context, snap models.FlightSnapshot) error {
	return rc.SetJSON(ctx, FlightSnapshotKey(snap.Key), snap, rc.ttl)
}

func (rc *RedisClient) GetFlight(ctx context.Context, key surety.FlightKey) (models.FlightSnapshot, error) {
	var snap models.FlightSnapshot
	if err := rc.GetJSON(ctx, FlightSnapshotKey(key), &snap); err != nil {
		return models.FlightSnapshot{}, err
	}
	return snap, nil
}

// FlightSnapshotKey generates the cache key for a finalized flight
func FlightSnapshotKey(key surety.FlightKey) string {
	return fmt.Sprintf("flight_snapshot:%s", key)
}

// MemoryCache is a process-local SnapshotCache used when Redis is disabled.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[surety.FlightKey]models.FlightSnapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[surety.FlightKey]models.FlightSnapshot)}
}

func (m *MemoryCache) PutFlight(_ context.Context, snap models.FlightSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snap.Key] = snap
	return nil
}

func (m *MemoryCache) GetFlight(_ context.Context, key surety.FlightKey) (models.FlightSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.items[key]
	if !ok {
		return models.FlightSnapshot{}, fmt.Errorf("%w: %s", ErrCacheMiss, FlightSnapshotKey(key))
	}
	return snap, nil
}
