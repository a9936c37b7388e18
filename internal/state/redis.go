package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"fleetwatch/internal/aggregate"
	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
)

const machineStatusKey = "fleetwatch:machines:latest-status"

// StatusCache caches the machines-latest-status snapshot in Redis with a
// short TTL. Any Redis failure degrades to a cache miss; the aggregation
// engine then computes directly against the stores.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewStatusCache connects to Redis. The connection is verified eagerly so a
// misconfigured address surfaces at startup.
func NewStatusCache(ctx context.Context, cfg config.RedisConfig) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	return &StatusCache{
		client: client,
		ttl:    ttl,
		log:    logger.WithComponent("status_cache"),
	}, nil
}

// GetMachineStatuses returns the cached snapshot, ok=false on miss or error.
func (c *StatusCache) GetMachineStatuses(ctx context.Context) ([]aggregate.MachineStatus, bool) {
	payload, err := c.client.Get(ctx, machineStatusKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("status cache read failed")
		}
		return nil, false
	}

	var statuses []aggregate.MachineStatus
	if err := json.Unmarshal(payload, &statuses); err != nil {
		c.log.Warn().Err(err).Msg("status cache payload corrupt, discarding")
		return nil, false
	}
	return statuses, true
}

// SetMachineStatuses stores the snapshot with the configured TTL. Failures
// are logged and dropped.
func (c *StatusCache) SetMachineStatuses(ctx context.Context, statuses []aggregate.MachineStatus) {
	payload, err := json.Marshal(statuses)
	if err != nil {
		c.log.Warn().Err(err).Msg("status cache encode failed")
		return
	}

	if err := c.client.Set(ctx, machineStatusKey, payload, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("status cache write failed")
	}
}

// Close releases the Redis connection.
func (c *StatusCache) Close() error {
	return c.client.Close()
}
