package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

// DefaultForecastTTL bounds staleness of cached forecasts between batch
// regenerations.
const DefaultForecastTTL = 6 * time.Hour

// ErrCacheMiss is returned when no entry exists for a key.
var ErrCacheMiss = fmt.Errorf("forecast not found in cache")

// ProjectionCacheService handles caching for multi-week forecast results
type ProjectionCacheService struct {
	client *redis.Client
	logger *logrus.Logger
	ttl    time.Duration
}

// NewProjectionCacheService creates a new projection cache service
func NewProjectionCacheService(client *redis.Client, logger *logrus.Logger) *ProjectionCacheService {
	return &ProjectionCacheService{
		client: client,
		logger: logger,
		ttl:    DefaultForecastTTL,
	}
}

// NewProjectionCacheServiceWithTTL creates a projection cache service with a
// non-default expiration
func NewProjectionCacheServiceWithTTL(client *redis.Client, logger *logrus.Logger, ttl time.Duration) *ProjectionCacheService {
	service := NewProjectionCacheService(client, logger)
	if ttl > 0 {
		service.ttl = ttl
	}
	return service
}

func forecastKey(playerID uint, currentGameweek int) string {
	return fmt.Sprintf("forecast:%d:gw%d", playerID, currentGameweek)
}

// SetForecast stores a player's multi-week forecast in cache
func (c *ProjectionCacheService) SetForecast(ctx context.Context, playerID uint, currentGameweek int, projections []types.WeeklyProjection) error {
	data, err := json.Marshal(projections)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}

	fullKey := forecastKey(playerID, currentGameweek)
	if err := c.client.Set(ctx, fullKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set forecast in cache: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key":  fullKey,
		"expiration": c.ttl,
		"weeks":      len(projections),
	}).Debug("Cached forecast")

	return nil
}

// GetForecast retrieves a player's multi-week forecast from cache
func (c *ProjectionCacheService) GetForecast(ctx context.Context, playerID uint, currentGameweek int) ([]types.WeeklyProjection, error) {
	fullKey := forecastKey(playerID, currentGameweek)
	data, err := c.client.Get(ctx, fullKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get forecast from cache: %w", err)
	}

	var projections []types.WeeklyProjection
	if err := json.Unmarshal([]byte(data), &projections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key": fullKey,
		"weeks":     len(projections),
	}).Debug("Retrieved forecast from cache")

	return projections, nil
}

// InvalidateForecast removes a player's cached forecast, used after fresh
// injury news or a resync makes the cached horizon stale.
func (c *ProjectionCacheService) InvalidateForecast(ctx context.Context, playerID uint, currentGameweek int) error {
	fullKey := forecastKey(playerID, currentGameweek)
	if err := c.client.Del(ctx, fullKey).Err(); err != nil {
		return fmt.Errorf("failed to delete forecast from cache: %w", err)
	}

	c.logger.WithField("cache_key", fullKey).Debug("Deleted forecast from cache")
	return nil
}

// FlushForecasts clears every cached forecast, used after a batch
// regeneration run.
func (c *ProjectionCacheService) FlushForecasts(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, "forecast:*").Result()
	if err != nil {
		return fmt.Errorf("failed to get forecast keys: %w", err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete forecast keys: %w", err)
		}
	}

	c.logger.WithField("deleted_keys", len(keys)).Info("Flushed forecast cache")
	return nil
}

// GetStatus returns cache statistics
func (c *ProjectionCacheService) GetStatus(ctx context.Context) map[string]interface{} {
	dbSize := c.client.DBSize(ctx)

	status := map[string]interface{}{
		"service":   "projection-cache",
		"timestamp": time.Now(),
		"connected": true,
	}

	if dbSize.Err() == nil {
		status["db_size"] = dbSize.Val()
	}

	forecastKeys, err := c.client.Keys(ctx, "forecast:*").Result()
	if err == nil {
		status["forecast_keys"] = len(forecastKeys)
	}

	return status
}
