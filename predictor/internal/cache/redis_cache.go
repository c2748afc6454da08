package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

// RedisCache - общий для реплик кэш предсказаний. Ошибки Redis логируются
// и считаются промахом: кэш не должен ронять предсказание.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient создает клиента с настройками из конфигурации
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (c *RedisCache) Get(ctx context.Context, model, revision string, x []float64) (models.PredictionResult, bool) {
	data, err := c.client.Get(ctx, Key(model, revision, x)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warnw("Redis cache get failed", "model", model, "error", err)
		}
		return models.PredictionResult{}, false
	}

	var result models.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warnw("Corrupted cache entry", "model", model, "error", err)
		return models.PredictionResult{}, false
	}
	return result, true
}

func (c *RedisCache) Set(ctx context.Context, model, revision string, x []float64, result models.PredictionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warnw("Failed to marshal cache entry", "model", model, "error", err)
		return
	}

	if err := c.client.Set(ctx, Key(model, revision, x), data, c.ttl).Err(); err != nil {
		c.logger.Warnw("Redis cache set failed", "model", model, "error", err)
	}
}

// Ping проверяет доступность Redis при старте
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
