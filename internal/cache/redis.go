// Package cache реализует кэширование результатов запусков в Redis
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"sensorprep/internal/models"
	"sensorprep/internal/pipeline"
)

const (
	// SummaryKeyPrefix префикс для итогов запусков
	SummaryKeyPrefix = "run:summary:"
	// MatrixKeyPrefix префикс для матриц признаков
	MatrixKeyPrefix = "run:matrix:"
	// LatestRunsKey список последних запусков
	LatestRunsKey = "runs:latest"
	// RunsCounterKey счетчик запусков
	RunsCounterKey = "runs:total"
	// DefaultTTL время жизни итога запуска
	DefaultTTL = 24 * time.Hour
	// MatrixTTL время жизни матрицы признаков
	MatrixTTL = 6 * time.Hour
	// maxLatestRuns сколько запусков хранится в списке последних
	maxLatestRuns = 100
)

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx := context.Background()

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ctx:    ctx,
	}, nil
}

// SaveRun сохраняет итог запуска и его матрицу признаков
func (r *RedisCache) SaveRun(summary pipeline.Summary, matrix *models.FeatureMatrix) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(r.ctx, SummaryKeyPrefix+summary.RunID, data, DefaultTTL)
	pipe.LPush(r.ctx, LatestRunsKey, summary.RunID)
	pipe.LTrim(r.ctx, LatestRunsKey, 0, maxLatestRuns-1)
	pipe.Incr(r.ctx, RunsCounterKey)
	if matrix != nil {
		m, err := json.Marshal(matrix)
		if err != nil {
			return fmt.Errorf("failed to marshal feature matrix: %w", err)
		}
		pipe.Set(r.ctx, MatrixKeyPrefix+summary.RunID, m, MatrixTTL)
	}

	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to cache run: %w", err)
	}
	return nil
}

// GetSummary возвращает итог запуска. Второе значение false, если записи нет.
func (r *RedisCache) GetSummary(runID string) (*pipeline.Summary, bool, error) {
	var s pipeline.Summary
	ok, err := r.get(SummaryKeyPrefix+runID, &s)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &s, true, nil
}

// GetMatrix возвращает матрицу признаков запуска
func (r *RedisCache) GetMatrix(runID string) (*models.FeatureMatrix, bool, error) {
	var m models.FeatureMatrix
	ok, err := r.get(MatrixKeyPrefix+runID, &m)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &m, true, nil
}

// LatestRunIDs возвращает идентификаторы последних count запусков
func (r *RedisCache) LatestRunIDs(count int64) ([]string, error) {
	ids, err := r.client.LRange(r.ctx, LatestRunsKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest runs: %w", err)
	}
	return ids, nil
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(key string) (int64, error) {
	val, err := r.client.Get(r.ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (r *RedisCache) get(key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(r.ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
