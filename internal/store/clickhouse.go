// Package store сохраняет матрицы признаков в ClickHouse и CSV
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"sensorprep/internal/logging"
	"sensorprep/internal/models"
)

// FeatureTable таблица значений признаков в длинном формате
const FeatureTable = "feature_values"

const createFeatureTable = `
	CREATE TABLE IF NOT EXISTS ` + FeatureTable + ` (
		run_id      String,
		room_number LowCardinality(String),
		date_time   DateTime64(3, 'UTC'),
		feature     LowCardinality(String),
		value       Float64
	) ENGINE = MergeTree()
	ORDER BY (run_id, room_number, date_time, feature)
`

// insertBatchSize строк в одной пачке вставки
const insertBatchSize = 50000

// LongRow одно значение признака
type LongRow struct {
	RunID     string
	Room      string
	Timestamp time.Time
	Feature   string
	Value     float64
}

// LongRows разворачивает матрицу в строки (запуск, комната, время, признак, значение)
func LongRows(runID string, m *models.FeatureMatrix) []LongRow {
	out := make([]LongRow, 0, m.Len()*len(m.Columns))
	for i, key := range m.Keys {
		for j, col := range m.Columns {
			out = append(out, LongRow{
				RunID:     runID,
				Room:      key.Room,
				Timestamp: key.Timestamp,
				Feature:   col,
				Value:     m.Rows[i][j],
			})
		}
	}
	return out
}

// ClickHouseSink пишет матрицы признаков в ClickHouse
type ClickHouseSink struct {
	conn driver.Conn
	log  *zap.Logger
}

// NewClickHouseSink подключается к ClickHouse и создает схему
func NewClickHouseSink(ctx context.Context, addr, database, username, password string, log *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &ClickHouseSink{conn: conn, log: logging.OrNop(log)}
	if err := s.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.log.Info("connected to ClickHouse", zap.String("addr", addr), zap.String("database", database))
	return s, nil
}

// InitSchema создает таблицу признаков, если ее нет
func (s *ClickHouseSink) InitSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createFeatureTable); err != nil {
		return fmt.Errorf("failed to create %s: %w", FeatureTable, err)
	}
	return nil
}

// WriteMatrix сохраняет матрицу запуска пачками
func (s *ClickHouseSink) WriteMatrix(ctx context.Context, runID string, m *models.FeatureMatrix) error {
	rows := LongRows(runID, m)
	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+FeatureTable)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, r := range rows[start:end] {
			if err := batch.Append(r.RunID, r.Room, r.Timestamp, r.Feature, r.Value); err != nil {
				return fmt.Errorf("failed to append feature value: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to insert feature values: %w", err)
		}
	}
	s.log.Info("stored feature matrix",
		zap.String("run_id", runID),
		zap.Int("rows", m.Len()),
		zap.Int("values", len(rows)),
	)
	return nil
}

// Close закрывает соединение
func (s *ClickHouseSink) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	return nil
}
