// Package config загружает конфигурацию конвейера и сервиса
// из .env, необязательного YAML-файла и переменных окружения SENSORPREP_*
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sensorprep/internal/models"
)

// ErrInvalidConfig возвращается при недопустимом значении параметра
var ErrInvalidConfig = errors.New("invalid config")

// LagScope область вычисления лагов температуры
type LagScope string

const (
	// LagPerRoom лаги внутри ряда каждой комнаты
	LagPerRoom LagScope = "room"
	// LagGlobal лаги по всей таблице, упорядоченной по времени
	LagGlobal LagScope = "global"
)

// Pipeline параметры конвейера предобработки и инженерии признаков
type Pipeline struct {
	RemoveOutliers        bool
	ApplyRolling          bool
	DateTimeColumn        string
	RollingWindow         time.Duration
	ResampleFrequency     time.Duration
	OutlierContamination  float64
	OutlierEstimators     int
	OutlierSampleRatio    float64
	OutlierSeed           int64
	CompletenessThreshold float64
	LagCount              int
	LagScope              LagScope
	CategoricalFeatures   []string
	Workers               int
}

// Config полная конфигурация сервиса
type Config struct {
	Pipeline Pipeline

	DataDir   string
	OutputCSV string
	LogLevel  string

	ServerAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string
}

// DefaultPipeline возвращает параметры конвейера по умолчанию
func DefaultPipeline() Pipeline {
	return Pipeline{
		RemoveOutliers:        true,
		ApplyRolling:          true,
		DateTimeColumn:        "date_time",
		RollingWindow:         2 * time.Hour,
		ResampleFrequency:     60 * time.Minute,
		OutlierContamination:  0.075,
		OutlierEstimators:     100,
		OutlierSampleRatio:    0.8,
		OutlierSeed:           42,
		CompletenessThreshold: 0.9,
		LagCount:              3,
		LagScope:              LagPerRoom,
		CategoricalFeatures:   []string{"room_number", "color", "season"},
		Workers:               runtime.NumCPU(),
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultPipeline()
	v.SetDefault("remove_outliers", d.RemoveOutliers)
	v.SetDefault("apply_rolling", d.ApplyRolling)
	v.SetDefault("date_time_column", d.DateTimeColumn)
	v.SetDefault("rolling_window", "2h")
	v.SetDefault("resample_frequency", "60min")
	v.SetDefault("outlier_contamination", d.OutlierContamination)
	v.SetDefault("outlier_estimators", d.OutlierEstimators)
	v.SetDefault("outlier_sample_ratio", d.OutlierSampleRatio)
	v.SetDefault("outlier_seed", d.OutlierSeed)
	v.SetDefault("completeness_threshold", d.CompletenessThreshold)
	v.SetDefault("lag_count", d.LagCount)
	v.SetDefault("lag_scope", string(d.LagScope))
	v.SetDefault("categorical_features", d.CategoricalFeatures)
	v.SetDefault("workers", d.Workers)

	v.SetDefault("data_dir", "./data")
	v.SetDefault("output_csv", "features.csv")
	v.SetDefault("log_level", "info")
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("clickhouse_addr", "")
	v.SetDefault("clickhouse_db", "sensors")
	v.SetDefault("clickhouse_user", "default")
	v.SetDefault("clickhouse_pass", "")
}

// Load читает конфигурацию. configFile может быть пустым.
func Load(configFile string) (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SENSORPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	window, err := ParseDuration(v.GetString("rolling_window"))
	if err != nil {
		return nil, fmt.Errorf("%w: rolling_window: %v", ErrInvalidConfig, err)
	}
	freq, err := ParseDuration(v.GetString("resample_frequency"))
	if err != nil {
		return nil, fmt.Errorf("%w: resample_frequency: %v", ErrInvalidConfig, err)
	}

	cfg := &Config{
		Pipeline: Pipeline{
			RemoveOutliers:        v.GetBool("remove_outliers"),
			ApplyRolling:          v.GetBool("apply_rolling"),
			DateTimeColumn:        v.GetString("date_time_column"),
			RollingWindow:         window,
			ResampleFrequency:     freq,
			OutlierContamination:  v.GetFloat64("outlier_contamination"),
			OutlierEstimators:     v.GetInt("outlier_estimators"),
			OutlierSampleRatio:    v.GetFloat64("outlier_sample_ratio"),
			OutlierSeed:           v.GetInt64("outlier_seed"),
			CompletenessThreshold: v.GetFloat64("completeness_threshold"),
			LagCount:              v.GetInt("lag_count"),
			LagScope:              LagScope(v.GetString("lag_scope")),
			CategoricalFeatures:   splitList(v.GetStringSlice("categorical_features")),
			Workers:               v.GetInt("workers"),
		},
		DataDir:        v.GetString("data_dir"),
		OutputCSV:      v.GetString("output_csv"),
		LogLevel:       v.GetString("log_level"),
		ServerAddr:     v.GetString("server_addr"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		ClickHouseAddr: v.GetString("clickhouse_addr"),
		ClickHouseDB:   v.GetString("clickhouse_db"),
		ClickHouseUser: v.GetString("clickhouse_user"),
		ClickHousePass: v.GetString("clickhouse_pass"),
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет параметры конвейера
func (p Pipeline) Validate() error {
	switch {
	case p.DateTimeColumn == "":
		return fmt.Errorf("%w: date_time_column is empty", ErrInvalidConfig)
	case p.ResampleFrequency <= 0:
		return fmt.Errorf("%w: resample_frequency must be positive", ErrInvalidConfig)
	case p.ApplyRolling && p.RollingWindow <= 0:
		return fmt.Errorf("%w: rolling_window must be positive", ErrInvalidConfig)
	case p.OutlierContamination <= 0 || p.OutlierContamination > 0.5:
		return fmt.Errorf("%w: outlier_contamination must be in (0, 0.5]", ErrInvalidConfig)
	case p.OutlierEstimators <= 0:
		return fmt.Errorf("%w: outlier_estimators must be positive", ErrInvalidConfig)
	case p.OutlierSampleRatio <= 0 || p.OutlierSampleRatio > 1:
		return fmt.Errorf("%w: outlier_sample_ratio must be in (0, 1]", ErrInvalidConfig)
	case p.CompletenessThreshold <= 0 || p.CompletenessThreshold > 1:
		return fmt.Errorf("%w: completeness_threshold must be in (0, 1]", ErrInvalidConfig)
	case p.LagCount < 0:
		return fmt.Errorf("%w: lag_count must not be negative", ErrInvalidConfig)
	case p.LagScope != LagPerRoom && p.LagScope != LagGlobal:
		return fmt.Errorf("%w: lag_scope must be %q or %q", ErrInvalidConfig, LagPerRoom, LagGlobal)
	}
	for _, f := range p.CategoricalFeatures {
		if !models.IsCategoricalColumn(f) {
			return fmt.Errorf("%w: categorical_features: unknown feature %q, want one of %v",
				ErrInvalidConfig, f, models.CategoricalColumns)
		}
	}
	return nil
}

// splitList раскладывает элементы вида "a,b" из переменных окружения
// на отдельные значения и отбрасывает пустые
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
