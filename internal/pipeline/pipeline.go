// Package pipeline связывает этапы предобработки и инженерии признаков
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sensorprep/internal/clean"
	"sensorprep/internal/config"
	"sensorprep/internal/features"
	"sensorprep/internal/ingest"
	"sensorprep/internal/logging"
	"sensorprep/internal/metrics"
	"sensorprep/internal/models"
	"sensorprep/internal/outlier"
	"sensorprep/internal/resample"
)

// Pipeline конвейер: чтение, очистка, выбросы, проверка, ресемплирование, признаки
type Pipeline struct {
	log *zap.Logger
	cfg config.Pipeline

	ingestor  *ingest.Ingestor
	cleaner   *clean.Cleaner
	validator *clean.Validator
	detector  *outlier.Detector
	resampler *resample.Resampler
	engineer  *features.Engineer
}

// New создает конвейер из проверенной конфигурации
func New(cfg config.Pipeline, log *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)
	return &Pipeline{
		log:       log,
		cfg:       cfg,
		ingestor:  ingest.NewIngestor(log, cfg.Workers),
		cleaner:   clean.NewCleaner(log, cfg.DateTimeColumn, cfg.CompletenessThreshold),
		validator: clean.NewValidator(log),
		detector: outlier.NewDetector(log, outlier.Params{
			Estimators:    cfg.OutlierEstimators,
			SampleRatio:   cfg.OutlierSampleRatio,
			Contamination: cfg.OutlierContamination,
			Seed:          cfg.OutlierSeed,
		}),
		resampler: resample.NewResampler(log, resample.Options{
			Frequency: cfg.ResampleFrequency,
			Window:    cfg.RollingWindow,
			Rolling:   cfg.ApplyRolling,
			Workers:   cfg.Workers,
		}),
		engineer: features.NewEngineer(log, features.Options{
			LagCount:    cfg.LagCount,
			GlobalLags:  cfg.LagScope == config.LagGlobal,
			Categorical: cfg.CategoricalFeatures,
		}),
	}, nil
}

// Config возвращает параметры конвейера
func (p *Pipeline) Config() config.Pipeline {
	return p.cfg
}

func noData(stage string, rows int) error {
	if rows == 0 {
		return fmt.Errorf("%s: %w", stage, models.ErrNoData)
	}
	return nil
}

// Preprocess выполняет очистку и предобработку сырой таблицы
func (p *Pipeline) Preprocess(ctx context.Context, raw *models.RawTable) (*models.EnrichedTable, error) {
	started := time.Now()
	complete := p.cleaner.DropIncomplete(raw)
	typed, err := p.cleaner.Coerce(complete)
	if err != nil {
		return nil, fmt.Errorf("coerce: %w", err)
	}
	metrics.ObserveStage("coerce", raw.Len(), typed.Len(), started)
	if err := noData("coerce", typed.Len()); err != nil {
		return nil, err
	}
	return p.PreprocessReadings(ctx, typed)
}

// PreprocessReadings выполняет этапы, начиная с типизированной таблицы.
// Результат предобработки можно снова подать сюда через EnrichedTable.Readings.
func (p *Pipeline) PreprocessReadings(ctx context.Context, t *models.ReadingTable) (*models.EnrichedTable, error) {
	started := time.Now()
	cleaned := p.cleaner.CleanReadings(t)
	metrics.ObserveStage("clean", t.Len(), cleaned.Len(), started)

	if p.cfg.RemoveOutliers {
		started = time.Now()
		in := cleaned.Len()
		var err error
		if cleaned, err = p.detector.Remove(cleaned); err != nil {
			return nil, fmt.Errorf("outlier detection: %w", err)
		}
		metrics.ObserveStage("outliers", in, cleaned.Len(), started)
	}

	started = time.Now()
	valid := p.validator.Filter(cleaned)
	metrics.ObserveStage("validity", cleaned.Len(), valid.Len(), started)
	if err := noData("validity", valid.Len()); err != nil {
		return nil, err
	}

	started = time.Now()
	series, err := p.resampler.Resample(ctx, valid)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("resample", valid.Len(), series.Len(), started)
	if err := noData("resample", series.Len()); err != nil {
		return nil, err
	}

	started = time.Now()
	deltas, err := features.Deltas(series)
	if err != nil {
		return nil, err
	}
	rates, err := features.Rates(deltas)
	if err != nil {
		return nil, err
	}
	enriched := features.Enrich(rates)
	metrics.ObserveStage("enrich", series.Len(), enriched.Len(), started)
	return enriched, nil
}

// Features строит матрицу признаков из результата предобработки
func (p *Pipeline) Features(t *models.EnrichedTable) (*models.FeatureMatrix, error) {
	started := time.Now()
	m, err := p.engineer.Build(t)
	if err != nil {
		return nil, fmt.Errorf("feature engineering: %w", err)
	}
	metrics.ObserveStage("features", t.Len(), m.Len(), started)
	return m, nil
}

// Summary итог запуска конвейера
type Summary struct {
	RunID          string               `json:"run_id"`
	StartedAt      time.Time            `json:"started_at"`
	Duration       time.Duration        `json:"duration"`
	Root           string               `json:"root"`
	FilesRead      int                  `json:"files_read"`
	SkippedLines   int                  `json:"skipped_lines"`
	Failures       []ingest.FileFailure `json:"failures,omitempty"`
	RawRows        int                  `json:"raw_rows"`
	SeriesRows     int                  `json:"series_rows"`
	FeatureRows    int                  `json:"feature_rows"`
	FeatureColumns int                  `json:"feature_columns"`
	Cause          string               `json:"cause,omitempty"`
}

// Result результат запуска: итог и, если данные были, матрица признаков
type Result struct {
	Summary  Summary
	Enriched *models.EnrichedTable
	Matrix   *models.FeatureMatrix
}

// Run читает каталог root и прогоняет весь конвейер.
// Пустой каталог дает результат с причиной, а не ошибку.
func (p *Pipeline) Run(ctx context.Context, root string) (*Result, error) {
	res := &Result{Summary: Summary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Root:      root,
	}}
	log := p.log.With(zap.String("run_id", res.Summary.RunID))
	log.Info("pipeline run started", zap.String("root", root))

	in, err := p.ingestor.Ingest(ctx, root)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ingest %s: %w", root, err)
	}
	res.Summary.FilesRead = in.FilesRead
	res.Summary.SkippedLines = in.SkippedLines
	res.Summary.Failures = in.Failures
	res.Summary.RawRows = in.Table.Len()
	if in.Empty() {
		res.Summary.Cause = in.Cause
		res.Summary.Duration = time.Since(res.Summary.StartedAt)
		metrics.PipelineRuns.WithLabelValues("empty").Inc()
		log.Warn("pipeline run produced no data", zap.String("cause", in.Cause))
		return res, nil
	}

	enriched, err := p.Preprocess(ctx, in.Table)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	matrix, err := p.Features(enriched)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	res.Enriched = enriched
	res.Matrix = matrix
	res.Summary.SeriesRows = enriched.Len()
	res.Summary.FeatureRows = matrix.Len()
	res.Summary.FeatureColumns = len(matrix.Columns)
	res.Summary.Duration = time.Since(res.Summary.StartedAt)

	metrics.FeatureRows.Set(float64(matrix.Len()))
	metrics.PipelineRuns.WithLabelValues("success").Inc()
	log.Info("pipeline run finished",
		zap.Int("raw_rows", res.Summary.RawRows),
		zap.Int("series_rows", res.Summary.SeriesRows),
		zap.Int("feature_rows", res.Summary.FeatureRows),
		zap.Duration("duration", res.Summary.Duration),
	)
	return res, nil
}
