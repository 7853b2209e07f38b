// Package metrics реализует экспорт метрик конвейера в Prometheus
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество HTTP запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorprep_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность HTTP запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorprep_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"endpoint", "method"},
	)

	// FilesRead количество успешно прочитанных файлов
	FilesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorprep_files_read_total",
			Help: "Total number of raw sensor files parsed",
		},
	)

	// FilesFailed количество файлов, которые не удалось разобрать
	FilesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorprep_files_failed_total",
			Help: "Total number of raw sensor files skipped after a parse failure",
		},
	)

	// StageRows количество строк на входе и выходе этапов
	StageRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorprep_stage_rows_total",
			Help: "Rows entering and leaving each pipeline stage",
		},
		[]string{"stage", "direction"},
	)

	// StageDuration длительность этапов конвейера
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorprep_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 30, 120},
		},
		[]string{"stage"},
	)

	// RowsRejected строки, отброшенные правилами проверки
	RowsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorprep_rows_rejected_total",
			Help: "Rows removed by plausibility rules",
		},
		[]string{"rule"},
	)

	// OutliersRemoved строки, отброшенные изолирующим лесом
	OutliersRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorprep_outliers_removed_total",
			Help: "Rows removed by the isolation forest",
		},
	)

	// PipelineRuns количество запусков конвейера по результату
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorprep_pipeline_runs_total",
			Help: "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// FeatureRows размер последней матрицы признаков
	FeatureRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorprep_feature_rows",
			Help: "Rows in the most recent feature matrix",
		},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorprep_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorprep_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)
)

// ObserveStage записывает размер входа и выхода этапа и его длительность
func ObserveStage(stage string, in, out int, started time.Time) {
	StageRows.WithLabelValues(stage, "in").Add(float64(in))
	StageRows.WithLabelValues(stage, "out").Add(float64(out))
	StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}
