// Package outlier удаляет многомерные выбросы изолирующим лесом
package outlier

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"sensorprep/internal/analytics"
	"sensorprep/internal/logging"
	"sensorprep/internal/metrics"
	"sensorprep/internal/models"
)

const stage = "outlier_detection"

// Channels каналы, по которым строится лес
var Channels = []models.Channel{models.CO2, models.Tmp, models.Vis, models.Hum, models.VOC}

// Params параметры детектора
type Params struct {
	Estimators    int
	SampleRatio   float64
	Contamination float64
	Seed          int64
}

// DefaultParams параметры по умолчанию
func DefaultParams() Params {
	return Params{Estimators: 100, SampleRatio: 0.8, Contamination: 0.075, Seed: 42}
}

// Detector удаляет строки с отрицательной оценкой изолирующего леса
type Detector struct {
	log    *zap.Logger
	params Params
}

// NewDetector создает детектор
func NewDetector(log *zap.Logger, params Params) *Detector {
	return &Detector{log: logging.OrNop(log), params: params}
}

// Scores обучает лес и возвращает оценку для каждой строки.
// Строки с пропуском в одном из каналов в обучении не участвуют и получают 0.
func (d *Detector) Scores(t *models.ReadingTable) ([]float64, error) {
	if err := models.RequireChannels(stage, t.Schema.Channels, Channels...); err != nil {
		return nil, err
	}

	scores := make([]float64, t.Len())
	var (
		rows [][]float64
		idx  []int
	)
	for i, r := range t.Rows {
		x, ok := vector(r.Values)
		if !ok {
			continue
		}
		rows = append(rows, x)
		idx = append(idx, i)
	}
	if len(rows) < 2 {
		d.log.Warn("too few complete rows for outlier detection", zap.Int("rows", len(rows)))
		return scores, nil
	}

	forest, err := analytics.FitIsolationForest(rows, analytics.ForestParams{
		Estimators:    d.params.Estimators,
		SampleSize:    int(d.params.SampleRatio * float64(len(rows))),
		Contamination: d.params.Contamination,
		Seed:          d.params.Seed,
	})
	if err != nil {
		if errors.Is(err, analytics.ErrTooFewSamples) {
			return scores, nil
		}
		return nil, fmt.Errorf("fit isolation forest: %w", err)
	}
	d.log.Debug("fitted isolation forest",
		zap.Int("rows", len(rows)),
		zap.Int("estimators", d.params.Estimators),
		zap.Float64("offset", forest.Offset()),
	)
	for j, x := range rows {
		scores[idx[j]] = forest.Decision(x)
	}
	return scores, nil
}

// Remove возвращает таблицу без строк с отрицательной оценкой
func (d *Detector) Remove(t *models.ReadingTable) (*models.ReadingTable, error) {
	scores, err := d.Scores(t)
	if err != nil {
		return nil, err
	}
	out := t.WithRows(make([]models.Reading, 0, t.Len()))
	for i, r := range t.Rows {
		if scores[i] >= 0 {
			out.Rows = append(out.Rows, r)
		}
	}
	removed := t.Len() - out.Len()
	metrics.OutliersRemoved.Add(float64(removed))
	d.log.Info("removed outliers",
		zap.Int("removed", removed),
		zap.Int("rows", t.Len()),
		zap.Float64("contamination", d.params.Contamination),
	)
	return out, nil
}

func vector(v models.Values) ([]float64, bool) {
	x := make([]float64, len(Channels))
	for i, ch := range Channels {
		x[i] = v.Get(ch)
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return nil, false
		}
	}
	return x, true
}
