package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"sensorprep/internal/logging"
	"sensorprep/internal/models"
)

// ErrUnknownCategorical категориальный признак не поддерживается
var ErrUnknownCategorical = errors.New("unknown categorical feature")

// modelChannels каналы, остающиеся входами модели, в порядке столбцов матрицы
var modelChannels = []models.Channel{models.Tmp, models.Hum, models.CO2, models.Vis}

// Options параметры сборки матрицы
type Options struct {
	LagCount    int
	GlobalLags  bool
	Categorical []string
}

// Engineer собирает матрицу признаков
type Engineer struct {
	log  *zap.Logger
	opts Options
}

// NewEngineer создает сборщик матрицы признаков
func NewEngineer(log *zap.Logger, opts Options) *Engineer {
	return &Engineer{log: logging.OrNop(log), opts: opts}
}

// LagColumn имя k-го лага температуры
func LagColumn(k int) string {
	return fmt.Sprintf("tmp-%d", k)
}

// Cyclical кодирует периодическое значение парой синус/косинус
func Cyclical(value, period float64) (float64, float64) {
	angle := 2 * math.Pi * value / period
	return math.Sin(angle), math.Cos(angle)
}

func categoryOf(r *models.EnrichedRow, feature string) string {
	switch feature {
	case models.ColumnRoom:
		return r.Room
	case models.ColumnBuilding:
		return r.Building
	case models.ColumnColor:
		return string(r.Color)
	case models.ColumnSeason:
		return string(models.SeasonOf(r.Timestamp))
	}
	return ""
}

// Build строит матрицу: каналы модели, tmp_diff, год, лаги, циклические поля, one-hot.
// Строки с пропуском в любом столбце отбрасываются, порядок строк по комнате, затем по времени.
func (e *Engineer) Build(t *models.EnrichedTable) (*models.FeatureMatrix, error) {
	if err := models.RequireChannels("feature_engineering", t.Channels, models.Tmp); err != nil {
		return nil, err
	}
	for _, f := range e.opts.Categorical {
		if !models.IsCategoricalColumn(f) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategorical, f)
		}
	}
	if e.opts.LagCount < 0 {
		return nil, fmt.Errorf("lag count must not be negative, got %d", e.opts.LagCount)
	}

	rows := append([]models.EnrichedRow(nil), t.Rows...)
	sortRows(rows)
	lags := e.lags(rows)

	var channels []models.Channel
	for _, ch := range modelChannels {
		if t.Channels.Has(ch) {
			channels = append(channels, ch)
		}
	}
	columns := make([]string, 0, len(channels)+2+e.opts.LagCount+6)
	for _, ch := range channels {
		columns = append(columns, ch.String())
	}
	columns = append(columns, ColumnTmpDiff, ColumnYear)
	for k := 1; k <= e.opts.LagCount; k++ {
		columns = append(columns, LagColumn(k))
	}
	columns = append(columns,
		"hour_sin", "hour_cos",
		"day_of_week_sin", "day_of_week_cos",
		"month_sin", "month_cos",
	)

	// Категории собираются по всем строкам до отбрасывания неполных
	type oneHot struct {
		feature    string
		categories []string
	}
	var encodings []oneHot
	for _, f := range e.opts.Categorical {
		seen := make(map[string]struct{})
		for i := range rows {
			if c := categoryOf(&rows[i], f); c != "" {
				seen[c] = struct{}{}
			}
		}
		cats := make([]string, 0, len(seen))
		for c := range seen {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		encodings = append(encodings, oneHot{feature: f, categories: cats})
		for _, c := range cats {
			columns = append(columns, f+"_"+c)
		}
	}

	m := &models.FeatureMatrix{Columns: columns}
	dropped := 0
	for i := range rows {
		r := &rows[i]
		vec := make([]float64, 0, len(columns))
		for _, ch := range channels {
			vec = append(vec, r.Values.Get(ch))
		}
		vec = append(vec, r.TmpDiff, float64(r.Year))
		for k := 0; k < e.opts.LagCount; k++ {
			vec = append(vec, lags[k][i])
		}
		hs, hc := Cyclical(float64(r.Hour), 24)
		ds, dc := Cyclical(float64(r.DayOfWeek), 7)
		ms, mc := Cyclical(float64(r.Month), 12)
		vec = append(vec, hs, hc, ds, dc, ms, mc)
		for _, enc := range encodings {
			value := categoryOf(r, enc.feature)
			for _, c := range enc.categories {
				if value == c {
					vec = append(vec, 1)
				} else {
					vec = append(vec, 0)
				}
			}
		}
		if hasNaN(vec) {
			dropped++
			continue
		}
		m.Keys = append(m.Keys, models.RowKey{Room: r.Room, Timestamp: r.Timestamp})
		m.Rows = append(m.Rows, vec)
	}

	e.log.Info("built feature matrix",
		zap.Int("rows", m.Len()),
		zap.Int("columns", len(m.Columns)),
		zap.Int("dropped", dropped),
		zap.Bool("global_lags", e.opts.GlobalLags),
	)
	return m, nil
}

// lags возвращает lags[k-1][i] = температура k строк назад.
// По умолчанию сдвиг внутри комнаты, при GlobalLags по всей таблице в порядке времени.
func (e *Engineer) lags(rows []models.EnrichedRow) [][]float64 {
	lags := make([][]float64, e.opts.LagCount)
	for k := range lags {
		lags[k] = make([]float64, len(rows))
		for i := range lags[k] {
			lags[k][i] = math.NaN()
		}
	}
	if e.opts.LagCount == 0 {
		return lags
	}

	if e.opts.GlobalLags {
		order := make([]int, len(rows))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return rows[order[a]].Timestamp.Before(rows[order[b]].Timestamp)
		})
		for p, i := range order {
			for k := 1; k <= e.opts.LagCount && p-k >= 0; k++ {
				lags[k-1][i] = rows[order[p-k]].Values.Get(models.Tmp)
			}
		}
		return lags
	}

	for _, s := range roomSpans(rows) {
		for i := s.start; i < s.end; i++ {
			for k := 1; k <= e.opts.LagCount && i-k >= s.start; k++ {
				lags[k-1][i] = rows[i-k].Values.Get(models.Tmp)
			}
		}
	}
	return lags
}

func hasNaN(vec []float64) bool {
	for _, v := range vec {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
