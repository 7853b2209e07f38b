package features

import (
	"math"

	"sensorprep/internal/models"
)

// Rates добавляет скорость изменения температуры в секунду
func Rates(t *models.EnrichedTable) (*models.EnrichedTable, error) {
	if err := models.RequireChannels("rate_features", t.Channels, models.Tmp); err != nil {
		return nil, err
	}
	out := *t
	out.Rows = append([]models.EnrichedRow(nil), t.Rows...)
	for i := range out.Rows {
		out.Rows[i].TmpDiffPerSec = PerSecond(out.Rows[i].TmpDiff, out.Rows[i].TimeDiffSec)
	}
	return &out, nil
}

// PerSecond делит разность на интервал. Бесконечность и 0/0 дают 0, пропуск остается пропуском.
func PerSecond(diff, seconds float64) float64 {
	if math.IsNaN(diff) || math.IsNaN(seconds) {
		return math.NaN()
	}
	v := diff / seconds
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
