// Package features выводит производные признаки из ресемплированных рядов
// и собирает числовую матрицу для моделей прогноза температуры
package features

import (
	"math"
	"sort"

	"sensorprep/internal/models"
)

// Имена производных столбцов
const (
	ColumnTimeDiffSec   = "time_diff_sec"
	ColumnTmpDiff       = "tmp_diff"
	ColumnTmpDiffPerSec = "tmp_diff_per_sec"
	ColumnYear          = "year"
)

type span struct {
	start, end int
}

// sortRows упорядочивает строки по комнате, затем по времени
func sortRows(rows []models.EnrichedRow) {
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Room != rows[b].Room {
			return rows[a].Room < rows[b].Room
		}
		return rows[a].Timestamp.Before(rows[b].Timestamp)
	})
}

// roomSpans возвращает границы комнат в отсортированных строках
func roomSpans(rows []models.EnrichedRow) []span {
	var spans []span
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && rows[j].Room == rows[i].Room {
			j++
		}
		spans = append(spans, span{start: i, end: j})
		i = j
	}
	return spans
}

// Deltas добавляет время с предыдущей строки комнаты и изменение температуры.
// У первой строки комнаты оба значения не определены.
func Deltas(t *models.SeriesTable) (*models.EnrichedTable, error) {
	if err := models.RequireChannels("delta_features", t.Channels, models.Tmp); err != nil {
		return nil, err
	}
	out := &models.EnrichedTable{
		Channels:    t.Channels,
		HasBuilding: t.HasBuilding,
		Frequency:   t.Frequency,
		Rows:        make([]models.EnrichedRow, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = models.EnrichedRow{
			SeriesRow:     r,
			TimeDiffSec:   math.NaN(),
			TmpDiff:       math.NaN(),
			TmpDiffPerSec: math.NaN(),
		}
	}
	sortRows(out.Rows)
	for _, s := range roomSpans(out.Rows) {
		for i := s.start + 1; i < s.end; i++ {
			cur, prev := &out.Rows[i], &out.Rows[i-1]
			cur.TimeDiffSec = cur.Timestamp.Sub(prev.Timestamp).Seconds()
			cur.TmpDiff = zeroInf(cur.Values.Get(models.Tmp) - prev.Values.Get(models.Tmp))
		}
	}
	return out, nil
}

func zeroInf(x float64) float64 {
	if math.IsInf(x, 0) {
		return 0
	}
	return x
}
