package features

import (
	"math"
	"time"

	"sensorprep/internal/models"
)

// DayOfWeek номер дня недели, понедельник = 0
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Enrich добавляет календарные поля и цвет светофора, затем заполняет пропуски:
// разности нулем, каналы и здание обратным, затем прямым заполнением внутри комнаты.
// Цвет вычисляется по уже заполненному CO2.
func Enrich(t *models.EnrichedTable) *models.EnrichedTable {
	out := *t
	out.Rows = append([]models.EnrichedRow(nil), t.Rows...)
	sortRows(out.Rows)

	for i := range out.Rows {
		r := &out.Rows[i]
		ts := r.Timestamp.UTC()
		r.Year = ts.Year()
		r.Month = int(ts.Month())
		r.DayOfWeek = DayOfWeek(ts)
		r.Hour = ts.Hour()
		r.TimeDiffSec = zeroNaN(r.TimeDiffSec)
		r.TmpDiff = zeroNaN(r.TmpDiff)
		r.TmpDiffPerSec = zeroNaN(r.TmpDiffPerSec)
	}

	channels := t.Channels.Channels()
	for _, s := range roomSpans(out.Rows) {
		rows := out.Rows[s.start:s.end]
		for _, ch := range channels {
			fillChannel(rows, ch)
		}
		fillBuilding(rows)
	}

	hasCO2 := t.Channels.Has(models.CO2)
	for i := range out.Rows {
		r := &out.Rows[i]
		if hasCO2 {
			r.Color = models.ColorForCO2(r.Values.Get(models.CO2))
		} else {
			r.Color = models.ColorUnknown
		}
	}
	return &out
}

func zeroNaN(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return x
}

// fillChannel заполняет пропуски следующим значением, а хвост предыдущим
func fillChannel(rows []models.EnrichedRow, ch models.Channel) {
	next := math.NaN()
	for i := len(rows) - 1; i >= 0; i-- {
		v := rows[i].Values.Get(ch)
		if math.IsNaN(v) {
			rows[i].Values.Set(ch, next)
		} else {
			next = v
		}
	}
	prev := math.NaN()
	for i := range rows {
		v := rows[i].Values.Get(ch)
		if math.IsNaN(v) {
			rows[i].Values.Set(ch, prev)
		} else {
			prev = v
		}
	}
}

func fillBuilding(rows []models.EnrichedRow) {
	next := ""
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Building == "" {
			rows[i].Building = next
		} else {
			next = rows[i].Building
		}
	}
	prev := ""
	for i := range rows {
		if rows[i].Building == "" {
			rows[i].Building = prev
		} else {
			prev = rows[i].Building
		}
	}
}
