package clean

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"sensorprep/internal/logging"
	"sensorprep/internal/metrics"
	"sensorprep/internal/models"
)

// Пороги правил проверки допустимости
const (
	MinHumidity       = 0.0
	MaxHumidity       = 100.0
	MinTemperature    = 10.0
	MaxTemperature    = 50.0
	MaxVOCToCO2Ratio  = 10.0
	MaxJump           = 1000.0
	JumpWindow        = 60 * time.Second
	FrozenCO2Boundary = 20000.0
)

// rule одно правило проверки. Ровно одно из keep и keepDiff задано:
// keepDiff сравнивает строку с предыдущей по времени строкой той же комнаты.
type rule struct {
	name     string
	needs    []models.Channel
	keep     func(r *models.Reading) bool
	keepDiff func(cur, prev *models.Reading) bool
}

// Validator удаляет физически недопустимые показания и признаки сбоя датчика
type Validator struct {
	log   *zap.Logger
	rules []rule
}

// NewValidator создает фильтр с правилами в фиксированном порядке
func NewValidator(log *zap.Logger) *Validator {
	return &Validator{log: logging.OrNop(log), rules: defaultRules()}
}

func defaultRules() []rule {
	return []rule{
		{
			name:  "humidity_range",
			needs: []models.Channel{models.Hum},
			keep: func(r *models.Reading) bool {
				h := r.Values.Get(models.Hum)
				return h >= MinHumidity && h <= MaxHumidity
			},
		},
		{
			name:  "temperature_range",
			needs: []models.Channel{models.Tmp},
			keep: func(r *models.Reading) bool {
				t := r.Values.Get(models.Tmp)
				return t >= MinTemperature && t <= MaxTemperature
			},
		},
		{
			name:  "voc_co2_ratio",
			needs: []models.Channel{models.VOC, models.CO2},
			keep: func(r *models.Reading) bool {
				co2 := r.Values.Get(models.CO2)
				// CO2 = 0 отбрасывается до деления
				if co2 == 0 || math.IsNaN(co2) {
					return false
				}
				return r.Values.Get(models.VOC)/co2 < MaxVOCToCO2Ratio
			},
		},
		{
			name:     "fast_rise",
			needs:    []models.Channel{models.VOC, models.CO2},
			keepDiff: keepWithoutFastRise,
		},
		{
			name:  "zero_values",
			needs: []models.Channel{models.CO2, models.VOC, models.Tmp, models.Hum},
			keep: func(r *models.Reading) bool {
				for _, ch := range []models.Channel{models.CO2, models.VOC, models.Tmp, models.Hum} {
					if r.Values.Get(ch) == 0 {
						return false
					}
				}
				return true
			},
		},
		{
			name:     "frozen_sensor",
			needs:    []models.Channel{models.CO2, models.VOC, models.BLE, models.Tmp},
			keepDiff: keepWithoutFrozenSensor,
		},
	}
}

func keepWithoutFastRise(cur, prev *models.Reading) bool {
	if prev == nil || cur.Timestamp.Sub(prev.Timestamp) >= JumpWindow {
		return true
	}
	for _, ch := range []models.Channel{models.VOC, models.CO2} {
		if cur.Values.Get(ch)-prev.Values.Get(ch) >= MaxJump {
			return false
		}
	}
	return true
}

func keepWithoutFrozenSensor(cur, prev *models.Reading) bool {
	if prev == nil || !(cur.Values.Get(models.CO2) > FrozenCO2Boundary) {
		return true
	}
	for _, ch := range []models.Channel{models.VOC, models.BLE, models.Tmp} {
		if cur.Values.Get(ch)-prev.Values.Get(ch) != 0 {
			return true
		}
	}
	return false
}

// Filter применяет правила по порядку; правило, чьего канала нет в схеме, пропускается
func (v *Validator) Filter(t *models.ReadingTable) *models.ReadingTable {
	rows := append([]models.Reading(nil), t.Rows...)
	for _, r := range v.rules {
		if err := models.RequireChannels(r.name, t.Schema.Channels, r.needs...); err != nil {
			v.log.Warn("skipping validity rule", zap.String("rule", r.name), zap.Error(err))
			continue
		}
		before := len(rows)
		if r.keep != nil {
			rows = applyStatic(rows, r.keep)
		} else {
			rows = applyDiff(rows, r.keepDiff)
		}
		if removed := before - len(rows); removed > 0 {
			metrics.RowsRejected.WithLabelValues(r.name).Add(float64(removed))
			v.log.Debug("validity rule removed rows", zap.String("rule", r.name), zap.Int("removed", removed))
		}
	}
	return t.WithRows(rows)
}

func applyStatic(rows []models.Reading, keep func(*models.Reading) bool) []models.Reading {
	out := make([]models.Reading, 0, len(rows))
	for i := range rows {
		if keep(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

// applyDiff сравнивает каждую строку с предыдущей по времени строкой той же комнаты.
// Порядок оставшихся строк сохраняется.
func applyDiff(rows []models.Reading, keep func(cur, prev *models.Reading) bool) []models.Reading {
	byRoom := make(map[string][]int)
	for i := range rows {
		byRoom[rows[i].Room] = append(byRoom[rows[i].Room], i)
	}
	drop := make([]bool, len(rows))
	for _, idx := range byRoom {
		sort.SliceStable(idx, func(a, b int) bool {
			return rows[idx[a]].Timestamp.Before(rows[idx[b]].Timestamp)
		})
		var prev *models.Reading
		for _, i := range idx {
			if !keep(&rows[i], prev) {
				drop[i] = true
			}
			prev = &rows[i]
		}
	}
	out := make([]models.Reading, 0, len(rows))
	for i := range rows {
		if !drop[i] {
			out = append(out, rows[i])
		}
	}
	return out
}

func nan() float64 {
	return math.NaN()
}
