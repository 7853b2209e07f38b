package clean

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensorprep/internal/models"
)

var allCore = models.NewChannelSet(models.CO2, models.VOC, models.Tmp, models.Hum, models.BLE)

func good(ts time.Time, room string) models.Reading {
	return reading(ts, room, map[models.Channel]float64{
		models.CO2: 500, models.VOC: 100, models.Tmp: 21, models.Hum: 40, models.BLE: 3,
	})
}

func with(r models.Reading, ch models.Channel, x float64) models.Reading {
	r.Values.Set(ch, x)
	return r
}

func TestValidator_StaticRules(t *testing.T) {
	base := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		row  models.Reading
		keep bool
	}{
		{"plausible", good(base, "a1"), true},
		{"humidity above 100", with(good(base, "a1"), models.Hum, 101), false},
		{"humidity at 100", with(good(base, "a1"), models.Hum, 100), true},
		{"negative humidity", with(good(base, "a1"), models.Hum, -1), false},
		{"too cold", with(good(base, "a1"), models.Tmp, 9.9), false},
		{"too hot", with(good(base, "a1"), models.Tmp, 50.1), false},
		{"temperature NaN", with(good(base, "a1"), models.Tmp, math.NaN()), false},
		{"VOC ratio at limit", with(good(base, "a1"), models.VOC, 5000), false},
		{"CO2 zero", with(good(base, "a1"), models.CO2, 0), false},
		{"VOC zero", with(good(base, "a1"), models.VOC, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &models.ReadingTable{Schema: models.Schema{Channels: allCore}, Rows: []models.Reading{tt.row}}
			out := NewValidator(zap.NewNop()).Filter(in)
			assert.Equal(t, tt.keep, out.Len() == 1)
		})
	}
}

func TestValidator_RangesHold(t *testing.T) {
	base := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	var rows []models.Reading
	for i := 0; i < 50; i++ {
		r := good(base.Add(time.Duration(i)*5*time.Minute), "a1")
		r.Values.Set(models.Tmp, float64(i))
		r.Values.Set(models.Hum, float64(i*3))
		rows = append(rows, r)
	}
	out := NewValidator(nil).Filter(&models.ReadingTable{Schema: models.Schema{Channels: allCore}, Rows: rows})

	require.NotZero(t, out.Len())
	for _, r := range out.Rows {
		assert.GreaterOrEqual(t, r.Values.Get(models.Tmp), MinTemperature)
		assert.LessOrEqual(t, r.Values.Get(models.Tmp), MaxTemperature)
		assert.GreaterOrEqual(t, r.Values.Get(models.Hum), MinHumidity)
		assert.LessOrEqual(t, r.Values.Get(models.Hum), MaxHumidity)
		assert.Less(t, r.Values.Get(models.VOC)/r.Values.Get(models.CO2), MaxVOCToCO2Ratio)
	}
}

func TestValidator_FastRise(t *testing.T) {
	base := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := []models.Reading{
		good(base, "a1"),
		with(good(base.Add(30*time.Second), "a1"), models.CO2, 1600), // +1100 within 30s
		with(good(base.Add(2*time.Minute), "a1"), models.CO2, 2700),  // +1100 after 90s
		// another room is not compared with a1
		with(good(base.Add(10*time.Second), "b1"), models.CO2, 1500),
	}

	out := NewValidator(nil).Filter(&models.ReadingTable{Schema: models.Schema{Channels: allCore}, Rows: rows})
	require.Equal(t, 3, out.Len())
	for _, r := range out.Rows {
		assert.NotEqual(t, 1600.0, r.Values.Get(models.CO2))
	}
}

func TestValidator_FrozenSensor(t *testing.T) {
	base := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	frozen := func(ts time.Time) models.Reading {
		r := good(ts, "a1")
		r.Values.Set(models.CO2, 25000)
		r.Values.Set(models.VOC, 1000)
		return r
	}
	rows := []models.Reading{
		frozen(base),
		frozen(base.Add(5 * time.Minute)),
		with(frozen(base.Add(10*time.Minute)), models.Tmp, 22),
	}

	out := NewValidator(nil).Filter(&models.ReadingTable{Schema: models.Schema{Channels: allCore}, Rows: rows})
	require.Equal(t, 2, out.Len())
	assert.Equal(t, base, out.Rows[0].Timestamp, "first sample has no predecessor")
	assert.Equal(t, 22.0, out.Rows[1].Values.Get(models.Tmp))
}

func TestValidator_SkipsRulesForMissingChannels(t *testing.T) {
	base := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := []models.Reading{
		reading(base, "a1", map[models.Channel]float64{models.Tmp: 60}),
		reading(base, "a2", map[models.Channel]float64{models.Tmp: 20}),
	}
	in := &models.ReadingTable{Schema: models.Schema{Channels: models.NewChannelSet(models.Tmp)}, Rows: rows}

	out := NewValidator(nil).Filter(in)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "a2", out.Rows[0].Room)
	assert.Equal(t, 2, in.Len(), "input is not modified")
}
