package clean

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensorprep/internal/models"
)

func rawTable(columns []string, rows ...[]string) *models.RawTable {
	t := &models.RawTable{Columns: columns}
	for _, r := range rows {
		row := make(models.RawRow, len(columns))
		for i, c := range columns {
			row[c] = r[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func TestIncomplete(t *testing.T) {
	assert.False(t, Incomplete(9, 10, 0.9), "exactly at the threshold is kept")
	assert.True(t, Incomplete(10, 10, 0.9))
	assert.False(t, Incomplete(1, 4, 0.25))
	assert.True(t, Incomplete(2, 4, 0.25))
	assert.True(t, Incomplete(0, 0, 0.9))
}

func TestDropIncomplete(t *testing.T) {
	raw := rawTable(
		[]string{"date_time", "device_id", "tmp", "hum", "CO2"},
		[]string{"2023-01-01 10:00:00", "x-a017", "21", "40", "500"},
		[]string{"2023-01-01 10:01:00", "", "nan", "NA", "None"},
		[]string{"", "", "", "", ""},
	)
	c := NewCleaner(zap.NewNop(), "", 0.5)

	out := c.DropIncomplete(raw)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "x-a017", out.Rows[0]["device_id"])
}

func TestCoerce(t *testing.T) {
	raw := rawTable(
		[]string{"date_time", "device_id", "tmp", "CO2", "WIFI", "snr", "gateway"},
		[]string{"2023-01-01 10:00:00", "hka-aqm-a017", "21,5", "450", "", "-7.25", "gw1"},
		[]string{"not a time", "hka-aqm-a017", "21", "450", "3", "1", "gw1"},
		[]string{"2023-01-01T10:05:00Z", "hka-aqm-a017", "bad", "460", "2", "1", "gw2"},
	)
	c := NewCleaner(nil, "date_time", 0.9)

	out, err := c.Coerce(raw)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	assert.True(t, out.Schema.Channels.Has(models.Tmp))
	assert.True(t, out.Schema.Channels.Has(models.SNR))
	assert.False(t, out.Schema.Channels.Has(models.Hum))
	assert.True(t, out.Schema.HasDevice)
	assert.Equal(t, []string{"gateway"}, out.Schema.Transport)

	first := out.Rows[0]
	assert.Equal(t, time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, 21.5, first.Values.Get(models.Tmp), "decimal comma")
	assert.Equal(t, 0.0, first.Values.Get(models.WIFI), "missing counter is zero")
	assert.Equal(t, -7.25, first.Values.Get(models.SNR))
	assert.True(t, math.IsNaN(first.Values.Get(models.Hum)), "absent channel is NaN")
	assert.True(t, math.IsNaN(out.Rows[1].Values.Get(models.Tmp)))
	assert.Equal(t, "gw2", out.Rows[1].Transport["gateway"])
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, 21.5, ParseNumber("21.5"))
	assert.Equal(t, 21.5, ParseNumber(" 21,5 "))
	for _, s := range []string{"", "nan", "None", "bad", "inf", "+Inf", "-inf", "Infinity", "1e400"} {
		assert.True(t, math.IsNaN(ParseNumber(s)), "%q", s)
	}
}

func TestCoerce_InfinityIsMissing(t *testing.T) {
	raw := rawTable(
		[]string{"date_time", "device_id", "tmp", "CO2"},
		[]string{"2023-01-01 10:00:00", "hka-aqm-a017", "21", "inf"},
	)

	out, err := NewCleaner(nil, "date_time", 0.9).Coerce(raw)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.True(t, math.IsNaN(out.Rows[0].Values.Get(models.CO2)))
}

func TestCoerce_MissingTimestampColumn(t *testing.T) {
	raw := rawTable([]string{"time", "tmp"}, []string{"2023-01-01 10:00:00", "21"})

	_, err := NewCleaner(nil, "date_time", 0.9).Coerce(raw)
	assert.True(t, errors.Is(err, ErrMissingTimestamp))
}

func TestRoomAndBuilding(t *testing.T) {
	tests := []struct {
		device, room, building string
	}{
		{"hka-aqm-a017", "a017", "a"},
		{"hka-aqm-ama112", "ama112", "am"},
		{"hka-aqm-amb3", "amb3", "am"},
		{"hka-aqm-bb201", "bb201", "b"},
		{"hka-aqm-eu05", "eu05", "e"},
		{"hka-aqm-fu1", "fu1", "f"},
		{"hka-aqm-lie2", "lie2", "li"},
		{"hka-aqm-mu101", "mu101", "m"},
		{"hka-aqm-x9", "x9", "x"},
		{"single", "single", "single"},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			room := RoomFromDevice(tt.device)
			assert.Equal(t, tt.room, room)
			assert.Equal(t, tt.building, BuildingFromRoom(room))
		})
	}
}

func reading(ts time.Time, room string, set map[models.Channel]float64) models.Reading {
	v := models.EmptyValues()
	for ch, x := range set {
		v.Set(ch, x)
	}
	return models.Reading{Timestamp: ts, Room: room, Values: v}
}

func TestExtractIdentity_KeepsRoomWithoutDevice(t *testing.T) {
	ts := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	in := &models.ReadingTable{
		Schema: models.Schema{HasRoom: true},
		Rows:   []models.Reading{reading(ts, "lib4", nil)},
	}

	out := NewCleaner(nil, "", 0).ExtractIdentity(in)
	assert.Equal(t, "lib4", out.Rows[0].Room)
	assert.Equal(t, "li", out.Rows[0].Building)
	assert.True(t, out.Schema.HasBuilding)
}

func TestDeduplicate(t *testing.T) {
	ts := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	in := &models.ReadingTable{Rows: []models.Reading{
		reading(ts, "a1", map[models.Channel]float64{models.Tmp: 20}),
		reading(ts, "a1", map[models.Channel]float64{models.Tmp: 25}),
		reading(ts, "a2", map[models.Channel]float64{models.Tmp: 22}),
		reading(ts.Add(time.Minute), "a1", map[models.Channel]float64{models.Tmp: 21}),
	}}

	out := NewCleaner(nil, "", 0).Deduplicate(in)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, 20.0, out.Rows[0].Values.Get(models.Tmp), "first row wins")

	seen := map[string]bool{}
	for _, r := range out.Rows {
		key := r.Room + r.Timestamp.String()
		assert.False(t, seen[key], "duplicate (timestamp, room)")
		seen[key] = true
	}
}

func TestClean_EndToEnd(t *testing.T) {
	raw := rawTable(
		[]string{"date_time", "device_id", "tmp", "CO2", "f_cnt", "spreading_factor"},
		[]string{"2023-01-01 10:00:00", "hka-aqm-a017", "21", "450", "1", "7"},
		[]string{"2023-01-01 10:00:00", "hka-aqm-a017", "21", "450", "2", "7"},
	)

	out, err := NewCleaner(nil, "date_time", 0.9).Clean(raw)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Empty(t, out.Schema.Transport)
	assert.False(t, out.Schema.HasDevice)
	assert.Nil(t, out.Rows[0].Transport)
	assert.Empty(t, out.Rows[0].DeviceID)
	assert.Equal(t, "a017", out.Rows[0].Room)
	assert.Equal(t, "a", out.Rows[0].Building)
}
