package models

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeasonOf(t *testing.T) {
	tests := []struct {
		date string
		want Season
	}{
		{"2023-01-15", Winter},
		{"2023-03-20", Winter},
		{"2023-03-21", Spring},
		{"2023-06-20", Spring},
		{"2023-06-21", Summer},
		{"2023-09-22", Summer},
		{"2023-09-23", Autumn},
		{"2023-12-20", Autumn},
		{"2023-12-21", Winter},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			d, err := time.Parse("2006-01-02", tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, SeasonOf(d))
		})
	}
}

func TestColorForCO2(t *testing.T) {
	tests := []struct {
		co2  float64
		want AlertColor
	}{
		{400, ColorGreen},
		{849.9, ColorGreen},
		{850, ColorYellow},
		{1199, ColorYellow},
		{1200, ColorRed},
		{1599, ColorRed},
		{1600, ColorRedBlinking},
		{5000, ColorRedBlinking},
		{math.NaN(), ColorUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColorForCO2(tt.co2), "co2=%v", tt.co2)
	}
}

func TestChannelSet(t *testing.T) {
	s := NewChannelSet(Tmp, CO2, SNR)

	assert.True(t, s.Has(CO2))
	assert.True(t, s.Has(SNR))
	assert.False(t, s.Has(VOC))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []Channel{CO2, Tmp, SNR}, s.Channels(), "canonical order")

	s = s.With(VOC)
	assert.True(t, s.Has(VOC))
}

func TestParseChannel(t *testing.T) {
	for _, ch := range AllChannels() {
		got, ok := ParseChannel(ch.String())
		require.True(t, ok, ch.String())
		assert.Equal(t, ch, got)
	}
	_, ok := ParseChannel("gateway")
	assert.False(t, ok)
	_, ok = ParseChannel("TMP")
	assert.False(t, ok, "column names are case sensitive")
}

func TestRequireChannels(t *testing.T) {
	err := RequireChannels("outlier_detection", NewChannelSet(CO2, Tmp), CO2, Tmp, Vis)

	var missing *MissingChannelError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "outlier_detection", missing.Stage)
	assert.Equal(t, Vis, missing.Channel)
	assert.Contains(t, err.Error(), `"vis"`)

	assert.NoError(t, RequireChannels("x", NewChannelSet(CO2), CO2))
}

func TestIsMissingCell(t *testing.T) {
	for _, s := range []string{"", " ", "nan", "NaN", "NA", "N/A", "null", "None", "<NA>"} {
		assert.True(t, IsMissingCell(s), "%q", s)
	}
	for _, s := range []string{"0", "a017", "12.5"} {
		assert.False(t, IsMissingCell(s), "%q", s)
	}
}

func TestRawTable_Append(t *testing.T) {
	var tbl RawTable
	tbl.Append([]string{"date_time", "tmp"}, []RawRow{{"date_time": "x", "tmp": "1"}})
	tbl.Append([]string{"date_time", "CO2", "tmp"}, []RawRow{{"date_time": "y", "CO2": "400", "tmp": "2"}})

	assert.Equal(t, []string{"date_time", "tmp", "CO2"}, tbl.Columns)
	assert.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.HasColumn("CO2"))
}

func TestFeatureMatrix_Subset(t *testing.T) {
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &FeatureMatrix{
		Columns: []string{"tmp", "hum"},
		Keys:    []RowKey{{"a1", ts}, {"b2", ts}, {"a3", ts}},
		Rows:    [][]float64{{20, 40}, {21, 41}, {22, 42}},
	}

	sub := m.Subset([]int{0, 2})
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, "a3", sub.Keys[1].Room)

	sub.Rows[0][0] = 99
	assert.Equal(t, 20.0, m.Rows[0][0], "subset must not share rows")

	col, ok := m.Column("hum")
	require.True(t, ok)
	assert.Equal(t, []float64{40, 41, 42}, col)
	assert.Equal(t, -1, m.ColumnIndex("CO2"))
}

func TestEnrichedTable_Readings(t *testing.T) {
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	v := EmptyValues()
	v.Set(Tmp, 21)
	e := &EnrichedTable{
		Channels:    NewChannelSet(Tmp),
		HasBuilding: true,
		Rows: []EnrichedRow{{
			SeriesRow: SeriesRow{Timestamp: ts, Room: "a017", Building: "a", Values: v},
			Color:     ColorGreen,
		}},
	}

	r := e.Readings()
	require.Equal(t, 1, r.Len())
	assert.True(t, r.Schema.HasRoom)
	assert.True(t, r.Schema.Channels.Has(Tmp))
	assert.Equal(t, "a017", r.Rows[0].Room)
	assert.Equal(t, 21.0, r.Rows[0].Values.Get(Tmp))
}
