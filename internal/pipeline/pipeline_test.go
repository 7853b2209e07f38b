package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensorprep/internal/config"
	"sensorprep/internal/models"
)

var firstReading = time.Date(2023, 1, 2, 10, 0, 0, 0, time.UTC)

type sample func(i int) (tmp, hum, co2, voc float64)

func constant(int) (float64, float64, float64, float64) {
	return 21.5, 40.25, 512, 128
}

func drifting(i int) (float64, float64, float64, float64) {
	return 20 + float64(i%7)*0.25, 40 + float64(i%5), 500 + float64(i), 120 + float64(i%3)
}

// writeSensorFile writes a sensor export: preamble, header, one reading every 5 minutes
func writeSensorFile(t *testing.T, dir, device string, readings int, gen sample) {
	t.Helper()
	var b strings.Builder
	b.WriteString("sep=;\n")
	b.WriteString("date_time;device_id;tmp;hum;CO2;VOC;vis;IR;BLE;WIFI;gateway\n")
	for i := 0; i < readings; i++ {
		tmp, hum, co2, voc := gen(i)
		ts := firstReading.Add(time.Duration(i) * 5 * time.Minute)
		fmt.Fprintf(&b, "%s;%s;%g;%g;%g;%g;200;7;3;;gw1\n", ts.Format("2006-01-02 15:04:05"), device, tmp, hum, co2, voc)
	}
	path := filepath.Join(dir, device+".csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func newPipeline(t *testing.T, mutate func(*config.Pipeline)) *Pipeline {
	t.Helper()
	cfg := config.DefaultPipeline()
	cfg.RemoveOutliers = false
	cfg.Workers = 2
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return p
}

func sameRows(t *testing.T, want, got *models.EnrichedTable) {
	t.Helper()
	require.Equal(t, want.Len(), got.Len())
	for i := range want.Rows {
		w, g := want.Rows[i], got.Rows[i]
		assert.Equal(t, w.Room, g.Room)
		assert.Equal(t, w.Building, g.Building)
		assert.True(t, w.Timestamp.Equal(g.Timestamp))
		for _, ch := range want.Channels.Channels() {
			assert.InDelta(t, w.Values.Get(ch), g.Values.Get(ch), 1e-9, "%s at row %d", ch, i)
		}
		assert.InDelta(t, w.TmpDiff, g.TmpDiff, 1e-9)
		assert.InDelta(t, w.TimeDiffSec, g.TimeDiffSec, 1e-9)
		assert.Equal(t, w.Color, g.Color)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.LagScope = "building"

	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeSensorFile(t, dir, "hka-aqm-a017", 72, drifting)
	writeSensorFile(t, dir, "hka-aqm-bb201", 72, drifting)

	res, err := newPipeline(t, nil).Run(context.Background(), dir)
	require.NoError(t, err)

	s := res.Summary
	assert.NotEmpty(t, s.RunID)
	assert.Empty(t, s.Cause)
	assert.Equal(t, 2, s.FilesRead)
	assert.Equal(t, 144, s.RawRows)
	// 6 hours per room, the first 3 rows are consumed by lags
	assert.Equal(t, 12, s.SeriesRows)
	assert.Equal(t, 6, s.FeatureRows)
	assert.Equal(t, len(res.Matrix.Columns), s.FeatureColumns)

	m := res.Matrix
	for _, c := range []string{"tmp", "hum", "CO2", "vis", "tmp-3", "room_number_a017", "room_number_bb201", "season_winter"} {
		assert.GreaterOrEqual(t, m.ColumnIndex(c), 0, c)
	}
	assert.Equal(t, -1, m.ColumnIndex("VOC"))
	assert.Equal(t, -1, m.ColumnIndex("gateway"))

	for _, row := range res.Enriched.Rows {
		assert.Equal(t, time.Duration(0), row.Timestamp.Sub(row.Timestamp.Truncate(time.Hour)))
	}
	assert.Equal(t, "b", res.Enriched.Rows[len(res.Enriched.Rows)-1].Building)
}

func TestRun_WithOutliers(t *testing.T) {
	dir := t.TempDir()
	writeSensorFile(t, dir, "hka-aqm-a017", 144, drifting)

	res, err := newPipeline(t, func(c *config.Pipeline) { c.RemoveOutliers = true }).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.NotZero(t, res.Summary.FeatureRows)
}

func TestRun_EmptyDirectory(t *testing.T) {
	res, err := newPipeline(t, nil).Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.NotEmpty(t, res.Summary.Cause)
	assert.Nil(t, res.Matrix)
	assert.Zero(t, res.Summary.FeatureRows)
}

func TestRun_NothingPlausible(t *testing.T) {
	dir := t.TempDir()
	writeSensorFile(t, dir, "hka-aqm-a017", 10, func(int) (float64, float64, float64, float64) {
		return 80, 40, 500, 120
	})

	_, err := newPipeline(t, nil).Run(context.Background(), dir)
	assert.True(t, errors.Is(err, models.ErrNoData), "got %v", err)
}

func TestPreprocess_IdempotentWithoutRolling(t *testing.T) {
	dir := t.TempDir()
	writeSensorFile(t, dir, "hka-aqm-a017", 30, drifting)
	writeSensorFile(t, dir, "hka-aqm-lib4", 30, drifting)
	p := newPipeline(t, func(c *config.Pipeline) { c.ApplyRolling = false })

	res, err := p.Run(context.Background(), dir)
	require.NoError(t, err)

	again, err := p.PreprocessReadings(context.Background(), res.Enriched.Readings())
	require.NoError(t, err)
	sameRows(t, res.Enriched, again)
}

func TestPreprocess_IdempotentOnStableSeries(t *testing.T) {
	dir := t.TempDir()
	writeSensorFile(t, dir, "hka-aqm-a017", 72, constant)
	p := newPipeline(t, nil)

	res, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 6, res.Enriched.Len())

	again, err := p.PreprocessReadings(context.Background(), res.Enriched.Readings())
	require.NoError(t, err)
	sameRows(t, res.Enriched, again)
}
