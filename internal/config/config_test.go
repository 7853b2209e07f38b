package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"60min", time.Hour},
		{"2h", 2 * time.Hour},
		{"2H", 2 * time.Hour},
		{"30T", 30 * time.Minute},
		{"15s", 15 * time.Second},
		{"1D", 24 * time.Hour},
		{"1d", 24 * time.Hour},
		{"90m", 90 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"min", time.Minute},
		{"0.5h", 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "60", "10 parsecs", "0min", "-1h"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPipeline().Validate())

	tests := []struct {
		name   string
		mutate func(*Pipeline)
	}{
		{"empty datetime column", func(p *Pipeline) { p.DateTimeColumn = "" }},
		{"zero frequency", func(p *Pipeline) { p.ResampleFrequency = 0 }},
		{"zero window with rolling", func(p *Pipeline) { p.RollingWindow = 0 }},
		{"contamination too high", func(p *Pipeline) { p.OutlierContamination = 0.6 }},
		{"contamination zero", func(p *Pipeline) { p.OutlierContamination = 0 }},
		{"no estimators", func(p *Pipeline) { p.OutlierEstimators = 0 }},
		{"sample ratio above one", func(p *Pipeline) { p.OutlierSampleRatio = 1.5 }},
		{"threshold above one", func(p *Pipeline) { p.CompletenessThreshold = 1.2 }},
		{"negative lags", func(p *Pipeline) { p.LagCount = -1 }},
		{"unknown lag scope", func(p *Pipeline) { p.LagScope = "building" }},
		{"unknown categorical", func(p *Pipeline) { p.CategoricalFeatures = []string{"room_number", "weekday"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPipeline()
			tt.mutate(&p)
			err := p.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestValidate_WindowIgnoredWithoutRolling(t *testing.T) {
	p := DefaultPipeline()
	p.ApplyRolling = false
	p.RollingWindow = 0
	assert.NoError(t, p.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Pipeline.ResampleFrequency)
	assert.Equal(t, 2*time.Hour, cfg.Pipeline.RollingWindow)
	assert.Equal(t, 0.075, cfg.Pipeline.OutlierContamination)
	assert.Equal(t, 0.9, cfg.Pipeline.CompletenessThreshold)
	assert.Equal(t, LagPerRoom, cfg.Pipeline.LagScope)
	assert.Equal(t, "date_time", cfg.Pipeline.DateTimeColumn)
	assert.Equal(t, []string{"room_number", "color", "season"}, cfg.Pipeline.CategoricalFeatures)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENSORPREP_RESAMPLE_FREQUENCY", "30min")
	t.Setenv("SENSORPREP_LAG_SCOPE", "global")
	t.Setenv("SENSORPREP_REMOVE_OUTLIERS", "false")
	t.Setenv("SENSORPREP_CATEGORICAL_FEATURES", "room_number, color")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Pipeline.ResampleFrequency)
	assert.Equal(t, LagGlobal, cfg.Pipeline.LagScope)
	assert.False(t, cfg.Pipeline.RemoveOutliers)
	assert.Equal(t, []string{"room_number", "color"}, cfg.Pipeline.CategoricalFeatures)
}

func TestLoad_UnknownCategoricalFromEnv(t *testing.T) {
	t.Setenv("SENSORPREP_CATEGORICAL_FEATURES", "room_number,weekday")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorprep.yaml")
	yaml := "rolling_window: 3h\nlag_count: 5\ncategorical_features:\n  - building_name\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Hour, cfg.Pipeline.RollingWindow)
	assert.Equal(t, 5, cfg.Pipeline.LagCount)
	assert.Equal(t, []string{"building_name"}, cfg.Pipeline.CategoricalFeatures)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SENSORPREP_ROLLING_WINDOW", "soon")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
