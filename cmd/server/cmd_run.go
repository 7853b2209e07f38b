package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sensorprep/internal/models"
	"sensorprep/internal/pipeline"
	"sensorprep/internal/store"
	"sensorprep/internal/weather"
)

var (
	runDataDir    string
	runOutput     string
	runNoOutliers bool
	runNoRolling  bool
	runWeatherURL string
	runLatitude   float64
	runLongitude  float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once over a data directory",
	Long: `Read every raw sensor file under the data directory, preprocess it,
build the feature matrix and write it to CSV. With --weather-url hourly
weather is joined on the timestamp before export.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runDataDir, "data-dir", "d", "", "directory with raw sensor files (overrides config)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "CSV output path (overrides config)")
	runCmd.Flags().BoolVar(&runNoOutliers, "no-outliers", false, "skip isolation forest outlier removal")
	runCmd.Flags().BoolVar(&runNoRolling, "no-rolling", false, "skip resampling and rolling mean")
	runCmd.Flags().StringVar(&runWeatherURL, "weather-url", "", "hourly weather archive endpoint")
	runCmd.Flags().Float64Var(&runLatitude, "lat", 49.0069, "weather latitude")
	runCmd.Flags().Float64Var(&runLongitude, "lon", 8.4037, "weather longitude")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if runDataDir != "" {
		cfg.DataDir = runDataDir
	}
	if runOutput != "" {
		cfg.OutputCSV = runOutput
	}
	if runNoOutliers {
		cfg.Pipeline.RemoveOutliers = false
	}
	if runNoRolling {
		cfg.Pipeline.ApplyRolling = false
	}

	p, err := pipeline.New(cfg.Pipeline, log)
	if err != nil {
		return err
	}
	res, err := p.Run(cmd.Context(), cfg.DataDir)
	if err != nil {
		return err
	}
	if res.Matrix == nil {
		return fmt.Errorf("no data: %s", res.Summary.Cause)
	}

	matrix := res.Matrix
	if runWeatherURL != "" {
		start, end := timeRange(matrix)
		w, err := weather.NewHTTPFetcher(runWeatherURL).Fetch(cmd.Context(), runLatitude, runLongitude, start, end)
		if err != nil {
			return fmt.Errorf("fetch weather: %w", err)
		}
		matrix = weather.Merge(matrix, w)
		log.Info("merged weather", zap.Int("weather_rows", w.Len()), zap.Int("rows", matrix.Len()))
	}

	if err := store.WriteCSVFile(cfg.OutputCSV, matrix); err != nil {
		return err
	}
	log.Info("feature matrix written",
		zap.String("run_id", res.Summary.RunID),
		zap.String("path", cfg.OutputCSV),
		zap.Int("rows", matrix.Len()),
		zap.Int("columns", len(matrix.Columns)),
	)
	return nil
}

func timeRange(m *models.FeatureMatrix) (start, end time.Time) {
	for i, k := range m.Keys {
		if i == 0 || k.Timestamp.Before(start) {
			start = k.Timestamp
		}
		if i == 0 || k.Timestamp.After(end) {
			end = k.Timestamp
		}
	}
	return start, end
}
