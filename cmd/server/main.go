// Package main запускает конвейер подготовки данных CO2-светофоров.
// Команды:
// - run: разовый прогон каталога с выгрузкой матрицы признаков в CSV
// - serve: HTTP API для запуска конвейера и выдачи матриц, кэш в Redis, метрики Prometheus
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sensorprep/internal/config"
	"sensorprep/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sensorprep",
	Short: "sensorprep - CO2 sensor log cleaning and feature pipeline",
	Long: `sensorprep reads raw CO2-traffic-light sensor logs, cleans and resamples
them per room and builds feature matrices for temperature forecasting.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")
}

// setup загружает конфигурацию и создает логгер
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.LogLevel), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
