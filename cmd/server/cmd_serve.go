package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sensorprep/internal/cache"
	"sensorprep/internal/handlers"
	"sensorprep/internal/pipeline"
	"sensorprep/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Start the HTTP API that runs the pipeline on demand and serves feature matrices.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting sensorprep server",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
	)

	p, err := pipeline.New(cfg.Pipeline, log)
	if err != nil {
		return err
	}

	// Пробуем подключиться к Redis с повторами
	var redisCache *cache.RedisCache
	for i := 0; i < 5; i++ {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
			break
		}
		log.Warn("Redis connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		log.Warn("running without cache", zap.Error(err))
		redisCache = nil
	}

	var sink handlers.MatrixSink
	if cfg.ClickHouseAddr != "" {
		ch, err := store.NewClickHouseSink(cmd.Context(), cfg.ClickHouseAddr, cfg.ClickHouseDB,
			cfg.ClickHouseUser, cfg.ClickHousePass, log)
		if err != nil {
			log.Warn("running without ClickHouse sink", zap.Error(err))
		} else {
			sink = ch
			defer ch.Close()
		}
	}

	handler := handlers.NewHandler(p, redisCache, sink, cfg.DataDir, log)

	// Настраиваем маршруты
	router := mux.NewRouter()
	handler.Register(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	router.Use(loggingMiddleware(log))

	// Прогон конвейера может быть долгим, поэтому таймаут записи больше обычного
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Ожидаем сигнал завершения
	select {
	case <-stop:
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server")

	// Контекст с таймаутом для завершения
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	// Закрываем Redis
	if redisCache != nil {
		redisCache.Close()
	}

	log.Info("server stopped")
	return nil
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
