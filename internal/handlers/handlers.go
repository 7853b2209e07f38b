// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"sensorprep/internal/cache"
	"sensorprep/internal/features"
	"sensorprep/internal/logging"
	"sensorprep/internal/metrics"
	"sensorprep/internal/models"
	"sensorprep/internal/pipeline"
	"sensorprep/internal/store"
)

// Runner запускает конвейер над каталогом
type Runner interface {
	Run(ctx context.Context, root string) (*pipeline.Result, error)
}

// MatrixSink долговременное хранилище матриц признаков
type MatrixSink interface {
	WriteMatrix(ctx context.Context, runID string, m *models.FeatureMatrix) error
}

// HealthStatus ответ проверки здоровья
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse статистика сервиса
type StatsResponse struct {
	TotalRuns   int64  `json:"total_runs"`
	LatestRunID string `json:"latest_run_id,omitempty"`
	FeatureRows int    `json:"feature_rows"`
	Goroutines  int    `json:"goroutines"`
}

// RunRequest тело запроса запуска: подкаталог внутри каталога данных
type RunRequest struct {
	Dir string `json:"dir"`
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	runner      Runner
	cache       *cache.RedisCache
	sink        MatrixSink
	partitioner *features.Partitioner
	dataDir     string
	log         *zap.Logger
	startTime   time.Time

	mu     sync.RWMutex
	latest *pipeline.Result
}

// NewHandler создает новый обработчик. cache и sink могут быть nil.
func NewHandler(runner Runner, cache *cache.RedisCache, sink MatrixSink, dataDir string, log *zap.Logger) *Handler {
	return &Handler{
		runner:      runner,
		cache:       cache,
		sink:        sink,
		partitioner: features.NewPartitioner(),
		dataDir:     dataDir,
		log:         logging.OrNop(log),
		startTime:   time.Now(),
	}
}

// Register регистрирует маршруты API
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/runs", h.RunHandler).Methods("POST")
	router.HandleFunc("/runs", h.ListRunsHandler).Methods("GET")
	router.HandleFunc("/runs/latest", h.LatestRunHandler).Methods("GET")
	router.HandleFunc("/runs/{id}", h.RunSummaryHandler).Methods("GET")
	router.HandleFunc("/features", h.FeaturesHandler).Methods("GET")
	router.HandleFunc("/features.csv", h.FeaturesCSVHandler).Methods("GET")
	router.HandleFunc("/features/partitions", h.PrefixesHandler).Methods("GET")
	router.HandleFunc("/features/partitions/{prefix}", h.PartitionHandler).Methods("GET")
	router.HandleFunc("/health", h.HealthHandler).Methods("GET")
	router.HandleFunc("/stats", h.StatsHandler).Methods("GET")
}

// resolveDir ограничивает путь каталогом данных
func (h *Handler) resolveDir(dir string) (string, error) {
	if strings.Contains(dir, "..") {
		return "", errors.New("dir must not contain '..'")
	}
	return filepath.Join(h.dataDir, filepath.Clean("/"+dir)), nil
}

// RunHandler обрабатывает POST /runs - запуск конвейера
func (h *Handler) RunHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/runs", r.Method))
	defer timer.ObserveDuration()

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			metrics.RequestsTotal.WithLabelValues("/runs", r.Method, "400").Inc()
			return
		}
	}
	root, err := h.resolveDir(req.Dir)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/runs", r.Method, "400").Inc()
		return
	}

	res, err := h.runner.Run(r.Context(), root)
	if err != nil {
		status := http.StatusInternalServerError
		var missing *models.MissingChannelError
		if errors.Is(err, models.ErrNoData) || errors.As(err, &missing) {
			status = http.StatusUnprocessableEntity
		}
		h.log.Error("pipeline run failed", zap.String("root", root), zap.Error(err))
		h.respondError(w, "Pipeline failed: "+err.Error(), status)
		metrics.RequestsTotal.WithLabelValues("/runs", r.Method, strconv.Itoa(status)).Inc()
		return
	}

	if res.Matrix != nil {
		h.mu.Lock()
		if h.latest != nil && h.latest.Matrix != nil {
			h.partitioner.Invalidate(h.latest.Matrix)
		}
		h.latest = res
		h.mu.Unlock()
	}

	// Сохраняем результат; ошибки хранилищ не отменяют ответ
	if h.cache != nil {
		if err := h.cache.SaveRun(res.Summary, res.Matrix); err != nil {
			h.log.Warn("failed to cache run", zap.String("run_id", res.Summary.RunID), zap.Error(err))
		}
	}
	if h.sink != nil && res.Matrix != nil {
		if err := h.sink.WriteMatrix(r.Context(), res.Summary.RunID, res.Matrix); err != nil {
			h.log.Warn("failed to store feature matrix", zap.String("run_id", res.Summary.RunID), zap.Error(err))
		}
	}

	metrics.RequestsTotal.WithLabelValues("/runs", r.Method, "200").Inc()
	h.respondJSON(w, res.Summary, http.StatusOK)
}

func (h *Handler) latestResult() *pipeline.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// LatestRunHandler обрабатывает GET /runs/latest
func (h *Handler) LatestRunHandler(w http.ResponseWriter, r *http.Request) {
	res := h.latestResult()
	if res == nil {
		h.respondError(w, "No runs yet", http.StatusNotFound)
		return
	}
	h.respondJSON(w, res.Summary, http.StatusOK)
}

// ListRunsHandler обрабатывает GET /runs?limit=N - идентификаторы последних запусков
func (h *Handler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := int64(20)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			h.respondError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ids := []string{}
	if h.cache != nil {
		cached, err := h.cache.LatestRunIDs(limit)
		if err != nil {
			h.respondError(w, "Failed to list runs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		ids = append(ids, cached...)
	} else if res := h.latestResult(); res != nil {
		ids = append(ids, res.Summary.RunID)
	}
	h.respondJSON(w, map[string]interface{}{"runs": ids}, http.StatusOK)
}

// RunSummaryHandler обрабатывает GET /runs/{id}
func (h *Handler) RunSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if res := h.latestResult(); res != nil && res.Summary.RunID == id {
		h.respondJSON(w, res.Summary, http.StatusOK)
		return
	}
	if h.cache == nil {
		h.respondError(w, "Run not found", http.StatusNotFound)
		return
	}
	summary, ok, err := h.cache.GetSummary(id)
	if err != nil {
		metrics.CacheMisses.Inc()
		h.respondError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		metrics.CacheMisses.Inc()
		h.respondError(w, "Run not found", http.StatusNotFound)
		return
	}
	metrics.CacheHits.Inc()
	h.respondJSON(w, summary, http.StatusOK)
}

// matrix возвращает матрицу последнего запуска или запуска run_id из кэша
func (h *Handler) matrix(r *http.Request) (*models.FeatureMatrix, int, string) {
	id := r.URL.Query().Get("run_id")
	res := h.latestResult()
	if id == "" || (res != nil && res.Summary.RunID == id) {
		if res == nil || res.Matrix == nil {
			return nil, http.StatusNotFound, "No feature matrix yet"
		}
		return res.Matrix, http.StatusOK, ""
	}
	if h.cache == nil {
		return nil, http.StatusNotFound, "Run not found"
	}
	m, ok, err := h.cache.GetMatrix(id)
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, http.StatusInternalServerError, "Failed to get matrix: " + err.Error()
	}
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, http.StatusNotFound, "Run not found"
	}
	metrics.CacheHits.Inc()
	return m, http.StatusOK, ""
}

// FeaturesHandler обрабатывает GET /features - матрица признаков в JSON
func (h *Handler) FeaturesHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/features", r.Method))
	defer timer.ObserveDuration()

	m, status, msg := h.matrix(r)
	if m == nil {
		h.respondError(w, msg, status)
		return
	}
	metrics.RequestsTotal.WithLabelValues("/features", r.Method, "200").Inc()
	h.respondJSON(w, m, http.StatusOK)
}

// FeaturesCSVHandler обрабатывает GET /features.csv - выгрузка матрицы в CSV
func (h *Handler) FeaturesCSVHandler(w http.ResponseWriter, r *http.Request) {
	m, status, msg := h.matrix(r)
	if m == nil {
		h.respondError(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="features.csv"`)
	if err := store.WriteCSV(w, m); err != nil {
		h.log.Error("failed to write csv", zap.Error(err))
	}
}

// PrefixesHandler обрабатывает GET /features/partitions - список префиксов комнат
func (h *Handler) PrefixesHandler(w http.ResponseWriter, r *http.Request) {
	res := h.latestResult()
	if res == nil || res.Matrix == nil {
		h.respondError(w, "No feature matrix yet", http.StatusNotFound)
		return
	}
	h.respondJSON(w, map[string]interface{}{
		"prefixes": features.Prefixes(res.Matrix),
	}, http.StatusOK)
}

// PartitionHandler обрабатывает GET /features/partitions/{prefix}
func (h *Handler) PartitionHandler(w http.ResponseWriter, r *http.Request) {
	res := h.latestResult()
	if res == nil || res.Matrix == nil {
		h.respondError(w, "No feature matrix yet", http.StatusNotFound)
		return
	}
	sub, err := h.partitioner.Partition(res.Matrix, mux.Vars(r)["prefix"])
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.respondJSON(w, sub, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disconnected"
	if h.cache != nil && h.cache.Ping() == nil {
		redisStatus = "connected"
	}

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     redisStatus,
		Uptime:    time.Since(h.startTime).String(),
	}

	h.respondJSON(w, status, http.StatusOK)
}

// StatsHandler обрабатывает GET /stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/stats", r.Method))
	defer timer.ObserveDuration()

	response := StatsResponse{Goroutines: runtime.NumGoroutine()}
	if h.cache != nil {
		response.TotalRuns, _ = h.cache.GetCounter(cache.RunsCounterKey)
	}
	if res := h.latestResult(); res != nil {
		response.LatestRunID = res.Summary.RunID
		response.FeatureRows = res.Matrix.Len()
	}

	metrics.RequestsTotal.WithLabelValues("/stats", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
