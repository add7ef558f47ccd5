// Package server HTTP 运维接口
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/metrics"
	"safetysync-analytics/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// 健康检查里依赖探测的超时
const healthProbeTimeout = 2 * time.Second

// 摄取统计查询窗口的上限（小时）
const maxStatsWindowHours = 24 * 30

// QualityReader 摄取质量汇总查询
type QualityReader interface {
	SummarizeSince(ctx context.Context, since time.Time) (*models.QualitySummary, error)
}

// healthStatus /healthz 响应体
type healthStatus struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Redis     string    `json:"redis"`
	Timestamp time.Time `json:"timestamp"`
}

// Server HTTP 运维服务
type Server struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	quality     QualityReader
	logger      *zap.Logger
	httpServer  *http.Server
}

// NewServer 创建 HTTP 运维服务
func NewServer(
	cfg *config.Config,
	db *sql.DB,
	redisClient *redis.Client,
	quality QualityReader,
	logger *zap.Logger,
) *Server {
	s := &Server{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		quality:     quality,
		logger:      logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/stats/ingestion", s.handleIngestionStats).Methods("GET")
	router.Use(inFlightMiddleware)

	s.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler 返回路由（测试用）
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 启动 HTTP 服务，阻塞直到 Shutdown
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.config.HTTP.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth GET /healthz：探测 PostgreSQL 与 Redis 连接
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	status := healthStatus{
		Status:    "healthy",
		Database:  "connected",
		Redis:     "connected",
		Timestamp: time.Now().UTC(),
	}

	if err := s.db.PingContext(ctx); err != nil {
		status.Status = "degraded"
		status.Database = "disconnected"
		s.logger.Warn("health check: database unreachable", zap.Error(err))
	}
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		status.Status = "degraded"
		status.Redis = "disconnected"
		s.logger.Warn("health check: redis unreachable", zap.Error(err))
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, status, code)
}

// handleIngestionStats GET /stats/ingestion?hours=N：窗口内的摄取质量汇总
func (s *Server) handleIngestionStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		h, err := strconv.Atoi(hoursStr)
		if err != nil || h <= 0 || h > maxStatsWindowHours {
			respondError(w, "invalid hours parameter", http.StatusBadRequest)
			return
		}
		hours = h
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	summary, err := s.quality.SummarizeSince(r.Context(), since)
	if err != nil {
		s.logger.Error("failed to summarize ingestion quality", zap.Error(err))
		respondError(w, "failed to load ingestion stats", http.StatusInternalServerError)
		return
	}

	respondJSON(w, summary, http.StatusOK)
}

// inFlightMiddleware 维护处理中请求数的指标
func inFlightMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
