// Package metrics exposes Prometheus metrics and a /healthz endpoint for the
// pattern bot.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the bot. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	CandlesTotal      *prometheus.CounterVec // labels: symbol, kind=batch|new|correction
	CandlesRejected   *prometheus.CounterVec // labels: symbol
	AnalysisDur       prometheus.Histogram
	PatternsDetected  *prometheus.CounterVec // labels: symbol, pattern
	ExecutionsTotal   *prometheus.CounterVec // labels: symbol, outcome
	DispatchErrors    *prometheus.CounterVec // labels: symbol
	FeedErrors        *prometheus.CounterVec // labels: symbol
	AlertsDropped     *prometheus.CounterVec // labels: symbol
	WSReconnects      prometheus.Counter
	WindowSize        *prometheus.GaugeVec // labels: symbol
	PositionOpen      *prometheus.GaugeVec // labels: symbol
	RedisBreakerState prometheus.Gauge     // 0=closed, 1=open, 2=half-open
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_candles_total",
			Help: "Candles applied to the window",
		}, []string{"symbol", "kind"}),
		CandlesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_candles_rejected_total",
			Help: "Malformed or out-of-order candles rejected by the window",
		}, []string{"symbol"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patternbot_analysis_duration_seconds",
			Help:    "Pattern detection latency per analysis pass",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		PatternsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_patterns_detected_total",
			Help: "Confirmed double tops / bottoms",
		}, []string{"symbol", "pattern"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_executions_total",
			Help: "Signal executor outcomes",
		}, []string{"symbol", "outcome"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_dispatch_errors_total",
			Help: "Trade intents the dispatcher failed to hand off",
		}, []string{"symbol"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_feed_errors_total",
			Help: "Error payloads reported by the market-data feed",
		}, []string{"symbol"}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternbot_alerts_dropped_total",
			Help: "Alerts dropped because the delivery queue was full",
		}, []string{"symbol"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternbot_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		WindowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patternbot_window_size",
			Help: "Candles currently held in the window",
		}, []string{"symbol"}),
		PositionOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patternbot_position_open",
			Help: "1 while a position is open",
		}, []string{"symbol"}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patternbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	m.Registry.MustRegister(
		m.CandlesTotal,
		m.CandlesRejected,
		m.AnalysisDur,
		m.PatternsDetected,
		m.ExecutionsTotal,
		m.DispatchErrors,
		m.FeedErrors,
		m.AlertsDropped,
		m.WSReconnects,
		m.WindowSize,
		m.PositionOpen,
		m.RedisBreakerState,
	)
	return m
}

// HealthStatus represents the bot's health as reported on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	Authorized     bool
	LastCandleTime time.Time
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	if !v {
		h.Authorized = false
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetAuthorized(v bool) {
	h.mu.Lock()
	h.Authorized = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the candle store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	FeedConnected  bool   `json:"feed_connected"`
	Authorized     bool   `json:"authorized"`
	LastCandleTime string `json:"last_candle_time,omitempty"`
	RedisConnected bool   `json:"redis_connected"`
	SQLiteOK       bool   `json:"sqlite_ok"`
	LastCheckAt    string `json:"last_check_at,omitempty"`
}

// ServeHTTP handles the /healthz endpoint. The bot is healthy while it holds
// an authorized feed connection; the optional stores only add detail.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	rep := healthReport{
		Status:         "healthy",
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  h.FeedConnected,
		Authorized:     h.Authorized,
		RedisConnected: h.RedisConnected,
		SQLiteOK:       h.SQLiteOK,
	}
	if !h.LastCandleTime.IsZero() {
		rep.LastCandleTime = h.LastCandleTime.UTC().Format(time.RFC3339)
	}
	if !h.LastCheckAt.IsZero() {
		rep.LastCheckAt = h.LastCheckAt.UTC().Format(time.RFC3339)
	}
	h.mu.RUnlock()

	code := http.StatusOK
	if !rep.FeedConnected || !rep.Authorized {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body, _ := sonic.Marshal(rep)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log.Named("metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
