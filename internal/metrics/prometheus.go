package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"consulta-go/internal/config"
	"consulta-go/internal/database"
	"consulta-go/internal/service"
)

// PrometheusMetrics collects HTTP and question-pipeline metrics in its own
// registry. It implements service.Recorder.
type PrometheusMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	activeRequests      prometheus.Gauge

	answersTotal   *prometheus.CounterVec
	answerDuration *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	sqlExecutions  *prometheus.CounterVec
	sqlDuration    *prometheus.HistogramVec
	llmAttempts    *prometheus.HistogramVec

	registry *prometheus.Registry
	logger   *zap.Logger
}

// MetricsConfig metric naming
type MetricsConfig struct {
	Namespace string
	Subsystem string
}

// DefaultMetricsConfig returns the default naming.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace: "consulta",
		Subsystem: "api",
	}
}

var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576}

// NewPrometheusMetrics creates and registers every metric.
func NewPrometheusMetrics(cfg *MetricsConfig, logger *zap.Logger) *PrometheusMetrics {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	pm.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status_code"})

	pm.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	pm.httpRequestSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_request_size_bytes",
		Help:      "HTTP request size in bytes",
		Buckets:   sizeBuckets,
	}, []string{"method", "endpoint"})

	pm.httpResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   sizeBuckets,
	}, []string{"method", "endpoint"})

	pm.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "active_requests",
		Help:      "Number of in-flight HTTP requests",
	})

	pm.answersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "pipeline",
		Name:      "answers_total",
		Help:      "Answered questions by tenant, SQL tier and source",
	}, []string{"tenant", "tier", "source"})

	pm.answerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "pipeline",
		Name:      "answer_duration_seconds",
		Help:      "Time to answer a question",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"tier", "source"})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "pipeline",
		Name:      "errors_total",
		Help:      "Failed questions by tenant and error kind",
	}, []string{"tenant", "kind"})

	pm.sqlExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "sql",
		Name:      "executions_total",
		Help:      "Total number of SQL executions",
	}, []string{"tenant", "status"})

	pm.sqlDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "sql",
		Name:      "execution_duration_seconds",
		Help:      "SQL execution duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"tenant"})

	pm.llmAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "llm",
		Name:      "attempts",
		Help:      "LLM attempts spent per generated query",
		Buckets:   []float64{0, 1, 2, 3, 5},
	}, []string{"tier"})

	pm.registry.MustRegister(
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.httpRequestSize,
		pm.httpResponseSize,
		pm.activeRequests,
		pm.answersTotal,
		pm.answerDuration,
		pm.errorsTotal,
		pm.sqlExecutions,
		pm.sqlDuration,
		pm.llmAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}),
	)

	logger.Info("Prometheus metrics initialized", zap.String("namespace", cfg.Namespace))
	return pm
}

// Registry exposes the registry for extra collectors.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// HTTPMetricsMiddleware records request count, latency and sizes per route.
func (pm *PrometheusMetrics) HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestSize := calculateRequestSize(c.Request)

		pm.activeRequests.Inc()
		defer pm.activeRequests.Dec()

		c.Next()

		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		statusCode := strconv.Itoa(c.Writer.Status())

		pm.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		pm.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
		if requestSize > 0 {
			pm.httpRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
		}
		if size := c.Writer.Size(); size > 0 {
			pm.httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(size))
		}
	}
}

func source(fromCache bool) string {
	if fromCache {
		return "cache"
	}
	return "pipeline"
}

// RecordAnswer counts one answered question.
func (pm *PrometheusMetrics) RecordAnswer(tenant, tier string, fromCache bool, elapsed time.Duration) {
	src := source(fromCache)
	pm.answersTotal.WithLabelValues(tenant, tier, src).Inc()
	pm.answerDuration.WithLabelValues(tier, src).Observe(elapsed.Seconds())
}

// RecordError counts one failed question.
func (pm *PrometheusMetrics) RecordError(tenant string, kind service.Kind) {
	pm.errorsTotal.WithLabelValues(tenant, string(kind)).Inc()
}

// RecordExecution counts one SQL execution.
func (pm *PrometheusMetrics) RecordExecution(tenant string, ok bool, elapsed time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	pm.sqlExecutions.WithLabelValues(tenant, status).Inc()
	pm.sqlDuration.WithLabelValues(tenant).Observe(elapsed.Seconds())
}

// RecordLLMAttempts observes how many model calls a query needed.
func (pm *PrometheusMetrics) RecordLLMAttempts(tier string, attempts int) {
	pm.llmAttempts.WithLabelValues(tier).Observe(float64(attempts))
}

// GetMetricsHandler serves the registry.
func (pm *PrometheusMetrics) GetMetricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func calculateRequestSize(r *http.Request) int64 {
	size := int64(0)
	if r.ContentLength > 0 {
		size += r.ContentLength
	}
	for name, values := range r.Header {
		size += int64(len(name))
		for _, value := range values {
			size += int64(len(value))
		}
	}
	size += int64(len(r.URL.String()))
	return size
}

var _ service.Recorder = (*PrometheusMetrics)(nil)

// PoolStatsSource is implemented by database.Manager.
type PoolStatsSource interface {
	Stats() map[string]*database.PoolStats
}

// PoolCollector exports tenant pool statistics and build information at
// scrape time.
type PoolCollector struct {
	pools   PoolStatsSource
	info    *config.AppInfo
	conns   *prometheus.Desc
	maxConn *prometheus.Desc
	acquire *prometheus.Desc
	build   *prometheus.Desc
}

// NewPoolCollector creates the collector for namespace.
func NewPoolCollector(namespace string, pools PoolStatsSource, info *config.AppInfo) *PoolCollector {
	return &PoolCollector{
		pools: pools,
		info:  info,
		conns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "connections"),
			"Tenant pool connections by state",
			[]string{"tenant", "state"}, nil,
		),
		maxConn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "max_connections"),
			"Configured maximum connections per tenant pool",
			[]string{"tenant"}, nil,
		),
		acquire: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquires_total"),
			"Connections acquired from the tenant pool",
			[]string{"tenant"}, nil,
		),
		build: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "build_info"),
			"Build information",
			[]string{"version", "git_commit", "go_version", "os", "arch"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConn
	ch <- c.acquire
	ch <- c.build
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.info != nil {
		ch <- prometheus.MustNewConstMetric(c.build, prometheus.GaugeValue, 1,
			c.info.Version, c.info.GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
	if c.pools == nil {
		return
	}
	for tenant, s := range c.pools.Stats() {
		ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.IdleConns), tenant, "idle")
		ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.AcquiredConns), tenant, "acquired")
		ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.ConstructingConns), tenant, "constructing")
		ch <- prometheus.MustNewConstMetric(c.maxConn, prometheus.GaugeValue, float64(s.MaxConns), tenant)
		ch <- prometheus.MustNewConstMetric(c.acquire, prometheus.CounterValue, float64(s.AcquireCount), tenant)
	}
}
