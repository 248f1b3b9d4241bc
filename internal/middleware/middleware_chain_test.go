package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"consulta-go/internal/config"
)

type MiddlewareChainTestSuite struct {
	suite.Suite
	router *gin.Engine
	logs   *observer.ObservedLogs
	logger *zap.Logger
}

func (s *MiddlewareChainTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *MiddlewareChainTestSuite) SetupTest() {
	core, logs := observer.New(zap.DebugLevel)
	s.logs = logs
	s.logger = zap.New(core)

	app := config.DefaultAppConfig()
	app.CORSOrigins = []string{"https://painel.exemplo.com.br"}
	s.router = gin.New()
	SetupMiddleware(s.router, NewMiddlewareConfig(app, s.logger))
	s.router.GET("/api/historico", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": c.GetString(RequestIDKey)})
	})
	s.router.GET("/panic", func(*gin.Context) { panic("boom") })
}

func (s *MiddlewareChainTestSuite) TestRequestIDPropagation() {
	req := httptest.NewRequest(http.MethodGet, "/api/historico", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal("req-123", w.Header().Get("X-Request-ID"))
	s.Contains(w.Body.String(), `"request_id":"req-123"`)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/historico", nil))
	s.Len(w.Header().Get("X-Request-ID"), 36)
}

func (s *MiddlewareChainTestSuite) TestSecurityHeaders() {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/historico", nil))

	s.Equal("nosniff", w.Header().Get("X-Content-Type-Options"))
	s.Equal("DENY", w.Header().Get("X-Frame-Options"))
	s.Empty(w.Header().Get("Strict-Transport-Security"))
}

func (s *MiddlewareChainTestSuite) TestCORS() {
	req := httptest.NewRequest(http.MethodOptions, "/api/historico", nil)
	req.Header.Set("Origin", "https://painel.exemplo.com.br")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusNoContent, w.Code)
	s.Equal("https://painel.exemplo.com.br", w.Header().Get("Access-Control-Allow-Origin"))
	s.Equal("true", w.Header().Get("Access-Control-Allow-Credentials"))
	s.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	req = httptest.NewRequest(http.MethodGet, "/api/historico", nil)
	req.Header.Set("Origin", "https://malicioso.example")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
	s.Empty(w.Header().Get("Access-Control-Allow-Origin"))
}

func (s *MiddlewareChainTestSuite) TestRecovery() {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	s.Equal(http.StatusInternalServerError, w.Code)
	var body map[string]string
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Contains(body["answer"], "Erro inesperado")
	s.Equal("generic_error", body["error_type"])
	s.Equal(1, s.logs.FilterMessage("request panic recovered").Len())
}

func (s *MiddlewareChainTestSuite) TestStructuredLogger() {
	s.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/historico", nil))
	s.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nada", nil))

	entries := s.logs.FilterMessage("HTTP request").AllUntimed()
	s.Require().Len(entries, 2)
	s.Equal(zap.InfoLevel, entries[0].Level)
	s.Equal(int64(http.StatusOK), entries[0].ContextMap()["status"])
	s.Equal(zap.WarnLevel, entries[1].Level)
	s.NotEmpty(entries[1].ContextMap()["request_id"])
}

func TestMiddlewareChainTestSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareChainTestSuite))
}

func TestRateLimiter_PerClient(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 2, IdleTTL: time.Minute})
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Second), float64(wait), float64(10*time.Millisecond))

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "other clients have their own bucket")

	now = now.Add(time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, _ = rl.Allow("c")
	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimiter_DisabledWithoutRate(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{})
	for range 100 {
		ok, _ := rl.Allow("a")
		require.True(t, ok)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 0.5, Burst: 1})

	r := gin.New()
	r.POST("/api/consulta", RateLimitMiddleware(rl), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"answer": "ok"})
	})

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/consulta", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("192.168.1.1:1234").Code)

	w := send("192.168.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["answer"], "Limite atingido")
	assert.Equal(t, "rate_limit_error", body["error_type"])

	assert.Equal(t, http.StatusOK, send("192.168.1.2:1234").Code)
}

func TestTimeoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TimeoutMiddleware(50 * time.Millisecond))
	r.GET("/", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"has_deadline": ok && time.Until(deadline) <= 50*time.Millisecond})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, w.Body.String(), `"has_deadline":true`)
}
