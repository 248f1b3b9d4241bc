package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"consulta-go/internal/ai"
	"consulta-go/internal/auth"
	"consulta-go/internal/config"
	"consulta-go/internal/memory"
	"consulta-go/internal/middleware"
	"consulta-go/internal/schema"
	"consulta-go/internal/service"
)

type MockConsultaService struct {
	mock.Mock
}

func (m *MockConsultaService) Answer(ctx context.Context, req service.AnswerRequest) (*service.AnswerResponse, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*service.AnswerResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConsultaService) ErrorResponse(err error, includeDetails bool) (int, string) {
	qe := service.Classify(err)
	return service.HTTPStatus(qe.Kind), qe.UserMessage(includeDetails)
}

func (m *MockConsultaService) History(tenant, session string) memory.Snapshot {
	return m.Called(tenant, session).Get(0).(memory.Snapshot)
}

func (m *MockConsultaService) ClearHistory(tenant, session string) int {
	return m.Called(tenant, session).Int(0)
}

func (m *MockConsultaService) ResolveTenant(slug string) string {
	if slug == "" {
		return config.DefaultTenantSlug
	}
	return slug
}

func (m *MockConsultaService) ClearCache(ctx context.Context, expiredOnly bool) (int, error) {
	args := m.Called(ctx, expiredOnly)
	return args.Int(0), args.Error(1)
}

func (m *MockConsultaService) CacheSize(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockConsultaService) Schemas() ([]string, error) {
	args := m.Called()
	slugs, _ := args.Get(0).([]string)
	return slugs, args.Error(1)
}

func (m *MockConsultaService) Schema(slug string) (*schema.Descriptor, error) {
	args := m.Called(slug)
	d, _ := args.Get(0).(*schema.Descriptor)
	return d, args.Error(1)
}

type ConsultaHandlerTestSuite struct {
	suite.Suite
	svc    *MockConsultaService
	router *gin.Engine
}

func (s *ConsultaHandlerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *ConsultaHandlerTestSuite) SetupTest() {
	s.svc = new(MockConsultaService)
	logger := zaptest.NewLogger(s.T())
	s.router = gin.New()
	SetupRoutes(s.router, &RouterConfig{
		Consulta: NewConsultaHandler(s.svc, logger),
		Health:   NewHealthHandler(service.NewHealthService(nil, nil, config.NewAppInfo("consulta-go", "test"), logger)),
	})
}

func (s *ConsultaHandlerTestSuite) TearDownTest() {
	s.svc.AssertExpectations(s.T())
}

func (s *ConsultaHandlerTestSuite) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ConsultaHandlerTestSuite) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (s *ConsultaHandlerTestSuite) TestConsulta() {
	s.svc.On("Answer", mock.Anything, mock.MatchedBy(func(r service.AnswerRequest) bool {
		return r.Question == "Quantos pedidos?" && r.Tenant == "loja" && r.SessionID == "s1" && !r.WithChart
	})).Return(&service.AnswerResponse{
		Answer: "**total_pedidos**: 42",
		SQL:    "SELECT COUNT(*) AS total_pedidos FROM pedidos",
		Tier:   ai.TierFallback,
		Intent: "total_pedidos",
	}, nil).Once()

	w := s.post("/api/consulta", `{"question":"Quantos pedidos?","tenant":"loja","session_id":"s1"}`)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp service.AnswerResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("**total_pedidos**: 42", resp.Answer)
	s.Equal(ai.TierFallback, resp.Tier)
	s.False(resp.FromCache)
}

func (s *ConsultaHandlerTestSuite) TestConsultaMCPAsksForChart() {
	chart := &service.Chart{Type: "bar", Labels: []string{"A"}, Values: []float64{1}}
	s.svc.On("Answer", mock.Anything, mock.MatchedBy(func(r service.AnswerRequest) bool {
		return r.WithChart
	})).Return(&service.AnswerResponse{Answer: "ok", Chart: chart}, nil).Once()

	w := s.post("/api/consulta-mcp", `{"question":"Vendas por cliente"}`)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"chart":{"type":"bar"`)
}

func (s *ConsultaHandlerTestSuite) TestConsultaErrors() {
	s.svc.On("Answer", mock.Anything, mock.MatchedBy(func(r service.AnswerRequest) bool {
		return r.Tenant == "fantasma"
	})).Return(nil, service.SchemaNotFound("fantasma", schema.ErrSchemaNotFound)).Once()
	s.svc.On("Answer", mock.Anything, mock.MatchedBy(func(r service.AnswerRequest) bool {
		return r.Question == ""
	})).Return(nil, service.ErrEmptyQuestion).Once()

	w := s.post("/api/consulta", `{"question":"x","tenant":"fantasma"}`)
	s.Equal(http.StatusNotFound, w.Code)
	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Contains(body["answer"], "fantasma")
	s.Equal("schema_not_found", body["error_type"])

	w = s.post("/api/consulta", `{"question":""}`)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "Erro de validação")
}

func (s *ConsultaHandlerTestSuite) TestConsultaMalformedBody() {
	w := s.post("/api/consulta", `{"question":`)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "validation_error")
	s.svc.AssertNotCalled(s.T(), "Answer", mock.Anything, mock.Anything)
}

func (s *ConsultaHandlerTestSuite) TestConsultaStreaming() {
	s.svc.On("Answer", mock.Anything, mock.AnythingOfType("service.AnswerRequest")).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(service.AnswerRequest)
			require.NotNil(s.T(), req.Progress)
			req.Progress(service.Step{Number: 1, Message: "🧠 Entendendo a pergunta..."})
			req.Progress(service.Step{Number: 4, Message: "📊 Executando no banco de dados..."})
		}).
		Return(&service.AnswerResponse{Answer: "**total_pedidos**: 42"}, nil).Once()

	w := s.post("/api/consulta-streaming", `{"question":"Quantos pedidos?"}`)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	s.Equal(2, strings.Count(body, "event:status"))
	s.Contains(body, `"numero":4`)
	s.Contains(body, "event:answer")
	s.Less(strings.LastIndex(body, "event:status"), strings.Index(body, "event:answer"))
}

func (s *ConsultaHandlerTestSuite) TestConsultaStreamingError() {
	s.svc.On("Answer", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()

	w := s.post("/api/consulta-streaming", `{"question":"Quantos pedidos?"}`)
	body := w.Body.String()
	s.Contains(body, "event:error")
	s.Contains(body, "Timeout")
	s.Contains(body, `"status":504`)
}

func (s *ConsultaHandlerTestSuite) TestHistory() {
	s.svc.On("History", "loja", "s1").Return(memory.Snapshot{
		Tenant:      "loja",
		Session:     "s1",
		Suggestions: []string{"Total faturado este mês"},
	}).Once()

	w := s.get("/api/historico?tenant=loja&session_id=s1")
	s.Require().Equal(http.StatusOK, w.Code)
	var snap memory.Snapshot
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &snap))
	s.Equal("s1", snap.Session)
	s.Equal([]string{"Total faturado este mês"}, snap.Suggestions)
}

func (s *ConsultaHandlerTestSuite) TestClearCache() {
	s.svc.On("ClearCache", mock.Anything, true).Return(3, nil).Once()
	s.svc.On("ClearCache", mock.Anything, false).Return(7, nil).Once()
	s.svc.On("CacheSize", mock.Anything).Return(0, nil).Twice()

	w := s.post("/api/limpar-cache?expired_only=true", "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"removed":3`)

	w = s.post("/api/limpar-cache", `{"expired_only":false}`)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"removed":7`)
}

func (s *ConsultaHandlerTestSuite) TestClearCacheFailure() {
	s.svc.On("ClearCache", mock.Anything, false).Return(0, errors.New("redis down")).Once()

	w := s.post("/api/limpar-cache", "")
	s.Equal(http.StatusInternalServerError, w.Code)
	s.Contains(w.Body.String(), "answer")
}

func (s *ConsultaHandlerTestSuite) TestClearHistory() {
	s.svc.On("ClearHistory", "loja", "").Return(2).Once()

	w := s.post("/api/limpar-historico", `{"tenant":"loja"}`)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"sessions":2`)
}

func (s *ConsultaHandlerTestSuite) TestClearCacheRejectsBadQuery() {
	w := s.post("/api/limpar-cache?expired_only=talvez", "")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), `"error_type":"validation_error"`)
	s.svc.AssertNotCalled(s.T(), "ClearCache", mock.Anything, mock.Anything)
}

func (s *ConsultaHandlerTestSuite) TestClearHistoryDefaultsTenant() {
	s.svc.On("ClearHistory", config.DefaultTenantSlug, "s1").Return(1).Once()

	w := s.post("/api/limpar-historico?session_id=s1", "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"sessions":1`)
}

func (s *ConsultaHandlerTestSuite) TestSchemas() {
	s.svc.On("Schemas").Return([]string{"default", "loja"}, nil).Once()
	s.svc.On("Schema", "default").Return(schema.Default(), nil).Once()
	s.svc.On("Schema", "nada").Return(nil, schema.ErrSchemaNotFound).Once()

	w := s.get("/api/schemas")
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"schemas":["default","loja"]}`, w.Body.String())

	w = s.get("/api/schemas/default")
	s.Require().Equal(http.StatusOK, w.Code)
	decoded, err := schema.Decode("default", w.Body.Bytes())
	s.Require().NoError(err)
	s.True(decoded.HasTable("pedidosvenda"))

	w = s.get("/api/schemas/nada")
	s.Equal(http.StatusNotFound, w.Code)
	s.Contains(w.Body.String(), "nada")
}

func (s *ConsultaHandlerTestSuite) TestSystemRoutes() {
	w := s.get("/health")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"status":"degraded"`)

	w = s.get("/ready")
	s.Equal(http.StatusServiceUnavailable, w.Code)

	w = s.get("/version")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"name":"consulta-go"`)

	s.Equal(http.StatusNotFound, s.get("/metrics").Code)
}

func TestConsultaHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(ConsultaHandlerTestSuite))
}

func TestRouter_Guards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := new(MockConsultaService)
	svc.On("Answer", mock.Anything, mock.Anything).Return(&service.AnswerResponse{Answer: "ok"}, nil)

	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1})
	admin := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"answer": "🔒"})
	}

	r := gin.New()
	SetupRoutes(r, &RouterConfig{
		Consulta:  NewConsultaHandler(svc, nil),
		RateLimit: middleware.RateLimitMiddleware(limiter),
		Admin:     admin,
	})

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"question":"q"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("/api/consulta"))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/consulta-mcp"))
	assert.Equal(t, http.StatusUnauthorized, send("/api/limpar-cache"))
	assert.Equal(t, http.StatusUnauthorized, send("/api/limpar-historico"))
	svc.AssertNumberOfCalls(t, "Answer", 1)
}

func TestClearHistory_TenantScopedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	authCfg := config.DefaultAuthConfig()
	authCfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	jwtService, err := auth.NewJWTService(authCfg, logger)
	require.NoError(t, err)
	token, _, err := jwtService.GenerateToken("ops", auth.RoleAdmin, "loja")
	require.NoError(t, err)

	svc := new(MockConsultaService)
	svc.On("ClearHistory", "loja", "").Return(3).Once()

	r := gin.New()
	SetupRoutes(r, &RouterConfig{
		Consulta: NewConsultaHandler(svc, logger),
		Admin:    middleware.NewAuthMiddleware(jwtService, "", logger).AdminAuth(),
	})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/limpar-historico", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// no tenant resolves to the default tenant, which the token does not cover
	assert.Equal(t, http.StatusForbidden, send("").Code)
	assert.Equal(t, http.StatusForbidden, send(`{"tenant":"outra"}`).Code)

	w := send(`{"tenant":"loja"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":3`)
	svc.AssertExpectations(t)
}
