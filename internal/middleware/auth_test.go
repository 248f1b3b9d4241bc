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
	"go.uber.org/zap/zaptest"

	"consulta-go/internal/auth"
	"consulta-go/internal/config"
)

const adminKey = "chave-admin-de-teste"

type AuthMiddlewareTestSuite struct {
	suite.Suite
	jwtService *auth.JWTService
	keyHash    string
}

func (s *AuthMiddlewareTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	svc, err := auth.NewJWTService(&config.AuthConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		Issuer:    "consulta-test",
		TokenTTL:  time.Hour,
	}, zaptest.NewLogger(s.T()))
	s.Require().NoError(err)
	s.jwtService = svc

	s.keyHash, err = auth.HashAPIKey(adminKey)
	s.Require().NoError(err)
}

func (s *AuthMiddlewareTestSuite) router(am *AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.POST("/api/limpar-cache", am.AdminAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"principal":  PrincipalFromContext(c),
			"allow_loja": AllowsTenant(c, "loja"),
		})
	})
	return r
}

func (s *AuthMiddlewareTestSuite) do(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/limpar-cache", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareTestSuite) TestDisabledPassesThrough() {
	am := NewAuthMiddleware(nil, "", nil)
	s.False(am.Enabled())

	w := s.do(s.router(am), "", "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *AuthMiddlewareTestSuite) TestAdminToken() {
	token, _, err := s.jwtService.GenerateToken("ops", auth.RoleAdmin, "matriz")
	s.Require().NoError(err)

	w := s.do(s.router(NewAuthMiddleware(s.jwtService, "", nil)), "Authorization", "Bearer "+token)
	s.Require().Equal(http.StatusOK, w.Code)

	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("ops", body["principal"])
	s.Equal(false, body["allow_loja"])
}

func (s *AuthMiddlewareTestSuite) TestNonAdminRoleForbidden() {
	token, _, err := s.jwtService.GenerateToken("leitor", "viewer")
	s.Require().NoError(err)

	w := s.do(s.router(NewAuthMiddleware(s.jwtService, "", nil)), "Authorization", "Bearer "+token)
	s.Equal(http.StatusForbidden, w.Code)
	s.Contains(w.Body.String(), "answer")
}

func (s *AuthMiddlewareTestSuite) TestMissingOrInvalidToken() {
	r := s.router(NewAuthMiddleware(s.jwtService, "", nil))

	s.Equal(http.StatusUnauthorized, s.do(r, "", "").Code)
	s.Equal(http.StatusUnauthorized, s.do(r, "Authorization", "Bearer lixo").Code)
	s.Equal(http.StatusUnauthorized, s.do(r, "Authorization", "Basic dXNlcg==").Code)
}

func (s *AuthMiddlewareTestSuite) TestAPIKey() {
	r := s.router(NewAuthMiddleware(s.jwtService, s.keyHash, nil))

	w := s.do(r, APIKeyHeader, adminKey)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"principal":"api-key"`)
	s.Contains(w.Body.String(), `"allow_loja":true`)

	s.Equal(http.StatusUnauthorized, s.do(r, APIKeyHeader, "errada").Code)
}

func (s *AuthMiddlewareTestSuite) TestAPIKeyOnly() {
	am := NewAuthMiddleware(nil, s.keyHash, nil)
	s.True(am.Enabled())
	r := s.router(am)

	s.Equal(http.StatusOK, s.do(r, APIKeyHeader, adminKey).Code)
	s.Equal(http.StatusUnauthorized, s.do(r, "Authorization", "Bearer qualquer").Code)
}

func TestAuthMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareTestSuite))
}

func TestClaimsFromContext_Absent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := ClaimsFromContext(c)
	assert.False(t, ok)
	assert.True(t, AllowsTenant(c, "qualquer"))
	assert.Empty(t, PrincipalFromContext(c))

	c.Set(claimsKey, &auth.Claims{Role: auth.RoleAdmin, Tenants: []string{"loja"}})
	claims, ok := ClaimsFromContext(c)
	require.True(t, ok)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.False(t, AllowsTenant(c, "matriz"))
}
