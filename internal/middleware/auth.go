package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consulta-go/internal/auth"
)

const (
	claimsKey    = "jwt_claims"
	principalKey = "principal"
	// APIKeyHeader carries the admin API key.
	APIKeyHeader = "X-API-Key"
)

// AuthMiddleware guards the administrative endpoints.
type AuthMiddleware struct {
	jwtService   *auth.JWTService
	adminKeyHash string
	logger       *zap.Logger
}

// NewAuthMiddleware creates the middleware. jwtService may be nil when only
// the API key is configured; with neither configured every request passes.
func NewAuthMiddleware(jwtService *auth.JWTService, adminKeyHash string, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		jwtService:   jwtService,
		adminKeyHash: adminKeyHash,
		logger:       logger,
	}
}

// Enabled reports whether credentials are required.
func (am *AuthMiddleware) Enabled() bool {
	return am.jwtService != nil || am.adminKeyHash != ""
}

// AdminAuth accepts a bearer token with the admin role or a valid X-API-Key.
func (am *AuthMiddleware) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader(APIKeyHeader); key != "" && am.adminKeyHash != "" {
			ok, err := auth.VerifyAPIKey(key, am.adminKeyHash)
			if err != nil {
				am.logger.Error("API key verification failed", zap.Error(err))
			}
			if ok {
				c.Set(principalKey, "api-key")
				c.Next()
				return
			}
			am.reject(c, http.StatusUnauthorized, "Chave de API inválida.")
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || am.jwtService == nil {
			am.reject(c, http.StatusUnauthorized, "Credenciais de administrador ausentes.")
			return
		}

		claims, err := am.jwtService.ValidateTokenFromRequest(authHeader)
		if err != nil {
			am.logger.Warn("JWT validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
			am.reject(c, http.StatusUnauthorized, "Token de acesso inválido.")
			return
		}
		if claims.Role != auth.RoleAdmin {
			am.reject(c, http.StatusForbidden, "Permissão insuficiente.")
			return
		}
		if am.jwtService.IsTokenExpiringSoon(claims, 5*time.Minute) {
			c.Header("X-Token-Expiring", "true")
		}

		c.Set(claimsKey, claims)
		c.Set(principalKey, claims.Subject)
		am.logger.Debug("admin authenticated",
			zap.String("subject", claims.Subject),
			zap.Strings("tenants", claims.Tenants))
		c.Next()
	}
}

func (am *AuthMiddleware) reject(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"answer": "🔒 " + message})
}

// ClaimsFromContext returns the token claims set by AdminAuth.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// PrincipalFromContext names who passed AdminAuth; empty when auth is off.
func PrincipalFromContext(c *gin.Context) string {
	return c.GetString(principalKey)
}

// AllowsTenant reports whether the caller may act on tenant. Requests
// authenticated by API key or with auth disabled are unrestricted.
func AllowsTenant(c *gin.Context, tenant string) bool {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		return true
	}
	return claims.AllowsTenant(tenant)
}
