package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"consulta-go/internal/config"
)

// RoleAdmin may clear caches and conversation history.
const RoleAdmin = "admin"

var (
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// JWTService signs and verifies admin tokens with a shared HS256 secret.
type JWTService struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Claims carried by admin tokens.
type Claims struct {
	Role string `json:"role"`
	// Tenants restricts the token to these tenants; empty means all.
	Tenants []string `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

// Validate is called by the parser after the registered claims.
func (c Claims) Validate() error {
	if c.Subject == "" {
		return errors.New("subject cannot be empty")
	}
	if c.Role == "" {
		return errors.New("role cannot be empty")
	}
	return nil
}

// AllowsTenant reports whether the token covers tenant.
func (c *Claims) AllowsTenant(tenant string) bool {
	if len(c.Tenants) == 0 {
		return true
	}
	for _, t := range c.Tenants {
		if t == tenant {
			return true
		}
	}
	return false
}

// NewJWTService creates the service from the auth configuration.
func NewJWTService(cfg *config.AuthConfig, logger *zap.Logger) (*JWTService, error) {
	if cfg == nil || cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultAuthConfig().TokenTTL
	}
	return &JWTService{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		tokenTTL: ttl,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// GenerateToken signs a token for subject with role, limited to tenants
// when any are given.
func (j *JWTService) GenerateToken(subject, role string, tenants ...string) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.tokenTTL)
	claims := &Claims{
		Role:    role,
		Tenants: tenants,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	j.logger.Info("admin token issued",
		zap.String("subject", subject),
		zap.String("role", role),
		zap.Time("expires_at", expiresAt))
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, issuer and expiry.
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractTokenFromHeader returns the bearer token of an Authorization
// header.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is empty")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("token is empty")
	}
	return token, nil
}

// ValidateTokenFromRequest validates the token of an Authorization header.
func (j *JWTService) ValidateTokenFromRequest(authHeader string) (*Claims, error) {
	tokenString, err := ExtractTokenFromHeader(authHeader)
	if err != nil {
		return nil, err
	}
	return j.ValidateToken(tokenString)
}

// IsTokenExpiringSoon reports whether claims expire within threshold.
func (j *JWTService) IsTokenExpiringSoon(claims *Claims, threshold time.Duration) bool {
	expTime, err := claims.GetExpirationTime()
	if err != nil || expTime == nil {
		return false
	}
	return expTime.Time.Sub(j.now()) <= threshold
}
