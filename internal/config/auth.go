package config

import (
	"errors"
	"time"
)

// AuthConfig protects the administrative endpoints. With neither a JWT
// secret nor an API key hash configured they are open.
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET" json:"-"`
	Issuer    string        `env:"JWT_ISSUER" json:"issuer"`
	TokenTTL  time.Duration `env:"JWT_TOKEN_TTL" json:"token_ttl"`
	// AdminKeyHash is a bcrypt hash of the admin API key.
	AdminKeyHash string `env:"ADMIN_API_KEY_HASH" json:"-"`
}

// DefaultAuthConfig returns an open configuration.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Issuer:   "consulta-go",
		TokenTTL: 12 * time.Hour,
	}
}

// LoadAuthConfigFromEnv reads JWT_* and ADMIN_API_KEY_HASH.
func LoadAuthConfigFromEnv() (*AuthConfig, error) {
	c := DefaultAuthConfig()
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.Issuer = getEnv("JWT_ISSUER", c.Issuer)
	c.TokenTTL = getEnvDuration("JWT_TOKEN_TTL", c.TokenTTL)
	c.AdminKeyHash = getEnv("ADMIN_API_KEY_HASH", c.AdminKeyHash)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Enabled reports whether admin endpoints require credentials.
func (c *AuthConfig) Enabled() bool {
	return c.JWTSecret != "" || c.AdminKeyHash != ""
}

// Validate rejects short secrets.
func (c *AuthConfig) Validate() error {
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	if c.TokenTTL <= 0 {
		return errors.New("JWT_TOKEN_TTL must be positive")
	}
	return nil
}
