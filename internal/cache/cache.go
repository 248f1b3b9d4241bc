// Package cache memoizes answers per (question, tenant).
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// DefaultTTL answers live for 30 minutes.
const DefaultTTL = 30 * time.Minute

// Entry one cached answer.
type Entry struct {
	Key       string    `json:"key"`
	Answer    string    `json:"answer"`
	SQL       string    `json:"sql"`
	Tier      string    `json:"tier"`
	Intent    string    `json:"intent"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is implemented by the in-memory and Redis backends.
type Store interface {
	Get(ctx context.Context, question, tenant string) (*Entry, error)
	Set(ctx context.Context, question, tenant string, entry *Entry) error
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	// ClearExpired removes expired entries and returns how many were removed.
	ClearExpired(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
}

// Key derives the cache key; case and surrounding whitespace are ignored.
func Key(question, tenant string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	sum := md5.Sum([]byte(normalized + "_" + tenant))
	return hex.EncodeToString(sum[:])
}

// Clock returns the current time; tests replace it.
type Clock func() time.Time

// Config cache settings
type Config struct {
	Backend string        `json:"backend"` // memory or redis
	TTL     time.Duration `json:"ttl"`
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `json:"key_prefix"`
}

// DefaultConfig returns the in-memory backend with the default TTL.
func DefaultConfig() *Config {
	return &Config{
		Backend:   "memory",
		TTL:       DefaultTTL,
		KeyPrefix: "consulta:cache:",
	}
}
