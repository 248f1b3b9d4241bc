package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxSessions caps the conversations held at once.
	DefaultMaxSessions = 1000
	// DefaultIdleTTL is how long an unused conversation is kept.
	DefaultIdleTTL = 30 * time.Minute
)

// Config memory settings
type Config struct {
	MaxInteractions int           `json:"max_interactions"`
	MaxSessions     int           `json:"max_sessions"`
	IdleTTL         time.Duration `json:"idle_ttl"`
}

// DefaultConfig returns the default memory settings.
func DefaultConfig() *Config {
	return &Config{
		MaxInteractions: DefaultMaxInteractions,
		MaxSessions:     DefaultMaxSessions,
		IdleTTL:         DefaultIdleTTL,
	}
}

type sessionKey struct {
	tenant  string
	session string
}

type entry struct {
	conversation *Conversation
	lastUsed     time.Time
}

// Manager owns one Conversation per tenant and session. Conversations idle
// for longer than IdleTTL are dropped, and past MaxSessions the least
// recently used one is evicted.
type Manager struct {
	mu            sync.Mutex
	conversations map[sessionKey]*entry
	max           int
	maxSessions   int
	idleTTL       time.Duration
	lastSweep     time.Time
	now           func() time.Time
	logger        *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(config *Config, logger *zap.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxInteractions <= 0 {
		config.MaxInteractions = DefaultMaxInteractions
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		conversations: make(map[sessionKey]*entry),
		max:           config.MaxInteractions,
		maxSessions:   config.MaxSessions,
		idleTTL:       config.IdleTTL,
		now:           time.Now,
		logger:        logger,
	}
}

func normalizeSession(session string) string {
	if session == "" {
		return DefaultSession
	}
	return session
}

// Get returns the conversation of tenant/session, creating it if needed.
// Callers are expected to have authorized the tenant.
func (m *Manager) Get(tenant, session string) *Conversation {
	key := sessionKey{tenant: tenant, session: normalizeSession(session)}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.conversations[key]; ok {
		e.lastUsed = now
		return e.conversation
	}

	if now.Sub(m.lastSweep) >= m.idleTTL/2 {
		m.sweepLocked(now)
	}
	if len(m.conversations) >= m.maxSessions {
		m.evictOldestLocked()
	}
	c := newConversation(m.max)
	m.conversations[key] = &entry{conversation: c, lastUsed: now}
	return c
}

// Snapshot copies the state of tenant/session. An unknown session yields an
// empty snapshot without being stored.
func (m *Manager) Snapshot(tenant, session string) Snapshot {
	session = normalizeSession(session)
	key := sessionKey{tenant: tenant, session: session}

	m.mu.Lock()
	c := newConversation(m.max)
	if e, ok := m.conversations[key]; ok {
		e.lastUsed = m.now()
		c = e.conversation
	}
	m.mu.Unlock()

	return Snapshot{
		Tenant:      tenant,
		Session:     session,
		History:     c.History(),
		Focus:       c.Focus(),
		Suggestions: c.Suggestions(),
	}
}

// Reset clears one conversation; an empty session clears every session of
// the tenant. It returns how many conversations were cleared.
func (m *Manager) Reset(tenant, session string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := 0
	for key, e := range m.conversations {
		if key.tenant != tenant {
			continue
		}
		if session != "" && key.session != session {
			continue
		}
		e.conversation.Reset()
		delete(m.conversations, key)
		cleared++
	}
	m.logger.Info("conversation memory cleared",
		zap.String("tenant", tenant),
		zap.String("session", session),
		zap.Int("conversations", cleared))
	return cleared
}

// Sweep drops conversations idle for longer than IdleTTL and returns how
// many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

// Len is the number of conversations held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

func (m *Manager) sweepLocked(now time.Time) int {
	m.lastSweep = now
	removed := 0
	for key, e := range m.conversations {
		if now.Sub(e.lastUsed) > m.idleTTL {
			delete(m.conversations, key)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("idle conversations dropped", zap.Int("count", removed))
	}
	return removed
}

func (m *Manager) evictOldestLocked() {
	var (
		oldest   sessionKey
		oldestAt time.Time
		found    bool
	)
	for key, e := range m.conversations {
		if !found || e.lastUsed.Before(oldestAt) {
			oldest, oldestAt, found = key, e.lastUsed, true
		}
	}
	if found {
		delete(m.conversations, oldest)
		m.logger.Debug("conversation evicted",
			zap.String("tenant", oldest.tenant),
			zap.String("session", oldest.session))
	}
}
