package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LLMProvider names a langchaingo backend.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOllama    LLMProvider = "ollama"
)

// ModelConfig configures one language model backend.
type ModelConfig struct {
	Provider    string        `env:"LLM_PROVIDER" json:"provider"`
	ModelName   string        `env:"LLM_MODEL" json:"model_name"`
	APIKey      string        `env:"LLM_API_KEY" json:"-"`
	BaseURL     string        `env:"LLM_BASE_URL" json:"base_url,omitempty"`
	Temperature float64       `env:"LLM_TEMPERATURE" json:"temperature"`
	MaxTokens   int           `env:"LLM_MAX_TOKENS" json:"max_tokens"`
	Timeout     time.Duration `env:"LLM_TIMEOUT" json:"timeout"`
}

// AIConfig configures SQL generation with a language model.
type AIConfig struct {
	Enabled  bool        `env:"LLM_ENABLED" json:"enabled"`
	Primary  ModelConfig `json:"primary"`
	Fallback ModelConfig `json:"fallback"`

	// Timeout bounds a single LLM attempt.
	Timeout          time.Duration `env:"LLM_TIMEOUT" json:"timeout"`
	PreflightTimeout time.Duration `env:"LLM_PREFLIGHT_TIMEOUT" json:"preflight_timeout"`
	SummaryTimeout   time.Duration `env:"LLM_SUMMARY_TIMEOUT" json:"summary_timeout"`

	MaxAttempts       int           `env:"LLM_MAX_ATTEMPTS" json:"max_attempts"`
	RetryBackoff      time.Duration `env:"LLM_RETRY_BACKOFF" json:"retry_backoff"`
	ExponentialRetry  bool          `env:"LLM_RETRY_EXPONENTIAL" json:"exponential_retry"`
	PreflightEnabled  bool          `env:"LLM_PREFLIGHT_ENABLED" json:"preflight_enabled"`
	SummaryEnabled    bool          `env:"LLM_SUMMARY_ENABLED" json:"summary_enabled"`
	RequestsPerSecond float64       `env:"LLM_REQUESTS_PER_SECOND" json:"requests_per_second"`
}

// DefaultAIConfig returns an OpenAI primary with no fallback backend.
func DefaultAIConfig() *AIConfig {
	return &AIConfig{
		Enabled: true,
		Primary: ModelConfig{
			Provider:    string(ProviderOpenAI),
			ModelName:   "gpt-4o-mini",
			Temperature: 0,
			MaxTokens:   512,
			Timeout:     30 * time.Second,
		},
		Timeout:           30 * time.Second,
		PreflightTimeout:  10 * time.Second,
		SummaryTimeout:    20 * time.Second,
		MaxAttempts:       3,
		RetryBackoff:      time.Second,
		ExponentialRetry:  false,
		PreflightEnabled:  true,
		SummaryEnabled:    false,
		RequestsPerSecond: 5,
	}
}

// LoadAIConfigFromEnv reads LLM_* variables. Without an API key for a
// hosted provider the LLM tier is disabled and answers come from templates.
func LoadAIConfigFromEnv() (*AIConfig, error) {
	c := DefaultAIConfig()

	c.Primary.Provider = getEnv("LLM_PROVIDER", c.Primary.Provider)
	c.Primary.ModelName = getEnv("LLM_MODEL", defaultModelFor(c.Primary.Provider))
	c.Primary.APIKey = getEnv("LLM_API_KEY", providerKey(c.Primary.Provider))
	c.Primary.BaseURL = getEnv("LLM_BASE_URL", "")
	c.Primary.Temperature = getEnvFloat("LLM_TEMPERATURE", c.Primary.Temperature)
	c.Primary.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.Primary.MaxTokens)

	if p := getEnv("LLM_FALLBACK_PROVIDER", ""); p != "" {
		c.Fallback = ModelConfig{
			Provider:    p,
			ModelName:   getEnv("LLM_FALLBACK_MODEL", defaultModelFor(p)),
			APIKey:      getEnv("LLM_FALLBACK_API_KEY", providerKey(p)),
			BaseURL:     getEnv("LLM_FALLBACK_BASE_URL", ""),
			Temperature: c.Primary.Temperature,
			MaxTokens:   c.Primary.MaxTokens,
		}
	}

	c.Timeout = getEnvDuration("LLM_TIMEOUT", c.Timeout)
	c.Primary.Timeout = c.Timeout
	c.Fallback.Timeout = c.Timeout
	c.PreflightTimeout = getEnvDuration("LLM_PREFLIGHT_TIMEOUT", c.PreflightTimeout)
	c.SummaryTimeout = getEnvDuration("LLM_SUMMARY_TIMEOUT", c.SummaryTimeout)
	c.MaxAttempts = getEnvInt("LLM_MAX_ATTEMPTS", c.MaxAttempts)
	c.RetryBackoff = getEnvDuration("LLM_RETRY_BACKOFF", c.RetryBackoff)
	c.ExponentialRetry = getEnvBool("LLM_RETRY_EXPONENTIAL", c.ExponentialRetry)
	c.PreflightEnabled = getEnvBool("LLM_PREFLIGHT_ENABLED", c.PreflightEnabled)
	c.SummaryEnabled = getEnvBool("LLM_SUMMARY_ENABLED", c.SummaryEnabled)
	c.RequestsPerSecond = getEnvFloat("LLM_REQUESTS_PER_SECOND", c.RequestsPerSecond)

	c.Enabled = getEnvBool("LLM_ENABLED", c.Primary.APIKey != "" || LLMProvider(c.Primary.Provider) == ProviderOllama)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultModelFor(provider string) string {
	switch LLMProvider(provider) {
	case ProviderAnthropic:
		return "claude-3-haiku-20240307"
	case ProviderOllama:
		return "llama3"
	default:
		return "gpt-4o-mini"
	}
}

func providerKey(provider string) string {
	switch LLMProvider(provider) {
	case ProviderOpenAI:
		return getEnv("OPENAI_API_KEY", "")
	case ProviderAnthropic:
		return getEnv("ANTHROPIC_API_KEY", "")
	default:
		return ""
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *AIConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := c.Primary.validate(); err != nil {
		return fmt.Errorf("primary model: %w", err)
	}
	if c.Fallback.Provider != "" {
		if err := c.Fallback.validate(); err != nil {
			return fmt.Errorf("fallback model: %w", err)
		}
	}
	if c.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be positive")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return errors.New("LLM_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.RetryBackoff < 0 {
		return errors.New("LLM_RETRY_BACKOFF cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("LLM_REQUESTS_PER_SECOND cannot be negative")
	}
	return nil
}

func (mc *ModelConfig) validate() error {
	switch LLMProvider(mc.Provider) {
	case ProviderOpenAI, ProviderAnthropic:
		if mc.APIKey == "" {
			return fmt.Errorf("%s requires an API key", mc.Provider)
		}
	case ProviderOllama:
	case "":
		return errors.New("provider cannot be empty")
	default:
		return fmt.Errorf("unsupported provider %q", mc.Provider)
	}
	if mc.ModelName == "" {
		return errors.New("model name cannot be empty")
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if mc.MaxTokens < 0 {
		return errors.New("max tokens cannot be negative")
	}
	return nil
}

// LogConfig logs the configuration without secrets.
func (c *AIConfig) LogConfig(logger *zap.Logger) {
	logger.Info("LLM configuration",
		zap.Bool("enabled", c.Enabled),
		zap.String("primary_provider", c.Primary.Provider),
		zap.String("primary_model", c.Primary.ModelName),
		zap.String("fallback_provider", c.Fallback.Provider),
		zap.String("fallback_model", c.Fallback.ModelName),
		zap.Duration("timeout", c.Timeout),
		zap.Int("max_attempts", c.MaxAttempts),
		zap.Bool("preflight_enabled", c.PreflightEnabled),
		zap.Bool("summary_enabled", c.SummaryEnabled))
}
