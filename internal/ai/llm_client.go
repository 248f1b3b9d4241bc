package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"consulta-go/internal/config"
)

// TextGenerator is the only view the pipeline has of a language model.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyCompletion is returned when a model answers with no choices.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// LLMClient adapts langchaingo models to TextGenerator, falling back from
// the primary to the secondary provider.
type LLMClient struct {
	primary  llms.Model
	fallback llms.Model
	config   *config.AIConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewLLMClient creates the providers named in config.
func NewLLMClient(cfg *config.AIConfig, logger *zap.Logger) (*LLMClient, error) {
	if cfg == nil {
		cfg = config.DefaultAIConfig()
	}
	httpClient := newHTTPClient(cfg.Timeout)

	primary, err := createLLMProvider(cfg.Primary, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary LLM provider %s: %w", cfg.Primary.Provider, err)
	}

	var fallback llms.Model
	if cfg.Fallback.Provider != "" {
		fallback, err = createLLMProvider(cfg.Fallback, httpClient)
		if err != nil {
			// the fallback is optional
			if logger != nil {
				logger.Warn("failed to create fallback LLM provider",
					zap.String("provider", cfg.Fallback.Provider),
					zap.Error(err))
			}
			fallback = nil
		}
	}
	return NewLLMClientFromModels(primary, fallback, cfg, logger), nil
}

// NewLLMClientFromModels wraps already constructed models.
func NewLLMClientFromModels(primary, fallback llms.Model, cfg *config.AIConfig, logger *zap.Logger) *LLMClient {
	if cfg == nil {
		cfg = config.DefaultAIConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	return &LLMClient{
		primary:  primary,
		fallback: fallback,
		config:   cfg,
		limiter:  limiter,
		logger:   logger,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}
}

func createLLMProvider(mc config.ModelConfig, httpClient *http.Client) (llms.Model, error) {
	switch config.LLMProvider(mc.Provider) {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(mc.APIKey),
			openai.WithModel(mc.ModelName),
			openai.WithHTTPClient(httpClient),
		}
		if mc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(mc.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderAnthropic:
		return anthropic.New(
			anthropic.WithToken(mc.APIKey),
			anthropic.WithModel(mc.ModelName),
			anthropic.WithHTTPClient(httpClient),
		)
	case config.ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(mc.ModelName),
			ollama.WithHTTPClient(httpClient),
		}
		if mc.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(mc.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", mc.Provider)
	}
}

// GenerateText sends prompt as a single human message and returns the text
// of the first choice.
func (c *LLMClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	text, err := c.generate(ctx, c.primary, c.config.Primary, prompt)
	if err == nil {
		return text, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return "", err
	}

	c.logger.Warn("primary LLM failed, trying fallback", zap.Error(err))
	text, fallbackErr := c.generate(ctx, c.fallback, c.config.Fallback, prompt)
	if fallbackErr == nil {
		return text, nil
	}
	return "", fmt.Errorf("all LLM providers failed: primary: %w, fallback: %v", err, fallbackErr)
}

func (c *LLMClient) generate(ctx context.Context, model llms.Model, mc config.ModelConfig, prompt string) (string, error) {
	if model == nil {
		return "", errors.New("llm provider not configured")
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	var opts []llms.CallOption
	opts = append(opts, llms.WithTemperature(mc.Temperature))
	if mc.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(mc.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// ValidateConfiguration sends a short test message to each provider.
func (c *LLMClient) ValidateConfiguration(ctx context.Context) error {
	if err := c.testLLMProvider(ctx, c.primary, c.config.Primary); err != nil {
		return fmt.Errorf("primary LLM validation failed: %w", err)
	}
	if c.fallback != nil {
		if err := c.testLLMProvider(ctx, c.fallback, c.config.Fallback); err != nil {
			c.logger.Warn("fallback LLM validation failed", zap.Error(err))
		}
	}
	return nil
}

func (c *LLMClient) testLLMProvider(ctx context.Context, model llms.Model, mc config.ModelConfig) error {
	text, err := c.generate(ctx, model, mc, "Responda apenas: OK")
	if err != nil {
		return fmt.Errorf("%s provider test failed: %w", mc.Provider, err)
	}
	if text == "" {
		return fmt.Errorf("%s provider test failed: empty response", mc.Provider)
	}
	preview := []rune(text)
	if len(preview) > 50 {
		preview = preview[:50]
	}
	c.logger.Info("LLM provider test passed",
		zap.String("provider", mc.Provider),
		zap.String("response", string(preview)))
	return nil
}
