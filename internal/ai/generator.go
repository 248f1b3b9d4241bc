package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"consulta-go/internal/config"
	"consulta-go/internal/lexicon"
	"consulta-go/internal/schema"
)

// Tier tells which path produced the SQL.
type Tier string

const (
	TierLLM      Tier = "llm"
	TierFallback Tier = "fallback"
)

var (
	// ErrNoValidSQL is returned when neither tier produced SQL that passed
	// validation.
	ErrNoValidSQL = errors.New("no valid SQL generated")
	// ErrLLMUnavailable marks a skipped LLM tier.
	ErrLLMUnavailable = errors.New("llm tier unavailable")

	errCorruptReply   = errors.New("model reply has corrupted encoding")
	errShortReply     = errors.New("model reply too short")
	errMalformedReply = errors.New("model reply is not a tenant-filtered SELECT")
)

// corruptionSignatures are fragments seen in replies from a model with a
// broken tokenizer.
var corruptionSignatures = []string{
	"subooo", "ssso", "uuosbsusb", "úúos", "súbooo", "oosbssu", "uuosb", "ssso_uuosb",
}

const minSQLLength = 10

// LLMResult is the outcome of the LLM tier. Exhaustion is reported in Err.
type LLMResult struct {
	SQL      string `json:"sql,omitempty"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

// OK reports whether the tier produced a candidate.
func (r LLMResult) OK() bool {
	return r.Err == nil && r.SQL != ""
}

// GenerationResult is validated SQL ready to execute.
type GenerationResult struct {
	SQL             string `json:"sql"`
	Tier            Tier   `json:"tier"`
	Intent          Intent `json:"intent"`
	Attempts        int    `json:"attempts"`
	Template        string `json:"template,omitempty"`
	PreflightFailed bool   `json:"preflight_failed,omitempty"`
	// LLMError is why the LLM tier did not answer, if it did not.
	LLMError string `json:"llm_error,omitempty"`
}

// Generator turns a structured prompt into validated SQL: LLM first, then
// templates.
type Generator struct {
	llm       TextGenerator
	templates *Templates
	builder   *PromptBuilder
	config    *config.AIConfig
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewGenerator creates a generator. A nil llm disables the LLM tier.
func NewGenerator(llm TextGenerator, templates *Templates, cfg *config.AIConfig, logger *zap.Logger) *Generator {
	if cfg == nil {
		cfg = config.DefaultAIConfig()
	}
	if templates == nil {
		templates = NewTemplates(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		llm:       llm,
		templates: templates,
		builder:   NewPromptBuilder(templates),
		config:    cfg,
		retry:     RetryPolicyFromConfig(cfg),
		logger:    logger,
	}
}

// WithRetryPolicy replaces the retry policy.
func (g *Generator) WithRetryPolicy(p RetryPolicy) *Generator {
	g.retry = p
	return g
}

// Builder returns the prompt builder bound to the generator's templates.
func (g *Generator) Builder() *PromptBuilder {
	return g.builder
}

// LLMEnabled reports whether the LLM tier can run.
func (g *Generator) LLMEnabled() bool {
	return g.llm != nil && g.config.Enabled
}

// Preflight asks for a trivial answer and reports whether the reply looks
// corrupted. A failed call counts as corrupted.
func (g *Generator) Preflight(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, g.config.PreflightTimeout)
	defer cancel()

	reply, err := g.llm.GenerateText(ctx, PreflightPrompt)
	if err != nil {
		g.logger.Warn("LLM preflight check failed", zap.Error(err))
		return true
	}
	if IsCorruptReply(reply) {
		g.logger.Warn("LLM preflight reply looks corrupted", zap.String("reply", truncate(reply, 120)))
		return true
	}
	return false
}

// IsCorruptReply applies the preflight heuristics to a reply.
func IsCorruptReply(reply string) bool {
	lower := strings.ToLower(strings.TrimSpace(reply))
	for _, sig := range corruptionSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	if len([]rune(lower)) > 100 {
		return true
	}
	return !strings.Contains(lower, "select") && len([]rune(lower)) > 10
}

// GenerateLLM runs the retrying LLM tier. Each attempt has its own timeout.
func (g *Generator) GenerateLLM(ctx context.Context, in PromptInput) LLMResult {
	if !g.LLMEnabled() {
		return LLMResult{Err: ErrLLMUnavailable}
	}
	prompt, err := g.builder.RenderSQL(in)
	if err != nil {
		return LLMResult{Err: err}
	}

	var sql string
	attempts, err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		candidate, err := g.attempt(ctx, prompt)
		if err != nil {
			g.logger.Debug("LLM attempt failed",
				zap.Int("attempt", attempt),
				zap.String("intent", in.Intent.Tag()),
				zap.Error(err))
			return err
		}
		sql = candidate
		return nil
	})
	if err != nil {
		return LLMResult{Attempts: attempts, Err: err}
	}
	return LLMResult{SQL: sql, Attempts: attempts}
}

func (g *Generator) attempt(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.config.Timeout)
	defer cancel()

	reply, err := g.llm.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	sql := Sanitize(StripFences(reply))
	if issues := CheckEncoding(sql); len(issues) > 0 {
		return "", fmt.Errorf("%w: %s", errCorruptReply, strings.Join(issues, "; "))
	}
	if len(sql) < minSQLLength {
		return "", errShortReply
	}
	if !CheckStructure(sql) {
		return "", errMalformedReply
	}
	return strings.TrimSuffix(sql, ";"), nil
}

// Generate applies the tier policy: preflight, LLM tier and strict validation,
// then the template tier with basic validation. It never returns SQL that
// failed validation.
func (g *Generator) Generate(ctx context.Context, in PromptInput, validator *SQLValidator) (*GenerationResult, error) {
	if validator == nil {
		validator = NewSQLValidator(schema.Default())
	}
	intent := in.Intent
	result := &GenerationResult{Intent: intent}

	llmErr := ErrLLMUnavailable
	if g.LLMEnabled() {
		if g.config.PreflightEnabled && g.Preflight(ctx) {
			result.PreflightFailed = true
			llmErr = errCorruptReply
		} else {
			res := g.GenerateLLM(ctx, in)
			result.Attempts = res.Attempts
			llmErr = res.Err
			if res.OK() {
				if err := validator.ValidateStrict(res.SQL, intent); err != nil {
					llmErr = err
					g.logger.Info("LLM SQL rejected by validator",
						zap.String("intent", intent.Tag()),
						zap.Error(err))
				} else {
					result.SQL = lexicon.FixGroupByAliases(res.SQL)
					result.Tier = TierLLM
					return result, nil
				}
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if llmErr != nil {
		result.LLMError = llmErr.Error()
	}

	tpl := g.templates.Render(in.Question, intent, in.Company)
	if err := validator.ValidateBasic(tpl.SQL, intent); err != nil {
		g.logger.Error("template SQL failed validation",
			zap.String("intent", intent.Tag()),
			zap.String("template", tpl.Key),
			zap.Error(err))
		return nil, fmt.Errorf("%w for intent %s: %v", ErrNoValidSQL, intent.Tag(), err)
	}

	g.logger.Info("using template SQL",
		zap.String("intent", intent.Tag()),
		zap.String("template", tpl.Key),
		zap.String("variant", tpl.Variant),
		zap.String("source", tpl.Source))
	result.SQL = lexicon.FixGroupByAliases(tpl.SQL)
	result.Tier = TierFallback
	result.Template = tpl.Key
	return result, nil
}

// Summarize asks the model for a short prose answer over rows.
func (g *Generator) Summarize(ctx context.Context, question, sql string, rows []map[string]any) (string, error) {
	if !g.LLMEnabled() {
		return "", ErrLLMUnavailable
	}
	prompt, err := g.builder.RenderSummary(question, sql, rows)
	if err != nil {
		return "", err
	}
	ctx, cancel := withTimeout(ctx, g.config.SummaryTimeout)
	defer cancel()

	text, err := g.llm.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
