package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"consulta-go/internal/ai"
	"consulta-go/internal/cache"
	"consulta-go/internal/config"
	"consulta-go/internal/memory"
	"consulta-go/internal/schema"
)

// SchemaSource resolves schema descriptors by slug.
type SchemaSource interface {
	Load(slug string) (*schema.Descriptor, error)
	List() ([]string, error)
}

// TenantSource resolves tenant settings by slug.
type TenantSource interface {
	Tenant(slug string) (config.TenantConfig, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	RecordAnswer(tenant, tier string, fromCache bool, elapsed time.Duration)
	RecordError(tenant string, kind Kind)
	RecordExecution(tenant string, ok bool, elapsed time.Duration)
	RecordLLMAttempts(tier string, attempts int)
}

type nopRecorder struct{}

func (nopRecorder) RecordAnswer(string, string, bool, time.Duration) {}
func (nopRecorder) RecordError(string, Kind)                         {}
func (nopRecorder) RecordExecution(string, bool, time.Duration)      {}
func (nopRecorder) RecordLLMAttempts(string, int)                    {}

// Step is a progress notification sent while a request runs.
type Step struct {
	Number  int    `json:"numero"`
	Message string `json:"mensagem"`
}

var (
	stepUnderstanding = Step{1, "🧠 Entendendo a pergunta..."}
	stepIdentifying   = Step{2, "🔍 Identificando dados necessários..."}
	stepPreparing     = Step{3, "🛠️ Preparando consulta SQL..."}
	stepExecuting     = Step{4, "📊 Executando no banco de dados..."}
	stepFormatting    = Step{5, "✨ Formatando resposta..."}
)

// Tier indicators and the SQL section appended to every answer.
const (
	fallbackIndicator = "\n\n⚙️ _Sistema de fallback usado para garantir resposta confiável_"
	llmIndicator      = "\n\n🤖 _SQL gerado via IA_"
	sqlSectionHeader  = "\n\n📊 **Consulta SQL:**\n```sql\n"
	sqlSectionFooter  = "\n```"
)

// ComposeAnswer joins the body, the tier indicator and the SQL section.
func ComposeAnswer(body string, tier ai.Tier, sql string) string {
	indicator := llmIndicator
	if tier == ai.TierFallback {
		indicator = fallbackIndicator
	}
	return body + indicator + sqlSectionHeader + sql + sqlSectionFooter
}

// NoDataMessage is returned when a query matched no rows.
func NoDataMessage() string {
	return "📊 **Nenhum dado encontrado** para esta consulta. Tente:\n" + bullets(ExampleQueries(3))
}

// AnswerRequest one question.
type AnswerRequest struct {
	Question  string `json:"question"`
	Tenant    string `json:"tenant,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// IncludeDetails appends technical details to error messages.
	IncludeDetails bool `json:"include_details,omitempty"`
	// WithChart asks for a chart suggestion.
	WithChart bool `json:"-"`
	// Progress, when set, is called as the pipeline advances.
	Progress func(Step) `json:"-"`
}

// AnswerResponse the answer and how it was produced.
type AnswerResponse struct {
	Answer      string   `json:"answer"`
	SQL         string   `json:"sql,omitempty"`
	Tier        ai.Tier  `json:"tier,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	Suggestions []string `json:"suggestions"`
	FromCache   bool     `json:"from_cache"`
	RowCount    int      `json:"row_count"`
	Chart       *Chart   `json:"chart,omitempty"`
}

// ConsultaConfig orchestrator settings
type ConsultaConfig struct {
	DefaultTenant  string `json:"default_tenant"`
	IncludeDetails bool   `json:"include_details"`
	SummaryEnabled bool   `json:"summary_enabled"`
	// MemoryRows is how many result rows are kept per interaction.
	MemoryRows int `json:"memory_rows"`
}

// DefaultConsultaConfig returns the default settings.
func DefaultConsultaConfig() *ConsultaConfig {
	return &ConsultaConfig{
		DefaultTenant: config.DefaultTenantSlug,
		MemoryRows:    5,
	}
}

// Dependencies are the collaborators of ConsultaService. Cache, Memory,
// Classifier, Formatter, Charts and Metrics get defaults when nil.
type Dependencies struct {
	Cache      cache.Store
	Memory     *memory.Manager
	Schemas    SchemaSource
	Tenants    TenantSource
	Classifier *ai.Classifier
	Generator  *ai.Generator
	Executor   *SQLExecutor
	Formatter  *Formatter
	Charts     *ChartSuggester
	Metrics    Recorder
}

// ConsultaService answers natural-language questions about tenant sales
// data.
type ConsultaService struct {
	deps   Dependencies
	config *ConsultaConfig
	logger *zap.Logger

	validatorsMu sync.Mutex
	validators   map[*schema.Descriptor]*ai.SQLValidator
}

// NewConsultaService wires the pipeline.
func NewConsultaService(deps Dependencies, cfg *ConsultaConfig, logger *zap.Logger) (*ConsultaService, error) {
	switch {
	case deps.Schemas == nil:
		return nil, errors.New("schema source is required")
	case deps.Tenants == nil:
		return nil, errors.New("tenant source is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	}
	if cfg == nil {
		cfg = DefaultConsultaConfig()
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = config.DefaultTenantSlug
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryStore(cache.DefaultTTL, nil, logger)
	}
	if deps.Memory == nil {
		deps.Memory = memory.NewManager(nil, logger)
	}
	if deps.Classifier == nil {
		deps.Classifier = ai.NewClassifier()
	}
	if deps.Formatter == nil {
		deps.Formatter = NewFormatter()
	}
	if deps.Charts == nil {
		deps.Charts = NewChartSuggester()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &ConsultaService{
		deps:       deps,
		config:     cfg,
		logger:     logger,
		validators: make(map[*schema.Descriptor]*ai.SQLValidator),
	}, nil
}

func (s *ConsultaService) tenantOf(slug string) string {
	if slug = strings.TrimSpace(slug); slug == "" {
		return s.config.DefaultTenant
	}
	return slug
}

func (s *ConsultaService) validator(d *schema.Descriptor) *ai.SQLValidator {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	v, ok := s.validators[d]
	if !ok {
		v = ai.NewSQLValidator(d)
		s.validators[d] = v
	}
	return v
}

// Answer runs one question through cache, generation, execution and
// formatting. Errors are *QueryError.
func (s *ConsultaService) Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	start := time.Now()
	question := strings.TrimSpace(req.Question)
	tenant := s.tenantOf(req.Tenant)
	logger := s.logger.With(zap.String("tenant", tenant), zap.String("session", req.SessionID))

	if question == "" {
		return nil, s.fail(logger, tenant, Classify(ErrEmptyQuestion))
	}
	progress := func(st Step) {
		if req.Progress != nil {
			req.Progress(st)
		}
	}
	progress(stepUnderstanding)
	tenantCfg, err := s.deps.Tenants.Tenant(tenant)
	if err != nil {
		return nil, s.fail(logger, tenant, SchemaNotFound(tenant, err))
	}
	conversation := s.deps.Memory.Get(tenant, req.SessionID)

	entry, err := s.deps.Cache.Get(ctx, question, tenant)
	switch {
	case err == nil:
		conversation.Add(memory.Interaction{
			Question:  question,
			Answer:    entry.Answer,
			SQL:       entry.SQL,
			FromCache: true,
		})
		s.deps.Metrics.RecordAnswer(tenant, entry.Tier, true, time.Since(start))
		logger.Info("answer served from cache", zap.String("intent", entry.Intent))
		return &AnswerResponse{
			Answer:      entry.Answer,
			SQL:         entry.SQL,
			Tier:        ai.Tier(entry.Tier),
			Intent:      entry.Intent,
			Suggestions: conversation.Suggestions(),
			FromCache:   true,
		}, nil
	case !errors.Is(err, cache.ErrMiss):
		logger.Warn("cache lookup failed", zap.Error(err))
	}

	progress(stepIdentifying)
	schemaSlug := tenantCfg.Schema
	if schemaSlug == "" {
		schemaSlug = tenant
	}
	descriptor, err := s.deps.Schemas.Load(schemaSlug)
	if err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			return nil, s.fail(logger, tenant, SchemaNotFound(tenant, err))
		}
		return nil, s.fail(logger, tenant, Classify(err))
	}

	intent := s.deps.Classifier.Classify(question)
	logger = logger.With(zap.String("intent", intent.Tag()))

	progress(stepPreparing)
	input := s.deps.Generator.Builder().Build(question, intent, descriptor, tenantCfg.Company, conversation.Context())
	gen, err := s.deps.Generator.Generate(ctx, input, s.validator(descriptor))
	if err != nil {
		if errors.Is(err, ai.ErrNoValidSQL) {
			return nil, s.fail(logger, tenant, NoValidSQL(intent.Tag(), err.Error(), err))
		}
		if ctx.Err() != nil {
			return nil, s.fail(logger, tenant, Classify(err))
		}
		return nil, s.fail(logger, tenant, ClassifyLLMError(err))
	}
	s.deps.Metrics.RecordLLMAttempts(string(gen.Tier), gen.Attempts)
	if gen.LLMError != "" {
		logger.Info("LLM tier skipped", zap.String("reason", gen.LLMError))
	}

	progress(stepExecuting)
	result, err := s.deps.Executor.Execute(ctx, tenant, gen.SQL)
	if err != nil {
		s.deps.Metrics.RecordExecution(tenant, false, time.Since(start))
		return nil, s.fail(logger, tenant, ClassifyDBError(err))
	}
	s.deps.Metrics.RecordExecution(tenant, true, result.ExecutionTime)

	resp := &AnswerResponse{
		SQL:      gen.SQL,
		Tier:     gen.Tier,
		Intent:   intent.Tag(),
		RowCount: result.RowCount,
	}
	if result.RowCount == 0 {
		resp.Answer = NoDataMessage()
		resp.Suggestions = conversation.Suggestions()
		s.deps.Metrics.RecordAnswer(tenant, string(gen.Tier), false, time.Since(start))
		return resp, nil
	}

	progress(stepFormatting)
	body := s.deps.Formatter.Format(result.Columns, result.Rows)
	if s.config.SummaryEnabled && s.deps.Generator.LLMEnabled() {
		summary, err := s.deps.Generator.Summarize(ctx, question, gen.SQL, headRows(result.Rows, DefaultMaxRecords))
		if err != nil {
			logger.Warn("summary failed, using formatted rows", zap.Error(err))
		} else {
			body = summary
		}
	}
	resp.Answer = ComposeAnswer(body, gen.Tier, gen.SQL)

	if req.WithChart {
		chart, err := s.deps.Charts.Suggest(question, result.Columns, result.Rows)
		if err != nil {
			qe := MCPError("gráficos", err)
			s.deps.Metrics.RecordError(tenant, qe.Kind)
			logger.Warn("chart suggestion skipped", zap.String("kind", string(qe.Kind)), zap.Error(err))
		} else {
			resp.Chart = chart
		}
	}

	if err := s.deps.Cache.Set(ctx, question, tenant, &cache.Entry{
		Answer: resp.Answer,
		SQL:    gen.SQL,
		Tier:   string(gen.Tier),
		Intent: intent.Tag(),
	}); err != nil {
		logger.Warn("cache store failed", zap.Error(err))
	}

	conversation.Add(memory.Interaction{
		Question: question,
		Answer:   resp.Answer,
		SQL:      gen.SQL,
		Rows:     headRows(result.Rows, s.config.MemoryRows),
	})
	resp.Suggestions = conversation.Suggestions()

	elapsed := time.Since(start)
	s.deps.Metrics.RecordAnswer(tenant, string(gen.Tier), false, elapsed)
	logger.Info("question answered",
		zap.String("tier", string(gen.Tier)),
		zap.Int("attempts", gen.Attempts),
		zap.Int("rows", result.RowCount),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

func (s *ConsultaService) fail(logger *zap.Logger, tenant string, qe *QueryError) *QueryError {
	s.deps.Metrics.RecordError(tenant, qe.Kind)
	logger.Warn("question failed",
		zap.String("kind", string(qe.Kind)),
		zap.String("details", qe.Details))
	return qe
}

// ErrorResponse renders err as a status code and user message.
func (s *ConsultaService) ErrorResponse(err error, includeDetails bool) (int, string) {
	qe := Classify(err)
	return HTTPStatus(qe.Kind), qe.UserMessage(includeDetails || s.config.IncludeDetails)
}

// History returns the conversation of tenant/session.
func (s *ConsultaService) History(tenant, session string) memory.Snapshot {
	return s.deps.Memory.Snapshot(s.tenantOf(tenant), session)
}

// ResolveTenant returns slug, or the default tenant when slug is blank.
func (s *ConsultaService) ResolveTenant(slug string) string {
	return s.tenantOf(slug)
}

// ClearHistory clears one session, or every session of the tenant when
// session is empty.
func (s *ConsultaService) ClearHistory(tenant, session string) int {
	return s.deps.Memory.Reset(s.tenantOf(tenant), session)
}

// ClearCache drops cached answers, only the expired ones when expiredOnly.
func (s *ConsultaService) ClearCache(ctx context.Context, expiredOnly bool) (int, error) {
	if expiredOnly {
		return s.deps.Cache.ClearExpired(ctx)
	}
	n, err := s.deps.Cache.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	s.logger.Info("answer cache cleared", zap.Int("entries", n))
	return n, nil
}

// CacheSize returns the number of cached answers.
func (s *ConsultaService) CacheSize(ctx context.Context) (int, error) {
	return s.deps.Cache.Len(ctx)
}

// Schemas lists the available schema slugs.
func (s *ConsultaService) Schemas() ([]string, error) {
	return s.deps.Schemas.List()
}

// Schema returns one descriptor.
func (s *ConsultaService) Schema(slug string) (*schema.Descriptor, error) {
	return s.deps.Schemas.Load(slug)
}

func headRows(rows []map[string]any, n int) []map[string]any {
	if n <= 0 {
		return nil
	}
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
