package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"consulta-go/internal/config"
	"consulta-go/internal/memory"
	"consulta-go/internal/schema"
)

// fakeLLM answers the preflight check and SQL prompts from fixed replies.
type fakeLLM struct {
	mu             sync.Mutex
	preflightReply string
	replies        []string
	err            error
	prompts        []string
}

func (f *fakeLLM) GenerateText(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if prompt == PreflightPrompt {
		if f.preflightReply == "" {
			return "SELECT 1", nil
		}
		return f.preflightReply, nil
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", ErrEmptyCompletion
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func testAIConfig() *config.AIConfig {
	cfg := config.DefaultAIConfig()
	cfg.Primary.APIKey = "test"
	cfg.RetryBackoff = 0
	return cfg
}

func newTestGenerator(t *testing.T, llm TextGenerator, cfg *config.AIConfig) (*Generator, *Classifier) {
	t.Helper()
	c := NewClassifier()
	g := NewGenerator(llm, NewTemplates(c), cfg, zaptest.NewLogger(t))
	return g, c
}

func promptFor(g *Generator, c *Classifier, question string) PromptInput {
	return g.Builder().Build(question, c.Classify(question), schema.Default(), 1, memory.Context{})
}

func TestGenerator_LLMTier(t *testing.T) {
	llm := &fakeLLM{replies: []string{"```sql\nSELECT COUNT(DISTINCT pv.pedi_nume) AS total_pedidos\nFROM public.pedidosvenda pv WHERE pv.pedi_empr = 1;\n```"}}
	g, c := newTestGenerator(t, llm, testAIConfig())

	res, err := g.Generate(context.Background(), promptFor(g, c, "quantos pedidos"), newTestValidator())
	require.NoError(t, err)

	assert.Equal(t, TierLLM, res.Tier)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "SELECT COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv WHERE pv.pedi_empr = 1", res.SQL)
	assert.Equal(t, 2, llm.calls(), "preflight and one SQL prompt")
}

func TestGenerator_FallbackWhenLLMFails(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	cfg := testAIConfig()
	cfg.PreflightEnabled = false
	g, c := newTestGenerator(t, llm, cfg)

	res, err := g.Generate(context.Background(), promptFor(g, c, "total faturado em 2024"), newTestValidator())
	require.NoError(t, err)

	assert.Equal(t, TierFallback, res.Tier)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "pedidosvenda_soma_periodo", res.Template)
	assert.Contains(t, res.SQL, "= 2024")
	assert.Contains(t, res.LLMError, "connection refused")
	assert.Equal(t, 3, llm.calls())
}

func TestGenerator_RetriesMalformedReplies(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		"Desculpe, não entendi.",
		"SELECT SUM(pv.pedi_tota) AS total_faturado FROM public.pedidosvenda pv WHERE pv.pedi_empr = 1",
	}}
	cfg := testAIConfig()
	cfg.PreflightEnabled = false
	g, c := newTestGenerator(t, llm, cfg)

	res, err := g.Generate(context.Background(), promptFor(g, c, "total faturado"), newTestValidator())
	require.NoError(t, err)
	assert.Equal(t, TierLLM, res.Tier)
	assert.Equal(t, 2, res.Attempts)
}

func TestGenerator_RejectsInjectedLLMOutput(t *testing.T) {
	llm := &fakeLLM{replies: []string{"SELECT COUNT(*) FROM public.pedidosvenda pv WHERE pv.pedi_empr = 1; DROP TABLE pedidosvenda"}}
	cfg := testAIConfig()
	cfg.PreflightEnabled = false
	g, c := newTestGenerator(t, llm, cfg)

	res, err := g.Generate(context.Background(), promptFor(g, c, "quantos pedidos"), newTestValidator())
	require.NoError(t, err)

	assert.Equal(t, TierFallback, res.Tier)
	assert.NotContains(t, strings.ToUpper(res.SQL), "DROP")
	assert.Contains(t, res.LLMError, StageSecurity)
}

func TestGenerator_CorruptPreflightSkipsLLM(t *testing.T) {
	llm := &fakeLLM{preflightReply: "subooo ssso uuosb"}
	g, c := newTestGenerator(t, llm, testAIConfig())

	res, err := g.Generate(context.Background(), promptFor(g, c, "quantos clientes"), newTestValidator())
	require.NoError(t, err)

	assert.True(t, res.PreflightFailed)
	assert.Equal(t, TierFallback, res.Tier)
	assert.Equal(t, 1, llm.calls())
	assert.Contains(t, res.SQL, "'CL'")
}

func TestGenerator_WithoutLLM(t *testing.T) {
	g, c := newTestGenerator(t, nil, testAIConfig())

	res, err := g.Generate(context.Background(), promptFor(g, c, "quantos pedidos"), nil)
	require.NoError(t, err)
	assert.Equal(t, TierFallback, res.Tier)
	assert.Equal(t, ErrLLMUnavailable.Error(), res.LLMError)
}

func TestGenerator_NoValidSQL(t *testing.T) {
	c := NewClassifier()
	intent := c.Classify("quantos pedidos")
	broken := &Templates{sets: map[string]templateSet{intent.Tag(): {VariantDefault: "SELECT 1"}}, classifier: c}
	g := NewGenerator(nil, broken, testAIConfig(), zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), PromptInput{Question: "quantos pedidos", Intent: intent, Company: 1}, newTestValidator())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoValidSQL)
	assert.Contains(t, err.Error(), intent.Tag())
}

func TestGenerator_CanceledContext(t *testing.T) {
	g, c := newTestGenerator(t, &fakeLLM{err: errors.New("down")}, testAIConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, promptFor(g, c, "quantos pedidos"), newTestValidator())
	assert.ErrorIs(t, err, context.Canceled)
}

// Every answer produced while the model is down must filter each table it
// reads by that table's tenant column.
func TestGenerator_FallbackKeepsTenantFilter(t *testing.T) {
	cfg := testAIConfig()
	cfg.PreflightEnabled = false
	cfg.MaxAttempts = 1
	g, c := newTestGenerator(t, &fakeLLM{err: errors.New("down")}, cfg)
	v := newTestValidator()

	subjects := []string{
		"quantos pedidos", "total faturado", "quantos clientes", "quantos vendedores",
		"quantos itens vendidos", "produtos mais vendidos", "vendas por vendedor",
		"vendas por cliente", "quantos produtos", "quantas linhas de itens",
	}
	suffixes := []string{"", " em 2023", " este ano", " por vendedor", " de janeiro a março"}

	n := 0
	for _, s := range subjects {
		for _, suffix := range suffixes {
			q := s + suffix
			n++
			t.Run(q, func(t *testing.T) {
				res, err := g.Generate(context.Background(), promptFor(g, c, q), v)
				require.NoError(t, err)
				require.Equal(t, TierFallback, res.Tier)

				lower := strings.ToLower(res.SQL)
				tables := v.ReferencedTables(lower)
				require.NotEmpty(t, tables)
				for _, tbl := range tables {
					assert.Contains(t, lower, fmt.Sprintf("%s = 1", tbl.TenantColumn()), "table %s in %s", tbl.Name, res.SQL)
				}
			})
		}
	}
	assert.Equal(t, 50, n)
}

func TestIsCorruptReply(t *testing.T) {
	tests := map[string]bool{
		"SELECT 1":                  false,
		" select 1 ":                false,
		"ok":                        false,
		"subooo":                    true,
		"SELECT ssso_uuosb":         true,
		"Claro! Aqui está a query.": true,
		"SELECT " + strings.Repeat("1, ", 40): true,
	}
	for reply, want := range tests {
		assert.Equal(t, want, IsCorruptReply(reply), reply)
	}
}

func TestGenerator_Summarize(t *testing.T) {
	llm := &fakeLLM{replies: []string{"  Foram encontrados 42 registros.  "}}
	g, _ := newTestGenerator(t, llm, testAIConfig())

	text, err := g.Summarize(context.Background(), "quantos pedidos", "SELECT 1", []map[string]any{{"total": 42}})
	require.NoError(t, err)
	assert.Equal(t, "Foram encontrados 42 registros.", text)

	off, _ := newTestGenerator(t, nil, testAIConfig())
	_, err = off.Summarize(context.Background(), "q", "SELECT 1", nil)
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}
