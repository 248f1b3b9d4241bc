package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consulta-go/internal/lexicon"
	"consulta-go/internal/memory"
	"consulta-go/internal/schema"
)

func TestPromptBuilder_Build(t *testing.T) {
	c := NewClassifier()
	b := NewPromptBuilder(NewTemplates(c))

	q := "quantos clientes"
	in := b.Build(q, c.Classify(q), schema.Default(), 5, memory.Context{})

	assert.Equal(t, 5, in.Company)
	assert.Len(t, in.Tables, 4)
	assert.Equal(t, "entidades", in.Tables[0].Name)
	assert.Equal(t, "e", in.Tables[0].Alias)
	assert.Contains(t, in.Instructions, "SEMPRE inclua o filtro: e.enti_empr = 5")
	assert.Contains(t, in.SuggestedSQL, "e.enti_empr = 5")
	assert.Len(t, in.Examples, len(goldenExamples))
	for _, ex := range in.Examples {
		assert.NotContains(t, ex.SQL, companyPlaceholder)
	}
}

func TestPromptBuilder_RenderSQL(t *testing.T) {
	c := NewClassifier()
	b := NewPromptBuilder(NewTemplates(c))

	q := "total faturado em 2024"
	conv := memory.Context{Topic: "pedidos", Company: "1", LastQuestion: "quantos pedidos"}
	prompt, err := b.RenderSQL(b.Build(q, c.Classify(q), schema.Default(), 1, conv))
	require.NoError(t, err)

	assert.Contains(t, prompt, "TIPO DE CONSULTA DETECTADO: pedidosvenda_soma_periodo")
	assert.Contains(t, prompt, "PERGUNTA: total faturado em 2024")
	assert.Contains(t, prompt, "CONTEXTO DA CONVERSA:")
	assert.Contains(t, prompt, "GERE EXATAMENTE ESTE SQL: SELECT SUM(pv.pedi_tota)")
	assert.Contains(t, prompt, "public.pedidosvenda (pv)")
}

func TestPromptBuilder_RenderSQLWithoutContext(t *testing.T) {
	b := NewPromptBuilder(nil)
	prompt, err := b.RenderSQL(PromptInput{Question: "algo", Intent: Intent{Table: "pedidosvenda", Operation: OpGeral}, Company: 1})
	require.NoError(t, err)

	assert.NotContains(t, prompt, "CONTEXTO DA CONVERSA")
	assert.NotContains(t, prompt, "GERE EXATAMENTE")
}

func TestPromptBuilder_RenderSummary(t *testing.T) {
	b := NewPromptBuilder(nil)
	prompt, err := b.RenderSummary("quantos pedidos", "SELECT 1", []map[string]any{{"total_pedidos": 42}})
	require.NoError(t, err)

	assert.Contains(t, prompt, `"quantos pedidos"`)
	assert.Contains(t, prompt, `[{"total_pedidos":42}]`)
}

func TestPromptBuilder_SuggestedSQLKeepsExplicitYear(t *testing.T) {
	c := NewClassifier()
	b := NewPromptBuilder(NewTemplates(c))
	intent := Intent{Table: lexicon.TablePedidosVenda, Operation: OpSoma, Modifiers: []Modifier{ModPeriodo}}

	in := b.Build("total faturado para clientes em 2023", intent, schema.Default(), 1, memory.Context{})
	assert.Contains(t, in.SuggestedSQL, "pv.pedi_data) = 2023")
}
