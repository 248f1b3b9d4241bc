package ai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"consulta-go/internal/lexicon"
	"consulta-go/internal/memory"
	"consulta-go/internal/schema"
)

// PreflightPrompt is sent to detect a model producing garbled output.
const PreflightPrompt = "Responda apenas: SELECT 1"

// SQLGenerationPrompt is the compact SQL prompt. It is a Go template
// rendered by langchaingo.
const SQLGenerationPrompt = `Você é um especialista em SQL PostgreSQL. Gere APENAS o código SQL para a pergunta.

TABELAS DISPONÍVEIS:
{{range .Tables}}- public.{{.Name}} ({{.Alias}}) - campos: {{.Columns}}
{{end}}
RELACIONAMENTOS:
- pv.pedi_forn = e.enti_clie (clientes)
- pv.pedi_vend = e.enti_clie (vendedores)
- i.iped_pedi = pv.pedi_nume
- i.iped_prod = p.prod_codi

REGRAS:
1. SEMPRE use WHERE [tabela]_empr = {{.Company}}
2. Para contagem: COUNT(DISTINCT campo) ou COUNT(*)
3. Para soma: SUM(campo)
4. Use aliases: pv, e, i, p

TIPO DE CONSULTA DETECTADO: {{.Intent}}
{{if .Instructions}}
INSTRUÇÕES:
{{range .Instructions}}- {{.}}
{{end}}{{end}}{{if .EntityHints}}
TIPOS DE ENTIDADE:
{{range .EntityHints}}- considere apenas entidades do tipo {{.Type}} - {{.Description}}
{{end}}{{end}}{{if .Glossary}}
GLOSSÁRIO:
{{range .Glossary}}- "{{.Phrase}}" significa {{.Meaning}}
{{end}}{{end}}
EXEMPLOS:
{{range .Examples}}- "{{.Question}}" → {{.SQL}}
{{end}}{{if .Context}}
{{.Context}}
{{end}}{{if .SuggestedSQL}}
GERE EXATAMENTE ESTE SQL: {{.SuggestedSQL}}
{{end}}
PERGUNTA: {{.Question}}

Resposta (APENAS SQL):`

// SummaryPrompt turns result rows into a short answer.
const SummaryPrompt = `Você é um especialista em análise de dados e precisa responder de forma clara e objetiva com base nos dados abaixo.

- Pergunta original do usuário: "{{.Question}}"
- Consulta SQL executada: {{.SQL}}
- Resultado obtido da consulta: {{.Rows}}

Responda SOMENTE com base nos dados retornados. Não invente nada.

Regras:
- Se houver total, diga: "O total foi de R$ X mil" ou "X unidades", conforme o campo.
- Se for uma contagem, diga: "Foram encontrados X registros."
- Se for média, diga: "A média foi de X por Y."
- Nunca diga "parece que..." ou "há indícios...".
- Se não houver resultados, diga: "Nenhum dado foi encontrado para essa consulta."
- Não repita a consulta SQL na resposta.

Responda agora:`

// GoldenExample is a worked question/SQL pair shown to the model.
type GoldenExample struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

var goldenExamples = []GoldenExample{
	{"quantos pedidos", "SELECT COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa};"},
	{"quantos pedidos este ano", "SELECT COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa} AND EXTRACT(YEAR FROM pv.pedi_data) = EXTRACT(YEAR FROM CURRENT_DATE);"},
	{"total faturado", "SELECT SUM(pv.pedi_tota) AS total_faturado FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa};"},
	{"produtos mais vendidos", "SELECT p.prod_nome, SUM(i.iped_quan) AS quantidade_vendida FROM public.itenspedidovenda i JOIN public.produtos p ON i.iped_prod = p.prod_codi WHERE i.iped_empr = {empresa} AND p.prod_empr = {empresa} GROUP BY p.prod_nome ORDER BY quantidade_vendida DESC LIMIT 10;"},
	{"vendas por vendedor", "SELECT e.enti_nome AS vendedor, SUM(pv.pedi_tota) AS total_vendido FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_vend = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti = 'VE' GROUP BY e.enti_nome ORDER BY total_vendido DESC;"},
	{"quantos pedidos por vendedor", "SELECT e.enti_nome AS vendedor, COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_vend = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti = 'VE' GROUP BY e.enti_nome ORDER BY total_pedidos DESC;"},
	{"quantas entidades", "SELECT COUNT(*) AS total_entidades FROM public.entidades e WHERE e.enti_empr = {empresa};"},
	{"quantos clientes", "SELECT COUNT(*) AS total_clientes FROM public.entidades e WHERE e.enti_empr = {empresa} AND e.enti_tipo_enti = 'CL';"},
	{"quantos vendedores", "SELECT COUNT(*) AS total_vendedores FROM public.entidades e WHERE e.enti_empr = {empresa} AND e.enti_tipo_enti = 'VE';"},
	{"quantos itens vendidos", "SELECT SUM(i.iped_quan) AS total_itens_vendidos FROM public.itenspedidovenda i WHERE i.iped_empr = {empresa};"},
	{"quantas linhas de itens", "SELECT COUNT(*) AS total_linhas_itens FROM public.itenspedidovenda i WHERE i.iped_empr = {empresa};"},
	{"vendas de janeiro a março", "SELECT SUM(pv.pedi_tota) AS total_periodo FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa} AND EXTRACT(MONTH FROM pv.pedi_data) BETWEEN 1 AND 3 AND EXTRACT(YEAR FROM pv.pedi_data) = EXTRACT(YEAR FROM CURRENT_DATE);"},
	{"vendas por cliente", "SELECT e.enti_nome AS cliente, SUM(pv.pedi_tota) AS total_comprado FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_forn = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti IN ('CL', 'AM') GROUP BY e.enti_nome ORDER BY total_comprado DESC;"},
}

// GoldenExamples returns the worked examples for a company code.
func GoldenExamples(company int) []GoldenExample {
	if company <= 0 {
		company = DefaultCompany
	}
	code := strconv.Itoa(company)
	out := make([]GoldenExample, len(goldenExamples))
	for i, ex := range goldenExamples {
		out[i] = GoldenExample{Question: ex.Question, SQL: strings.ReplaceAll(ex.SQL, companyPlaceholder, code)}
	}
	return out
}

// TableHint describes one table to the model.
type TableHint struct {
	Name    string
	Alias   string
	Columns string
}

// PromptInput carries every field of the SQL prompt. The question stays
// apart from the control metadata around it.
type PromptInput struct {
	Question     string
	Intent       Intent
	Company      int
	Tables       []TableHint
	Instructions []string
	EntityHints  []lexicon.EntityHint
	Glossary     []lexicon.Term
	Examples     []GoldenExample
	Conversation memory.Context
	SuggestedSQL string
}

type tableInstruction struct {
	mandatory string
	forbidden string
	hint      string
}

var tableInstructions = map[string]tableInstruction{
	lexicon.TableEntidades: {
		mandatory: "OBRIGATÓRIO: Use APENAS a tabela public.entidades com alias 'e'.",
		forbidden: "NUNCA use pedidosvenda, itenspedidovenda ou produtos para contar entidades.",
		hint:      "Para clientes use enti_tipo_enti = 'CL', para vendedores use 'VE', para fornecedores use 'FO'.",
	},
	lexicon.TableItensPedidoVenda: {
		mandatory: "OBRIGATÓRIO: Use APENAS a tabela public.itenspedidovenda com alias 'i'.",
		forbidden: "NUNCA use pedidosvenda diretamente para contar itens vendidos.",
		hint:      "Para quantidade de itens use SUM(i.iped_quan), para contar linhas use COUNT(*).",
	},
	lexicon.TableProdutos: {
		mandatory: "OBRIGATÓRIO: Use APENAS a tabela public.produtos com alias 'p'.",
		forbidden: "NUNCA use outras tabelas para contar produtos do catálogo.",
		hint:      "Para produtos ativos adicione filtros de status se necessário.",
	},
	lexicon.TablePedidosVenda: {
		mandatory: "Use a tabela public.pedidosvenda com alias 'pv'.",
		hint:      "Para contagem use COUNT(DISTINCT pv.pedi_nume), para faturamento use SUM(pv.pedi_tota).",
	},
}

// TableInstructions returns the forced-table instructions for an intent.
func TableInstructions(intent Intent, company int) []string {
	cfg, ok := tableInstructions[intent.Table]
	if !ok {
		return nil
	}
	if company <= 0 {
		company = DefaultCompany
	}

	out := []string{cfg.mandatory}
	if cfg.forbidden != "" {
		out = append(out, cfg.forbidden)
	}
	out = append(out,
		fmt.Sprintf("SEMPRE inclua o filtro: %s.%s = %d", lexicon.AliasFor(intent.Table), lexicon.TenantColumnFor(intent.Table), company),
		cfg.hint,
	)

	switch intent.Operation {
	case OpContagem:
		switch intent.Table {
		case lexicon.TableEntidades:
			out = append(out, "Use COUNT(*) para contar registros de entidades.")
		case lexicon.TableItensPedidoVenda:
			out = append(out, "Para contar LINHAS de itens use COUNT(*), para QUANTIDADE vendida use SUM(iped_quan).")
		case lexicon.TablePedidosVenda:
			out = append(out, "Use COUNT(DISTINCT pedi_nume) para contar pedidos únicos.")
		}
	case OpSoma, OpSomaQuantidade:
		switch intent.Table {
		case lexicon.TablePedidosVenda:
			out = append(out, "Use SUM(pedi_tota) para somar valores de faturamento.")
		case lexicon.TableItensPedidoVenda:
			out = append(out, "Use SUM(iped_quan) para somar quantidades de itens.")
		}
	}
	return out
}

// PromptBuilder assembles and renders prompts.
type PromptBuilder struct {
	sqlTemplate     prompts.PromptTemplate
	summaryTemplate prompts.PromptTemplate
	templates       *Templates
}

// NewPromptBuilder creates a builder; templates supply the suggested SQL.
func NewPromptBuilder(templates *Templates) *PromptBuilder {
	return &PromptBuilder{
		sqlTemplate: prompts.NewPromptTemplate(SQLGenerationPrompt,
			[]string{"Tables", "Company", "Intent", "Instructions", "EntityHints", "Glossary", "Examples", "Context", "SuggestedSQL", "Question"}),
		summaryTemplate: prompts.NewPromptTemplate(SummaryPrompt, []string{"Question", "SQL", "Rows"}),
		templates:       templates,
	}
}

// Build collects the prompt fields for a question.
func (b *PromptBuilder) Build(question string, intent Intent, d *schema.Descriptor, company int, conversation memory.Context) PromptInput {
	if company <= 0 {
		company = DefaultCompany
	}
	in := PromptInput{
		Question:     strings.TrimSpace(question),
		Intent:       intent,
		Company:      company,
		Tables:       tableHints(d),
		Instructions: TableInstructions(intent, company),
		EntityHints:  lexicon.DetectEntityHints(question),
		Examples:     GoldenExamples(company),
		Conversation: conversation,
	}
	in.Glossary = append(in.Glossary, lexicon.MatchTerms(question, lexicon.NaturalFilters)...)
	in.Glossary = append(in.Glossary, lexicon.MatchTerms(question, lexicon.PeriodFilters)...)
	in.Glossary = append(in.Glossary, lexicon.MatchTerms(question, lexicon.ComparisonFilters)...)

	if b.templates != nil {
		if direct, ok := b.templates.Direct(question, intent, company); ok {
			in.SuggestedSQL = direct.SQL
		}
	}
	return in
}

func tableHints(d *schema.Descriptor) []TableHint {
	if d == nil {
		return nil
	}
	var hints []TableHint
	seen := make(map[string]bool)
	add := func(name string) {
		t, ok := d.Table(name)
		if !ok || seen[t.Name] {
			return
		}
		seen[t.Name] = true
		alias := lexicon.AliasFor(t.Name)
		if alias == "" {
			alias = t.Name
		}
		hints = append(hints, TableHint{Name: t.Name, Alias: alias, Columns: strings.Join(t.ColumnNames(), ", ")})
	}
	for _, set := range lexicon.TableKeywordSets {
		add(set.Table)
	}
	for _, name := range d.TableNames() {
		add(name)
	}
	return hints
}

// RenderSQL renders the SQL generation prompt.
func (b *PromptBuilder) RenderSQL(in PromptInput) (string, error) {
	ctx := ""
	if !in.Conversation.Empty() {
		ctx = in.Conversation.String()
	}
	prompt, err := b.sqlTemplate.Format(map[string]any{
		"Tables":       in.Tables,
		"Company":      in.Company,
		"Intent":       in.Intent.Tag(),
		"Instructions": in.Instructions,
		"EntityHints":  in.EntityHints,
		"Glossary":     in.Glossary,
		"Examples":     in.Examples,
		"Context":      ctx,
		"SuggestedSQL": in.SuggestedSQL,
		"Question":     in.Question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render SQL prompt: %w", err)
	}
	return prompt, nil
}

// RenderSummary renders the result summary prompt.
func (b *PromptBuilder) RenderSummary(question, sql string, rows []map[string]any) (string, error) {
	encoded, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode rows: %w", err)
	}
	prompt, err := b.summaryTemplate.Format(map[string]any{
		"Question": question,
		"SQL":      sql,
		"Rows":     string(encoded),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render summary prompt: %w", err)
	}
	return prompt, nil
}
