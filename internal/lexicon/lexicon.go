// Package lexicon holds the static vocabulary used to interpret questions about
// the sales database: table keywords, aliases, entity types and the natural
// language synonym maps fed into prompts.
package lexicon

import (
	"regexp"
	"sort"
	"strings"
)

// Table names of the sales schema family.
const (
	TableEntidades        = "entidades"
	TableItensPedidoVenda = "itenspedidovenda"
	TableProdutos         = "produtos"
	TablePedidosVenda     = "pedidosvenda"
)

// TenantSuffix marks the company column of every table.
const TenantSuffix = "_empr"

// DefaultSchemaName is the schema every table lives in.
const DefaultSchemaName = "public"

// TableKeywords keyword phrases and priority divisor for one table.
type TableKeywords struct {
	Table    string
	Keywords []string
	// Priority divides the raw score; a lower value wins ties.
	Priority int
}

// TableKeywordSets in the fixed order used to break score ties.
var TableKeywordSets = []TableKeywords{
	{
		Table: TableEntidades,
		Keywords: []string{
			"entidades", "clientes", "vendedores", "fornecedores", "representantes",
			"quantas entidades", "quantos vendedores", "quantos clientes", "quantos fornecedores",
			"cadastro de", "base de clientes", "equipe de vendas",
		},
		Priority: 1,
	},
	{
		Table: TableItensPedidoVenda,
		Keywords: []string{
			"itens", "produtos vendidos", "quantidades", "quantos itens", "itens vendidos",
			"itens foram vendidos", "quantidade de itens", "total de itens", "linhas de pedido",
			"detalhes do pedido", "produtos por pedido",
		},
		Priority: 2,
	},
	{
		Table: TableProdutos,
		Keywords: []string{
			"produtos", "catálogo", "estoque", "quantos produtos", "cadastro de produtos",
			"lista de produtos", "inventário", "mercadorias",
		},
		Priority: 3,
	},
	{
		Table: TablePedidosVenda,
		Keywords: []string{
			"pedidos", "vendas", "faturamento", "faturado", "receita", "quantos pedidos",
			"total faturado", "valor total", "vendas totais", "receita total",
		},
		Priority: 4,
	},
}

// TableAliases maps the conventional SQL alias to its table.
var TableAliases = map[string]string{
	"pv": TablePedidosVenda,
	"e":  TableEntidades,
	"i":  TableItensPedidoVenda,
	"p":  TableProdutos,
}

// AliasFor returns the conventional alias of a table.
func AliasFor(table string) string {
	for alias, t := range TableAliases {
		if t == table {
			return alias
		}
	}
	return ""
}

// TenantColumnFor returns the company column of one of the known tables.
func TenantColumnFor(table string) string {
	switch table {
	case TablePedidosVenda:
		return "pedi" + TenantSuffix
	case TableEntidades:
		return "enti" + TenantSuffix
	case TableItensPedidoVenda:
		return "iped" + TenantSuffix
	case TableProdutos:
		return "prod" + TenantSuffix
	}
	return ""
}

// EntityType is the value of enti_tipo_enti.
type EntityType string

const (
	EntityCliente     EntityType = "CL"
	EntityVendedor    EntityType = "VE"
	EntityFornecedor  EntityType = "FO"
	EntityAmbos       EntityType = "AM"
	EntityOutros      EntityType = "OU"
	EntityFuncionario EntityType = "FU"
)

// EntityHint describes an entity type detected in a question.
type EntityHint struct {
	Type        EntityType
	Description string
}

var entityHintWords = []struct {
	words []string
	hint  EntityHint
}{
	{[]string{"vendedor", "vendedores", "representante"}, EntityHint{EntityVendedor, "vendedores"}},
	{[]string{"cliente", "clientes", "comprador"}, EntityHint{EntityCliente, "clientes"}},
	{[]string{"fornecedor", "fornecedores"}, EntityHint{EntityFornecedor, "fornecedores"}},
}

// DetectEntityHints returns the entity types mentioned by the question. A
// question that already filters on enti_tipo_enti gets no hints.
func DetectEntityHints(question string) []EntityHint {
	q := strings.ToLower(question)
	if strings.Contains(q, "enti_tipo_enti") {
		return nil
	}
	var hints []EntityHint
	for _, h := range entityHintWords {
		for _, w := range h.words {
			if strings.Contains(q, w) {
				hints = append(hints, h.hint)
				break
			}
		}
	}
	return hints
}

// NaturalFilters maps business vocabulary to columns or predicates.
var NaturalFilters = map[string]string{
	"total faturado":     "pedi_tota",
	"faturamento":        "pedi_tota",
	"faturamento total":  "pedi_tota",
	"valor total":        "pedi_tota",
	"receita":            "pedi_tota",
	"receita total":      "pedi_tota",
	"vendas":             "pedi_tota",
	"total de vendas":    "pedi_tota",
	"total vendido":      "pedi_tota",
	"valor faturado":     "pedi_tota",
	"montante":           "pedi_tota",
	"valor do item":      "iped_tota",
	"total do item":      "iped_tota",
	"subtotal":           "iped_tota",
	"quantidade":         "iped_quan",
	"quantidade vendida": "iped_quan",
	"qtd":                "iped_quan",
	"qtde":               "iped_quan",
	"itens vendidos":     "iped_quan",
	"unidades":           "iped_quan",
	"unidades vendidas":  "iped_quan",
	"pedidos":            "pedi_nume",
	"número de pedidos":  "pedi_nume",
	"pedidos realizados": "pedi_nume",
	"total clientes":     "enti_tipo_enti = 'CL'",
	"cliente":            "enti_nome",
	"clientes":           "enti_nome",
	"comprador":          "enti_nome",
	"razão social":       "enti_nome",
	"total vendedores":   "enti_tipo_enti = 'VE'",
	"vendedor":           "enti_nome",
	"vendedores":         "enti_nome",
	"representante":      "enti_nome",
	"produto":            "prod_nome",
	"produtos":           "prod_nome",
	"mercadoria":         "prod_nome",
	"código do produto":  "prod_codi",
	"data do pedido":     "pedi_data",
	"data da venda":      "pedi_data",
	"preço unitário":     "iped_unit",
	"valor unitário":     "iped_unit",
	"desconto":           "iped_desc",
	"status":             "pedi_stat",
	"situação":           "pedi_stat",
	"cancelado":          "pedi_canc = true",
	"cancelados":         "pedi_canc = true",
	"filial":             "pedi_fili",
	"loja":               "pedi_fili",
	"custo":              "iped_cust",
	"frete":              "iped_fret",
	"margem":             "(iped_tota - iped_cust)",
	"lucro":              "(iped_tota - iped_cust)",
}

// PeriodFilters maps relative period expressions to predicates on pedi_data.
var PeriodFilters = map[string]string{
	"hoje":             "DATE(pedi_data) = CURRENT_DATE",
	"ontem":            "DATE(pedi_data) = CURRENT_DATE - INTERVAL '1 day'",
	"esta semana":      "DATE_TRUNC('week', pedi_data) = DATE_TRUNC('week', CURRENT_DATE)",
	"semana passada":   "DATE_TRUNC('week', pedi_data) = DATE_TRUNC('week', CURRENT_DATE - INTERVAL '1 week')",
	"este mês":         "DATE_TRUNC('month', pedi_data) = DATE_TRUNC('month', CURRENT_DATE)",
	"mês passado":      "DATE_TRUNC('month', pedi_data) = DATE_TRUNC('month', CURRENT_DATE - INTERVAL '1 month')",
	"este ano":         "EXTRACT(YEAR FROM pedi_data) = EXTRACT(YEAR FROM CURRENT_DATE)",
	"ano passado":      "EXTRACT(YEAR FROM pedi_data) = EXTRACT(YEAR FROM CURRENT_DATE) - 1",
	"últimos 7 dias":   "pedi_data >= CURRENT_DATE - INTERVAL '7 days'",
	"últimos 30 dias":  "pedi_data >= CURRENT_DATE - INTERVAL '30 days'",
	"últimos 90 dias":  "pedi_data >= CURRENT_DATE - INTERVAL '90 days'",
	"último trimestre": "pedi_data >= DATE_TRUNC('quarter', CURRENT_DATE - INTERVAL '3 months')",
}

// ComparisonFilters maps comparison phrases to SQL operators.
var ComparisonFilters = map[string]string{
	"maior que":      ">",
	"menor que":      "<",
	"igual a":        "=",
	"diferente de":   "!=",
	"maior ou igual": ">=",
	"menor ou igual": "<=",
	"acima de":       ">",
	"abaixo de":      "<",
	"superior a":     ">",
	"inferior a":     "<",
}

// Term is one lexicon phrase found in a question.
type Term struct {
	Phrase  string
	Meaning string
}

// MatchTerms returns the phrases of dict present in question, longest first.
// A phrase contained in a longer matched phrase is dropped.
func MatchTerms(question string, dict map[string]string) []Term {
	q := strings.ToLower(question)
	var found []Term
	for phrase, meaning := range dict {
		if strings.Contains(q, phrase) {
			found = append(found, Term{Phrase: phrase, Meaning: meaning})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if len(found[i].Phrase) != len(found[j].Phrase) {
			return len(found[i].Phrase) > len(found[j].Phrase)
		}
		return found[i].Phrase < found[j].Phrase
	})

	var out []Term
	for _, t := range found {
		covered := false
		for _, kept := range out {
			if strings.Contains(kept.Phrase, t.Phrase) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, t)
		}
	}
	return out
}

type groupByFix struct {
	re          *regexp.Regexp
	replacement string
}

// groupByFixes rewrites bare aliases after GROUP BY into real expressions.
var groupByFixes = buildGroupByFixes([][2]string{
	{"mes", "TO_CHAR(pedi_data, 'Month')"},
	{"ano", "EXTRACT(YEAR FROM pedi_data)"},
	{"dia", "EXTRACT(DAY FROM pedi_data)"},
	{"nome", "enti_nome"},
	{"nomes", "enti_nome"},
	{"empresa", "prod_empr"},
	{"empresas", "iped_empr"},
	{"empr", "pedi_empr"},
	{"produto", "prod_nome"},
	{"produtos", "prod_nome"},
	{"pedido", "pedi_nume"},
	{"pedidos", "pedi_nume"},
	{"quantidade", "iped_quan"},
	{"quantidades", "iped_quan"},
	{"total", "pedi_tota"},
	{"totais", "pedi_tota"},
	{"data", "pedi_data"},
})

func buildGroupByFixes(pairs [][2]string) []groupByFix {
	fixes := make([]groupByFix, 0, len(pairs))
	for _, p := range pairs {
		fixes = append(fixes, groupByFix{
			re:          regexp.MustCompile(`(?i)GROUP BY\s+` + p[0] + `\b`),
			replacement: "GROUP BY " + p[1],
		})
	}
	return fixes
}

// FixGroupByAliases replaces alias words used directly after GROUP BY.
func FixGroupByAliases(sql string) string {
	for _, f := range groupByFixes {
		sql = f.re.ReplaceAllLiteralString(sql, f.replacement)
	}
	return sql
}
