package ai

import (
	"regexp"
	"strconv"
	"strings"

	"consulta-go/internal/lexicon"
)

// Operation is the aggregate a question asks for.
type Operation string

const (
	OpContagem       Operation = "contagem"
	OpSomaQuantidade Operation = "soma_quantidade"
	OpSoma           Operation = "soma"
	OpGeral          Operation = "geral"
)

// Modifier refines an operation.
type Modifier string

const (
	ModAgrupamento Modifier = "agrupamento"
	ModPeriodo     Modifier = "periodo"
)

// Intent is the classified shape of a question.
type Intent struct {
	Table     string     `json:"table"`
	Operation Operation  `json:"operation"`
	Modifiers []Modifier `json:"modifiers,omitempty"`
}

// Tag renders table_operation[_agrupamento][_periodo].
func (i Intent) Tag() string {
	var b strings.Builder
	b.WriteString(i.BaseTag())
	for _, m := range i.Modifiers {
		b.WriteByte('_')
		b.WriteString(string(m))
	}
	return b.String()
}

// BaseTag renders table_operation without modifiers.
func (i Intent) BaseTag() string {
	return i.Table + "_" + string(i.Operation)
}

// Has reports whether the intent carries the modifier.
func (i Intent) Has(m Modifier) bool {
	for _, x := range i.Modifiers {
		if x == m {
			return true
		}
	}
	return false
}

// Go's \w and \b are ASCII only; questions are Portuguese.
const (
	wordChar    = `[\p{L}\p{N}_]`
	nonWordChar = `[^\p{L}\p{N}_]`
)

func bounded(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|` + nonWordChar + `)(?:` + expr + `)(?:` + nonWordChar + `|$)`)
}

type matcher interface {
	MatchString(s string) bool
}

// totalDeMatcher matches "total de <word>" unless the word is followed by
// vendido(s) or faturad...; RE2 has no lookahead so the check runs per match.
type totalDeMatcher struct {
	re *regexp.Regexp
}

func (m totalDeMatcher) MatchString(s string) bool {
	for _, sub := range m.re.FindAllStringSubmatch(s, -1) {
		if sub[1] == "" {
			return true
		}
	}
	return false
}

type operationGroup struct {
	operation    Operation
	patterns     []matcher
	excludeIf    []string
	requireTable []string
}

func (g operationGroup) matches(question, table string) bool {
	hit := false
	for _, p := range g.patterns {
		if p.MatchString(question) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, w := range g.excludeIf {
		if strings.Contains(question, w) {
			return false
		}
	}
	if len(g.requireTable) > 0 {
		for _, t := range g.requireTable {
			if t == table {
				return true
			}
		}
		return false
	}
	return true
}

// Classifier maps questions to intents. It is stateless and safe for
// concurrent use.
type Classifier struct {
	tables      []lexicon.TableKeywords
	operations  []operationGroup
	agrupamento []matcher
	periodo     []matcher
	year        *regexp.Regexp
}

// NewClassifier compiles the classification rules.
func NewClassifier() *Classifier {
	re := regexp.MustCompile
	return &Classifier{
		tables: lexicon.TableKeywordSets,
		operations: []operationGroup{
			{
				operation: OpContagem,
				patterns: []matcher{
					re(`quantos?\s+` + wordChar + `+`),
					re(`quantas?\s+` + wordChar + `+`),
					re(`número\s+de`),
					totalDeMatcher{re: re(`total\s+de\s+` + wordChar + `+(\s+(?:vendidos?|faturad))?`)},
					re(`contar`),
					re(`contagem`),
				},
				excludeIf: []string{"vendidos", "faturado", "receita", "valor"},
			},
			{
				operation: OpSomaQuantidade,
				patterns: []matcher{
					re(`itens?\s+vendidos?`),
					re(`quantidade\s+de\s+itens?`),
					re(`total\s+de\s+itens?\s+vendidos?`),
					re(`quantos?\s+itens?\s+(?:foram\s+)?vendidos?`),
				},
				requireTable: []string{lexicon.TableItensPedidoVenda},
			},
			{
				operation: OpSoma,
				patterns: []matcher{
					re(`faturamento`),
					re(`receita`),
					re(`total\s+faturado`),
					re(`valor\s+total`),
					re(`soma\s+de`),
					re(`vendas\s+totais`),
					re(`receita\s+total`),
				},
				excludeIf: []string{"quantos", "quantas", "número"},
			},
		},
		agrupamento: []matcher{
			re(`por\s+` + wordChar + `+`),
			re(`mais\s+vendidos?`),
			re(`ranking`),
			re(`top\s+\d+`),
			re(`maiores?`),
			re(`menores?`),
		},
		periodo: []matcher{
			bounded(`ano|mês|trimestre|semestre`),
			bounded(`janeiro|fevereiro|março|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro`),
			bounded(`20\d{2}`),
			re(`em\s+20\d{2}`),
			re(`durante\s+`),
			re(`período\s+de`),
		},
		year: bounded(`(20\d{2})`),
	}
}

// Classify scores the question against each table and detects operation and
// modifiers. Ties keep the first table in lexicon order; no keyword hit
// yields pedidosvenda.
func (c *Classifier) Classify(question string) Intent {
	q := strings.ToLower(strings.TrimSpace(question))

	intent := Intent{Table: c.scoreTable(q), Operation: OpGeral}

	for _, g := range c.operations {
		if g.matches(q, intent.Table) {
			intent.Operation = g.operation
			break
		}
	}

	if anyMatch(c.agrupamento, q) {
		intent.Modifiers = append(intent.Modifiers, ModAgrupamento)
	}
	if anyMatch(c.periodo, q) {
		intent.Modifiers = append(intent.Modifiers, ModPeriodo)
	}
	return intent
}

func (c *Classifier) scoreTable(q string) string {
	best := lexicon.TablePedidosVenda
	bestScore := 0.0
	for _, set := range c.tables {
		raw := 0
		for _, kw := range set.Keywords {
			if !strings.Contains(q, kw) {
				continue
			}
			if words := len(strings.Fields(kw)); words > 1 {
				raw += 2 * words
			} else {
				raw++
			}
		}
		if raw == 0 {
			continue
		}
		score := float64(raw) / float64(set.Priority)
		if score > bestScore {
			best, bestScore = set.Table, score
		}
	}
	return best
}

func anyMatch(ms []matcher, q string) bool {
	for _, m := range ms {
		if m.MatchString(q) {
			return true
		}
	}
	return false
}

// YearLiteral returns the first year between 2000 and 2099 written in the
// question.
func (c *Classifier) YearLiteral(question string) (int, bool) {
	m := c.year.FindStringSubmatch(question)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}
