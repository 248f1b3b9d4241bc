package ai

import (
	"strconv"
	"strings"

	"consulta-go/internal/lexicon"
)

const (
	companyPlaceholder = "{empresa}"
	yearPlaceholder    = "{ano}"
)

// DefaultCompany is the company code used when a tenant configures none.
const DefaultCompany = 1

// Template variant names.
const (
	VariantDefault      = "default"
	VariantClientes     = "clientes"
	VariantVendedores   = "vendedores"
	VariantFornecedores = "fornecedores"
	VariantAno          = "ano"
	VariantAnoAtual     = "ano_atual"
	VariantPeriodo      = "periodo"
)

// Template sources, from most to least specific.
const (
	SourceExact      = "exact"
	SourceBase       = "base"
	SourceCoarse     = "coarse"
	SourceLastResort = "last_resort"
)

type templateSet map[string]string

const (
	currentYear = "EXTRACT(YEAR FROM pv.pedi_data) = EXTRACT(YEAR FROM CURRENT_DATE)"
	pinnedYear  = "EXTRACT(YEAR FROM pv.pedi_data) = " + yearPlaceholder

	countPedidos  = "SELECT COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa}"
	sumFaturado   = "SELECT SUM(pv.pedi_tota) AS total_faturado FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa}"
	sumItens      = "SELECT SUM(i.iped_quan) AS total_itens_vendidos FROM public.itenspedidovenda i WHERE i.iped_empr = {empresa}"
	sumItensJoin  = "SELECT SUM(i.iped_quan) AS total_itens_vendidos FROM public.itenspedidovenda i JOIN public.pedidosvenda pv ON i.iped_pedi = pv.pedi_nume WHERE i.iped_empr = {empresa} AND pv.pedi_empr = {empresa}"
	countEntities = "SELECT COUNT(*) AS total_entidades FROM public.entidades e WHERE e.enti_empr = {empresa}"
	lastResort    = "SELECT COUNT(*) AS total FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa}"

	salesBySeller = "SELECT e.enti_nome AS vendedor, SUM(pv.pedi_tota) AS total_vendido FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_vend = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti = 'VE' GROUP BY e.enti_nome ORDER BY total_vendido DESC"
	salesByClient = "SELECT e.enti_nome AS cliente, SUM(pv.pedi_tota) AS total_comprado FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_forn = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti IN ('CL', 'AM') GROUP BY e.enti_nome ORDER BY total_comprado DESC"
	topProducts   = "SELECT p.prod_nome, SUM(i.iped_quan) AS quantidade_vendida FROM public.itenspedidovenda i JOIN public.produtos p ON i.iped_prod = p.prod_codi WHERE i.iped_empr = {empresa} AND p.prod_empr = {empresa} GROUP BY p.prod_nome ORDER BY quantidade_vendida DESC LIMIT 10"
)

// defaultTemplates is keyed by intent tag. Every entry filters on the
// tenant column of each table it reads and uses the aggregate its operation
// requires.
var defaultTemplates = map[string]templateSet{
	"entidades_contagem": {
		VariantDefault:      countEntities,
		VariantClientes:     "SELECT COUNT(*) AS total_clientes FROM public.entidades e WHERE e.enti_empr = {empresa} AND e.enti_tipo_enti = 'CL'",
		VariantVendedores:   "SELECT COUNT(*) AS total_vendedores FROM public.entidades e WHERE e.enti_empr = {empresa} AND e.enti_tipo_enti = 'VE'",
		VariantFornecedores: "SELECT COUNT(*) AS total_fornecedores FROM public.entidades e WHERE e.enti_empr = {empresa} AND e.enti_tipo_enti = 'FO'",
	},
	"pedidosvenda_contagem": {
		VariantDefault: countPedidos,
		VariantPeriodo: countPedidos + " AND " + currentYear,
	},
	"pedidosvenda_contagem_periodo": {
		VariantDefault: countPedidos + " AND " + currentYear,
		VariantAno:     countPedidos + " AND " + pinnedYear,
	},
	"pedidosvenda_contagem_agrupamento": {
		VariantDefault:  "SELECT e.enti_nome AS vendedor, COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_vend = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti = 'VE' GROUP BY e.enti_nome ORDER BY total_pedidos DESC",
		VariantClientes: "SELECT e.enti_nome AS cliente, COUNT(DISTINCT pv.pedi_nume) AS total_pedidos FROM public.pedidosvenda pv JOIN public.entidades e ON pv.pedi_forn = e.enti_clie WHERE pv.pedi_empr = {empresa} AND e.enti_empr = {empresa} AND e.enti_tipo_enti IN ('CL', 'AM') GROUP BY e.enti_nome ORDER BY total_pedidos DESC",
	},
	"itenspedidovenda_contagem": {
		VariantDefault: "SELECT COUNT(*) AS total_linhas_itens FROM public.itenspedidovenda i WHERE i.iped_empr = {empresa}",
	},
	"itenspedidovenda_soma_quantidade": {
		VariantDefault: sumItens,
		VariantPeriodo: sumItensJoin + " AND " + currentYear,
	},
	"itenspedidovenda_soma_quantidade_periodo": {
		VariantDefault: sumItensJoin + " AND " + currentYear,
		VariantAno:     sumItensJoin + " AND " + pinnedYear,
	},
	"itenspedidovenda_soma_quantidade_agrupamento": {
		VariantDefault: topProducts,
	},
	"pedidosvenda_soma": {
		VariantDefault: sumFaturado,
		VariantPeriodo: sumFaturado + " AND " + currentYear,
	},
	"pedidosvenda_soma_periodo": {
		VariantDefault:  sumFaturado + " AND " + currentYear,
		VariantAno:      sumFaturado + " AND " + pinnedYear,
		VariantAnoAtual: sumFaturado + " AND " + currentYear,
	},
	"pedidosvenda_soma_agrupamento": {
		VariantDefault:  salesBySeller + " LIMIT 10",
		VariantClientes: salesByClient + " LIMIT 10",
	},
	"pedidosvenda_geral_agrupamento": {
		VariantDefault:  salesBySeller,
		VariantClientes: salesByClient,
	},
	"pedidosvenda_geral_periodo": {
		VariantDefault: "SELECT SUM(pv.pedi_tota) AS total_periodo FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa} AND " + currentYear,
		VariantAno:     "SELECT SUM(pv.pedi_tota) AS total_periodo FROM public.pedidosvenda pv WHERE pv.pedi_empr = {empresa} AND " + pinnedYear,
	},
	"produtos_contagem": {
		VariantDefault: "SELECT COUNT(*) AS total_produtos FROM public.produtos p WHERE p.prod_empr = {empresa}",
	},
	"produtos_geral_agrupamento": {
		VariantDefault: topProducts,
	},
}

// TemplateSQL is a rendered template and where it came from.
type TemplateSQL struct {
	SQL     string `json:"sql"`
	Key     string `json:"key"`
	Variant string `json:"variant"`
	Source  string `json:"source"`
}

// Templates renders the deterministic SQL tier.
type Templates struct {
	sets       map[string]templateSet
	classifier *Classifier
}

// NewTemplates returns the built-in template catalogue.
func NewTemplates(classifier *Classifier) *Templates {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Templates{sets: defaultTemplates, classifier: classifier}
}

// Has reports whether the exact intent tag has a template.
func (t *Templates) Has(intent Intent) bool {
	_, ok := t.sets[intent.Tag()]
	return ok
}

// Direct renders the template for the exact intent tag, if one exists.
func (t *Templates) Direct(question string, intent Intent, company int) (TemplateSQL, bool) {
	set, ok := t.sets[intent.Tag()]
	if !ok {
		return TemplateSQL{}, false
	}
	variant, sql := t.pickVariant(set, question, intent)
	return TemplateSQL{
		SQL:     t.render(sql, company, question),
		Key:     intent.Tag(),
		Variant: variant,
		Source:  SourceExact,
	}, true
}

// Render always returns SQL: the exact tag, then table_operation, then a
// coarse default per operation, then a fixed count of orders.
func (t *Templates) Render(question string, intent Intent, company int) TemplateSQL {
	if out, ok := t.Direct(question, intent, company); ok {
		return out
	}

	if set, ok := t.sets[intent.BaseTag()]; ok {
		return TemplateSQL{
			SQL:     t.render(set[VariantDefault], company, question),
			Key:     intent.BaseTag(),
			Variant: VariantDefault,
			Source:  SourceBase,
		}
	}

	coarse := ""
	switch intent.Operation {
	case OpSoma, OpSomaQuantidade:
		coarse = sumFaturado
		if intent.Table == lexicon.TableItensPedidoVenda {
			coarse = sumItens
		}
	case OpContagem:
		coarse = countPedidos
		if intent.Table == lexicon.TableEntidades {
			coarse = countEntities
		}
	}
	if coarse != "" {
		return TemplateSQL{SQL: t.render(coarse, company, question), Key: string(intent.Operation), Variant: VariantDefault, Source: SourceCoarse}
	}

	return TemplateSQL{SQL: t.render(lastResort, company, question), Key: "default", Variant: VariantDefault, Source: SourceLastResort}
}

// periodWords marks a question as time-scoped without naming a year.
var periodWords = bounded(`anos?|mês|meses|mes|trimestres?|semestres?|janeiro|fevereiro|março|marco|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro`)

type variantRule struct {
	hit      func(q string) bool
	variants []string
}

// pickVariant walks the rules in order and takes the first variant the set
// defines; a rule whose variants are all missing falls through to the next.
func (t *Templates) pickVariant(set templateSet, question string, intent Intent) (string, string) {
	q := strings.ToLower(question)
	rules := []variantRule{
		{func(q string) bool { return strings.Contains(q, "cliente") }, []string{VariantClientes}},
		{func(q string) bool { return strings.Contains(q, "vendedor") }, []string{VariantVendedores}},
		{func(q string) bool { return strings.Contains(q, "fornecedor") }, []string{VariantFornecedores}},
		{func(q string) bool { _, ok := t.classifier.YearLiteral(q); return ok }, []string{VariantAno, VariantPeriodo}},
		{func(q string) bool { return containsAny(q, "ano atual", "este ano") }, []string{VariantAnoAtual, VariantPeriodo}},
		{func(q string) bool { return intent.Has(ModPeriodo) || periodWords.MatchString(q) }, []string{VariantPeriodo}},
	}
	for _, r := range rules {
		if !r.hit(q) {
			continue
		}
		for _, n := range r.variants {
			if sql, ok := set[n]; ok {
				return n, sql
			}
		}
	}
	return VariantDefault, set[VariantDefault]
}

func (t *Templates) render(sql string, company int, question string) string {
	if company <= 0 {
		company = DefaultCompany
	}
	year := ""
	if y, ok := t.classifier.YearLiteral(question); ok {
		year = strconv.Itoa(y)
	}
	if year == "" && strings.Contains(sql, yearPlaceholder) {
		// a pinned-year variant is only picked with a year present
		sql = strings.ReplaceAll(sql, pinnedYear, currentYear)
	}
	return strings.NewReplacer(
		companyPlaceholder, strconv.Itoa(company),
		yearPlaceholder, year,
	).Replace(sql)
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
