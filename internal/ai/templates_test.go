package ai

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consulta-go/internal/lexicon"
)

func TestTemplates_AllVariantsAreTenantScopedAndSafe(t *testing.T) {
	v := newTestValidator()

	keys := make([]string, 0, len(defaultTemplates))
	for k := range defaultTemplates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for variant, raw := range defaultTemplates[key] {
			sql := strings.NewReplacer(companyPlaceholder, "1", yearPlaceholder, "2024").Replace(raw)
			t.Run(key+"/"+variant, func(t *testing.T) {
				report := v.Validate(sql)
				require.True(t, report.Valid, report.Summary())

				tables := v.ReferencedTables(strings.ToLower(sql))
				require.NotEmpty(t, tables)
				for _, tbl := range tables {
					assert.Contains(t, sql, tbl.TenantColumn()+" = 1", "table %s", tbl.Name)
				}
			})
		}
	}
}

func TestTemplates_Direct(t *testing.T) {
	c := NewClassifier()
	tpl := NewTemplates(c)

	out, ok := tpl.Direct("quantos clientes", c.Classify("quantos clientes"), 3)
	require.True(t, ok)
	assert.Equal(t, SourceExact, out.Source)
	assert.Equal(t, VariantClientes, out.Variant)
	assert.Contains(t, out.SQL, "e.enti_empr = 3")
	assert.Contains(t, out.SQL, "'CL'")
	assert.NotContains(t, out.SQL, companyPlaceholder)
}

func TestTemplates_YearVariant(t *testing.T) {
	c := NewClassifier()
	tpl := NewTemplates(c)

	out := tpl.Render("total faturado em 2027", c.Classify("total faturado em 2027"), 1)
	assert.Equal(t, "pedidosvenda_soma_periodo", out.Key)
	assert.Equal(t, VariantAno, out.Variant)
	assert.Contains(t, out.SQL, "EXTRACT(YEAR FROM pv.pedi_data) = 2027")
	assert.NotContains(t, out.SQL, yearPlaceholder)
}

func TestTemplates_CurrentYearVariant(t *testing.T) {
	c := NewClassifier()
	tpl := NewTemplates(c)

	out := tpl.Render("quantos pedidos este ano", c.Classify("quantos pedidos este ano"), 1)
	assert.Equal(t, "pedidosvenda_contagem_periodo", out.Key)
	assert.Contains(t, out.SQL, "EXTRACT(YEAR FROM CURRENT_DATE)")
}

func TestTemplates_FallbackOrder(t *testing.T) {
	tpl := NewTemplates(nil)

	base := tpl.Render("x", Intent{Table: lexicon.TableEntidades, Operation: OpContagem, Modifiers: []Modifier{ModAgrupamento, ModPeriodo}}, 1)
	assert.Equal(t, SourceBase, base.Source)
	assert.Equal(t, "entidades_contagem", base.Key)

	coarse := tpl.Render("x", Intent{Table: lexicon.TableProdutos, Operation: OpSoma}, 1)
	assert.Equal(t, SourceCoarse, coarse.Source)
	assert.Contains(t, coarse.SQL, "SUM(pv.pedi_tota)")

	last := tpl.Render("x", Intent{Table: lexicon.TableEntidades, Operation: OpGeral}, 1)
	assert.Equal(t, SourceLastResort, last.Source)
	assert.Equal(t, "SELECT COUNT(*) AS total FROM public.pedidosvenda pv WHERE pv.pedi_empr = 1", last.SQL)
}

func TestTemplates_DefaultCompany(t *testing.T) {
	tpl := NewTemplates(nil)
	out := tpl.Render("quantos produtos", Intent{Table: lexicon.TableProdutos, Operation: OpContagem}, 0)
	assert.Contains(t, out.SQL, "p.prod_empr = 1")
}

func TestTemplates_VariantWithEntityWord(t *testing.T) {
	tpl := NewTemplates(nil)
	somaPeriodo := Intent{Table: lexicon.TablePedidosVenda, Operation: OpSoma, Modifiers: []Modifier{ModPeriodo}}
	contagemPeriodo := Intent{Table: lexicon.TablePedidosVenda, Operation: OpContagem, Modifiers: []Modifier{ModPeriodo}}
	itensPeriodo := Intent{Table: lexicon.TableItensPedidoVenda, Operation: OpSomaQuantidade, Modifiers: []Modifier{ModPeriodo}}
	soma := Intent{Table: lexicon.TablePedidosVenda, Operation: OpSoma}

	tests := []struct {
		name     string
		question string
		intent   Intent
		variant  string
		contains string
	}{
		{"clientes em ano explicito", "total faturado para clientes em 2023", somaPeriodo, VariantAno, "pv.pedi_data) = 2023"},
		{"vendedores em ano explicito", "quantos pedidos dos vendedores em 2023", contagemPeriodo, VariantAno, "pv.pedi_data) = 2023"},
		{"fornecedores em ano explicito", "itens vendidos pelos fornecedores em 2023", itensPeriodo, VariantAno, "pv.pedi_data) = 2023"},
		{"clientes este ano", "total faturado para clientes este ano", somaPeriodo, VariantAnoAtual, "EXTRACT(YEAR FROM CURRENT_DATE)"},
		{"clientes por meses", "total faturado para clientes de janeiro a março", soma, VariantPeriodo, "EXTRACT(YEAR FROM CURRENT_DATE)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tpl.Render(tt.question, tt.intent, 1)
			assert.Equal(t, tt.variant, out.Variant)
			assert.Contains(t, out.SQL, tt.contains)
			assert.NotContains(t, out.SQL, yearPlaceholder)
		})
	}
}

func TestTemplates_EntityVariantWinsWhenDefined(t *testing.T) {
	tpl := NewTemplates(nil)
	out, ok := tpl.Direct("quantos clientes em 2023", Intent{Table: lexicon.TableEntidades, Operation: OpContagem}, 1)
	require.True(t, ok)
	assert.Equal(t, VariantClientes, out.Variant)
}

func TestTemplates_ClassifiedYearWithClientes(t *testing.T) {
	c := NewClassifier()
	tpl := NewTemplates(c)

	q := "total faturado para clientes em 2023"
	out := tpl.Render(q, c.Classify(q), 1)
	assert.Contains(t, out.SQL, "2023")
	assert.NotContains(t, out.SQL, "CURRENT_DATE")
}

func TestTemplates_PeriodWordNeedsWordBoundary(t *testing.T) {
	tpl := NewTemplates(nil)
	soma := Intent{Table: lexicon.TablePedidosVenda, Operation: OpSoma}

	for _, q := range []string{"total faturado do fulano", "valor total dos planos", "faturamento do mesmo grupo"} {
		t.Run(q, func(t *testing.T) {
			out := tpl.Render(q, soma, 1)
			assert.Equal(t, VariantDefault, out.Variant)
			assert.NotContains(t, out.SQL, "EXTRACT")
		})
	}

	out := tpl.Render("total faturado no ano", soma, 1)
	assert.Equal(t, VariantPeriodo, out.Variant)
}
