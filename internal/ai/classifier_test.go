package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"consulta-go/internal/lexicon"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		question string
		tag      string
	}{
		{"quantos clientes", "entidades_contagem"},
		{"Quantos clientes?", "entidades_contagem"},
		{"total faturado em 2024", "pedidosvenda_soma_periodo"},
		{"quantos itens vendidos", "itenspedidovenda_soma_quantidade"},
		{"produtos mais vendidos", "produtos_geral_agrupamento"},
		{"vendas por vendedor", "pedidosvenda_geral_agrupamento"},
		{"vendas por cliente", "pedidosvenda_geral_agrupamento"},
		{"quantos pedidos por vendedor", "pedidosvenda_contagem_agrupamento"},
		{"quantas linhas de itens", "itenspedidovenda_contagem"},
		{"vendas de janeiro a março", "pedidosvenda_geral_periodo"},
		{"quantos pedidos este ano", "pedidosvenda_contagem_periodo"},
		{"", "pedidosvenda_geral"},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.tag, c.Classify(tt.question).Tag())
		})
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := NewClassifier()
	first := c.Classify("total faturado em 2024")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, c.Classify("total faturado em 2024"))
	}
	assert.Equal(t, lexicon.TablePedidosVenda, first.Table)
	assert.Equal(t, OpSoma, first.Operation)
	assert.True(t, first.Has(ModPeriodo))
	assert.False(t, first.Has(ModAgrupamento))
}

func TestClassifier_NoKeywordDefaultsToPedidos(t *testing.T) {
	intent := NewClassifier().Classify("me mostre algo interessante")
	assert.Equal(t, lexicon.TablePedidosVenda, intent.Table)
	assert.Equal(t, OpGeral, intent.Operation)
}

func TestIntent_Tags(t *testing.T) {
	i := Intent{Table: "pedidosvenda", Operation: OpSoma, Modifiers: []Modifier{ModAgrupamento, ModPeriodo}}
	assert.Equal(t, "pedidosvenda_soma_agrupamento_periodo", i.Tag())
	assert.Equal(t, "pedidosvenda_soma", i.BaseTag())
}

func TestClassifier_YearLiteral(t *testing.T) {
	c := NewClassifier()

	year, ok := c.YearLiteral("total faturado em 2031")
	assert.True(t, ok)
	assert.Equal(t, 2031, year)

	_, ok = c.YearLiteral("pedido 120245")
	assert.False(t, ok)

	_, ok = c.YearLiteral("total faturado em 1999")
	assert.False(t, ok)
}
