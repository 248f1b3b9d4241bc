package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultMaxRecords is how many rows the formatter prints.
const DefaultMaxRecords = 15

const (
	currencyFormat = "#.###,##"
	integerFormat  = "#.###,"
)

// columnKind decides how a column is printed.
type columnKind int

const (
	columnText columnKind = iota
	columnCount
	columnMoney
)

var (
	countWords = []string{"quan", "qtd", "count", "pedidos", "itens", "linhas", "entidades", "clientes", "vendedores", "fornecedores", "produtos", "registros"}
	moneyWords = []string{"tota", "prec", "cust", "valor", "fatur", "vendido", "comprado", "receita"}
	groupWords = []string{"empr", "fili"}
)

func classifyColumn(name string) columnKind {
	lower := strings.ToLower(name)
	if lower == "total" {
		return columnCount
	}
	for _, w := range countWords {
		if strings.Contains(lower, w) {
			return columnCount
		}
	}
	for _, w := range moneyWords {
		if strings.Contains(lower, w) {
			return columnMoney
		}
	}
	return columnText
}

func isGroupColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, w := range groupWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Formatter renders result rows as chat text.
type Formatter struct {
	MaxRecords int
}

// NewFormatter returns a formatter printing DefaultMaxRecords rows.
func NewFormatter() *Formatter {
	return &Formatter{MaxRecords: DefaultMaxRecords}
}

// Format renders rows. columns fixes the column order; when empty the
// keys of the first row are used, sorted.
func (f *Formatter) Format(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	if len(columns) == 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	if len(rows) == 1 && len(columns) == 1 {
		col := columns[0]
		return fmt.Sprintf("**%s**: %s", col, FormatValue(col, rows[0][col]))
	}

	var groupCols, dataCols []string
	for _, c := range columns {
		if isGroupColumn(c) {
			groupCols = append(groupCols, c)
		} else {
			dataCols = append(dataCols, c)
		}
	}
	if len(dataCols) == 0 {
		dataCols, groupCols = groupCols, nil
	}

	limit := f.MaxRecords
	if limit <= 0 {
		limit = DefaultMaxRecords
	}
	shown := rows
	if len(shown) > limit {
		shown = shown[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Resultados** (%d registros):\n", len(rows))

	if len(groupCols) == 0 {
		f.writeRecords(&b, dataCols, shown, 1)
	} else {
		n := 1
		for _, g := range groupRows(groupCols, shown) {
			fmt.Fprintf(&b, "\n🏢 **%s**\n", g.label)
			f.writeRecords(&b, dataCols, g.rows, n)
			n += len(g.rows)
		}
	}

	if extra := len(rows) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "\n... e mais %d registros.", extra)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f *Formatter) writeRecords(b *strings.Builder, columns []string, rows []map[string]any, first int) {
	width := 0
	for _, c := range columns {
		width = max(width, len(c))
	}
	for i, row := range rows {
		fmt.Fprintf(b, "\n🔸 Registro %d:\n", first+i)
		values := make([]string, len(columns))
		valueWidth := 0
		for j, c := range columns {
			values[j] = FormatValue(c, row[c])
			if classifyColumn(c) != columnText {
				valueWidth = max(valueWidth, len([]rune(values[j])))
			}
		}
		for j, c := range columns {
			v := values[j]
			if classifyColumn(c) != columnText {
				// numbers are right aligned in their own column
				v = strings.Repeat(" ", valueWidth-len([]rune(v))) + v
			}
			fmt.Fprintf(b, "   %-*s  %s\n", width+1, c+":", v)
		}
	}
}

type rowGroup struct {
	label string
	rows  []map[string]any
}

// groupRows keeps the order in which groups first appear.
func groupRows(groupCols []string, rows []map[string]any) []rowGroup {
	var groups []rowGroup
	index := make(map[string]int)
	for _, row := range rows {
		parts := make([]string, len(groupCols))
		for i, c := range groupCols {
			parts[i] = groupLabel(c) + " " + FormatValue("", row[c])
		}
		label := strings.Join(parts, " / ")
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, rowGroup{label: label})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}

func groupLabel(col string) string {
	if strings.Contains(strings.ToLower(col), "fili") {
		return "Filial"
	}
	return "Empresa"
}

// FormatValue renders one value using the heuristics of its column name:
// monetary columns as R$ with two decimals, count columns as integers.
func FormatValue(column string, value any) string {
	if value == nil {
		return "-"
	}
	n, numeric := toFloat(value)
	if !numeric {
		return fmt.Sprint(value)
	}
	switch classifyColumn(column) {
	case columnMoney:
		return "R$ " + humanize.FormatFloat(currencyFormat, n)
	case columnCount:
		return humanize.FormatFloat(integerFormat, math.Round(n))
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return humanize.FormatFloat(integerFormat, n)
	}
	return humanize.FormatFloat(currencyFormat, n)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
