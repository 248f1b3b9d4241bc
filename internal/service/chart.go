package service

import (
	"errors"
	"fmt"
	"strings"
)

// Chart types.
const (
	ChartBar  = "bar"
	ChartLine = "line"
	ChartPie  = "pie"
)

// MaxChartPoints bounds the series length.
const MaxChartPoints = 20

var (
	errChartTooFewRows = errors.New("chart needs at least two rows")
	errChartNoSeries   = errors.New("no label and numeric column pair")
)

// Chart describes a chart independently of the renderer.
type Chart struct {
	Type   string    `json:"type"`
	Title  string    `json:"title"`
	XField string    `json:"x_field"`
	YField string    `json:"y_field"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

var (
	timeLabelWords = []string{"data", "mes", "mês", "ano", "dia", "periodo", "período", "semana"}
	shareWords     = []string{"participação", "percentual", "distribuição", "proporção"}
)

// ChartSuggester picks a chart for a result shape.
type ChartSuggester struct{}

// NewChartSuggester returns the suggester.
func NewChartSuggester() *ChartSuggester {
	return &ChartSuggester{}
}

// Suggest returns a chart for rows with one label column and one numeric
// column, or an error describing why none fits.
func (s *ChartSuggester) Suggest(question string, columns []string, rows []map[string]any) (*Chart, error) {
	if len(rows) < 2 {
		return nil, errChartTooFewRows
	}
	labelCol, valueCol := pickSeries(columns, rows[0])
	if labelCol == "" || valueCol == "" {
		return nil, errChartNoSeries
	}

	n := min(len(rows), MaxChartPoints)
	chart := &Chart{
		Type:   ChartBar,
		Title:  strings.TrimSpace(question),
		XField: labelCol,
		YField: valueCol,
		Labels: make([]string, 0, n),
		Values: make([]float64, 0, n),
	}
	for _, row := range rows[:n] {
		v, ok := toFloat(row[valueCol])
		if !ok {
			return nil, fmt.Errorf("column %s is not numeric in every row", valueCol)
		}
		chart.Labels = append(chart.Labels, fmt.Sprint(row[labelCol]))
		chart.Values = append(chart.Values, v)
	}

	q := strings.ToLower(question)
	lowerLabel := strings.ToLower(labelCol)
	switch {
	case containsWord(lowerLabel, timeLabelWords):
		chart.Type = ChartLine
	case n <= 6 && containsWord(q, shareWords):
		chart.Type = ChartPie
	}
	return chart, nil
}

func pickSeries(columns []string, first map[string]any) (label, value string) {
	for _, c := range columns {
		v := first[c]
		if _, numeric := toFloat(v); numeric {
			if value == "" && !isGroupColumn(c) {
				value = c
			}
			continue
		}
		if label == "" && v != nil {
			label = c
		}
	}
	return label, value
}

func containsWord(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
