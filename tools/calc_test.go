package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		values []float64
		labels []string
		want   string
	}{
		{
			name:   "outperformance",
			kind:   "outperformance",
			values: []float64{5.2, 4.1},
			want:   "Outperformance Calculation:\nFund Return: +5.20%\nBenchmark Return: +4.10%\nOutperformance: +1.10%\n(Fund outperformed)",
		},
		{
			name:   "underperformance",
			kind:   "outperformance",
			values: []float64{-1, 2},
			want:   "Outperformance Calculation:\nFund Return: -1.00%\nBenchmark Return: +2.00%\nOutperformance: -3.00%\n(Fund underperformed)",
		},
		{
			name:   "outperformance needs two values",
			kind:   "outperformance",
			values: []float64{5.2},
			want:   "Need at least 2 values: fund_return and benchmark_return",
		},
		{
			name:   "attribution with mismatched labels",
			kind:   "attribution",
			values: []float64{3, 1},
			labels: []string{"Industrials"},
			want:   "Attribution Analysis:\n  Item 1: +3.00% (75.0% of total)\n  Item 2: +1.00% (25.0% of total)\n\nTotal: +4.00%",
		},
		{
			name:   "weight change",
			kind:   "weight_change",
			values: []float64{4, 5},
			labels: []string{"Atlas Copco"},
			want:   "Weight Change for Atlas Copco:\nPrevious Weight: 4.00%\nCurrent Weight: 5.00%\nAbsolute Change: +1.00%\nRelative Change: +25.0%",
		},
		{
			name:   "weight change from zero",
			kind:   "weight_change",
			values: []float64{0, 2},
			want:   "Weight Change for Position:\nPrevious Weight: 0.00%\nCurrent Weight: 2.00%\nAbsolute Change: +2.00%\nRelative Change: +0.0%",
		},
		{
			name:   "custom",
			kind:   "custom",
			values: []float64{1, 2, 6},
			want:   "Custom Calculation:\nValues: 1.00, 2.00, 6.00\nSum: 9.00\nAverage: 3.00\nMin: 1.00\nMax: 6.00\nCount: 3",
		},
		{
			name: "unknown",
			kind: "sharpe",
			want: "Unknown calculation type: sharpe",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.kind, tt.values, tt.labels))
		})
	}
}

func TestExtract(t *testing.T) {
	text := "The fund returned 5.2% against -1.5 % for peers. Assets reached $1,200 million."

	assert.Equal(t, "Found 2 number(s):\n  5.2% = 5.2 (percentage)\n  -1.5% = -1.5 (percentage)", Extract(text, ""))

	out := Extract(text, "currency")
	assert.Contains(t, out, "  1,200 million = 1200000000 (currency)")

	all := Extract(text, "all")
	assert.Contains(t, all, "(percentage)")
	assert.Contains(t, all, "(currency)")

	assert.Equal(t, "No numbers found in the text.", Extract("no figures here", "percentage"))
}
