package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	CalculateMetricsName = "calculate_metrics"
	ExtractNumbersName   = "extract_numbers"
)

type CalculateMetricsInput struct {
	CalculationType string    `json:"calculation_type" validate:"required" jsonschema_description:"Type of calculation: outperformance, attribution, weight_change or custom"`
	Values          []float64 `json:"values" validate:"required" jsonschema:"description=List of numeric values to use in calculation"`
	Labels          []string  `json:"labels,omitempty" jsonschema:"description=Optional labels for the values"`
}

func CalculateMetrics() Tool {
	return New(CalculateMetricsName,
		`Perform financial calculations.
Supported calculations:
- outperformance: fund return minus benchmark return (values: fund_return, benchmark_return)
- attribution: share of each contribution in the total
- weight_change: weight change between periods (values: old_weight, new_weight)
- custom: sum, average, min and max of the values
Provide the calculation type and the numeric values.`,
		func(_ context.Context, in CalculateMetricsInput) (string, error) {
			return Calculate(in.CalculationType, in.Values, in.Labels), nil
		})
}

// Calculate renders one of the supported calculations. Unusable input is
// reported in the returned text.
func Calculate(kind string, values []float64, labels []string) string {
	switch kind {
	case "outperformance":
		if len(values) < 2 {
			return "Need at least 2 values: fund_return and benchmark_return"
		}
		fund, bench := values[0], values[1]
		diff := fund - bench
		verdict := "(Fund underperformed)"
		if diff > 0 {
			verdict = "(Fund outperformed)"
		}
		return fmt.Sprintf("Outperformance Calculation:\nFund Return: %+.2f%%\nBenchmark Return: %+.2f%%\nOutperformance: %+.2f%%\n%s",
			fund, bench, diff, verdict)

	case "attribution":
		if len(labels) != len(values) {
			labels = make([]string, len(values))
			for i := range labels {
				labels[i] = fmt.Sprintf("Item %d", i+1)
			}
		}
		total := sum(values)
		lines := []string{"Attribution Analysis:"}
		for i, v := range values {
			share := 0.0
			if total != 0 {
				share = v / total * 100
			}
			lines = append(lines, fmt.Sprintf("  %s: %+.2f%% (%.1f%% of total)", labels[i], v, share))
		}
		lines = append(lines, fmt.Sprintf("\nTotal: %+.2f%%", total))
		return strings.Join(lines, "\n")

	case "weight_change":
		if len(values) < 2 {
			return "Need at least 2 values: old_weight and new_weight"
		}
		prev, cur := values[0], values[1]
		relative := 0.0
		if prev != 0 {
			relative = (cur - prev) / prev * 100
		}
		label := "Position"
		if len(labels) > 0 {
			label = labels[0]
		}
		return fmt.Sprintf("Weight Change for %s:\nPrevious Weight: %.2f%%\nCurrent Weight: %.2f%%\nAbsolute Change: %+.2f%%\nRelative Change: %+.1f%%",
			label, prev, cur, cur-prev, relative)

	case "custom":
		var avg, lo, hi float64
		formatted := make([]string, len(values))
		for i, v := range values {
			formatted[i] = fmt.Sprintf("%.2f", v)
			if i == 0 || v < lo {
				lo = v
			}
			if i == 0 || v > hi {
				hi = v
			}
		}
		total := sum(values)
		if len(values) > 0 {
			avg = total / float64(len(values))
		}
		return fmt.Sprintf("Custom Calculation:\nValues: %s\nSum: %.2f\nAverage: %.2f\nMin: %.2f\nMax: %.2f\nCount: %d",
			strings.Join(formatted, ", "), total, avg, lo, hi, len(values))

	default:
		return "Unknown calculation type: " + kind
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

type ExtractNumbersInput struct {
	Text       string `json:"text" validate:"required" jsonschema:"description=Text containing numbers to extract"`
	NumberType string `json:"number_type,omitempty" validate:"omitempty,oneof=percentage currency all" jsonschema:"enum=percentage,enum=currency,enum=all,default=percentage" jsonschema_description:"Type of numbers to extract: percentage, currency or all"`
}

var (
	percentPattern  = regexp.MustCompile(`([\-\+]?\d+\.?\d*)\s*%`)
	currencyPattern = regexp.MustCompile(`[\$€£¥]?\s*([\d,]+\.?\d*)\s*(million|billion|M|B|mn|bn)?`)
)

const maxExtracted = 20

type extracted struct {
	original string
	value    float64
	kind     string
}

func ExtractNumbers() Tool {
	return New(ExtractNumbersName,
		`Extract numeric values from text.
Use this to pull out specific numbers like percentages, currency amounts or other numeric data from document text for calculations.`,
		func(_ context.Context, in ExtractNumbersInput) (string, error) {
			return Extract(in.Text, in.NumberType), nil
		})
}

// Extract lists the percentages and/or currency amounts found in text.
// numberType defaults to percentage.
func Extract(text, numberType string) string {
	if numberType == "" {
		numberType = "percentage"
	}

	var found []extracted
	if numberType == "percentage" || numberType == "all" {
		for _, m := range percentPattern.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			found = append(found, extracted{original: m[1] + "%", value: v, kind: "percentage"})
		}
	}
	if numberType == "currency" || numberType == "all" {
		for _, m := range currencyPattern.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}
			switch strings.ToLower(m[2]) {
			case "million", "m", "mn":
				v *= 1e6
			case "billion", "b", "bn":
				v *= 1e9
			}
			found = append(found, extracted{original: strings.TrimSpace(m[1] + " " + m[2]), value: v, kind: "currency"})
		}
	}

	if len(found) == 0 {
		return "No numbers found in the text."
	}
	lines := []string{fmt.Sprintf("Found %d number(s):", len(found))}
	for i, n := range found {
		if i == maxExtracted {
			break
		}
		lines = append(lines, fmt.Sprintf("  %s = %s (%s)", n.original, strconv.FormatFloat(n.value, 'f', -1, 64), n.kind))
	}
	return strings.Join(lines, "\n")
}
