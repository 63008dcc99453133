package market

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

var currencySymbols = map[string]string{
	"SEK": "kr ",
	"NOK": "kr ",
	"DKK": "kr ",
	"EUR": "€",
	"USD": "$",
	"JPY": "¥",
	"GBP": "£",
	"CHF": "CHF ",
	"CNY": "¥",
	"HKD": "HK$",
	"KRW": "₩",
}

// Format renders a quote as markdown. rate converts to SEK when ok and
// the quote is not already in SEK.
func Format(q Quote, rate float64, ok bool) string {
	foreign := q.Currency != "SEK"
	convert := foreign && ok && rate > 0

	symbol, found := currencySymbols[q.Currency]
	if !found {
		symbol = q.Currency + " "
	}

	money := func(v *float64) string {
		if v == nil {
			return "N/A"
		}
		native := symbol + formatNumber(*v)
		if convert {
			return fmt.Sprintf("%s (~%s kr SEK)", native, formatNumber(*v*rate))
		}
		return native
	}

	lines := []string{
		fmt.Sprintf("**%s** (%s)", q.Name, q.Ticker),
		fmt.Sprintf("Exchange: %s", orNA(q.Exchange)),
	}
	if convert {
		lines = append(lines, fmt.Sprintf("*Currency: %s (1 %s ≈ %.4f SEK)*", q.Currency, q.Currency, rate))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("**Current Price:** %s", money(q.Price)),
		fmt.Sprintf("**Previous Close:** %s", money(q.PreviousClose)),
		fmt.Sprintf("**Day Range:** %s - %s", money(q.DayLow), money(q.DayHigh)),
		"",
		"**Price Range (52 Week):**",
		fmt.Sprintf("  • High: %s", money(q.FiftyTwoWeekHigh)),
		fmt.Sprintf("  • Low: %s", money(q.FiftyTwoWeekLow)),
	)
	if q.Volume != nil {
		lines = append(lines, "", fmt.Sprintf("**Volume:** %s", formatNumber(*q.Volume)))
	}
	if !q.AsOf.IsZero() {
		lines = append(lines, "", fmt.Sprintf("_As of %s_", q.AsOf.Format("2006-01-02 15:04 MST")))
	}
	return strings.Join(lines, "\n")
}

func formatNumber(n float64) string {
	switch {
	case n >= 1e12:
		return fmt.Sprintf("%.2fT", n/1e12)
	case n >= 1e9:
		return fmt.Sprintf("%.2fB", n/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.2fM", n/1e6)
	default:
		return humanize.FormatFloat("#,###.##", n)
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
