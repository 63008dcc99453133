package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/fundlens/webfetch"
)

const (
	FetchURLContentName = "fetch_url_content"
	GetStockDataName    = "get_stock_data"
)

type FetchURLContentInput struct {
	URL string `json:"url" validate:"required,url" jsonschema:"description=The full URL to fetch content from (must start with http:// or https://)"`
}

func FetchURLContent(f PageFetcher, maxChars int) Tool {
	if maxChars <= 0 {
		maxChars = webfetch.DefaultMaxChars
	}
	return New(FetchURLContentName,
		`Fetch and read the content of a web page.
Use this when the user shares a URL or asks about information from a specific website.
Returns the page content converted to markdown.`,
		func(ctx context.Context, in FetchURLContentInput) (string, error) {
			md, err := f.Markdown(ctx, in.URL)
			if err != nil {
				if errors.Is(err, webfetch.ErrNoContent) {
					return "Could not extract meaningful content from URL: " + in.URL, nil
				}
				return fmt.Sprintf("Error fetching URL %s: %v", in.URL, err), nil
			}
			return fmt.Sprintf("## Content from %s\n\n%s", in.URL, webfetch.Truncate(md, maxChars)), nil
		})
}

type GetStockDataInput struct {
	Ticker string `json:"ticker" validate:"required" jsonschema_description:"Stock ticker symbol (e.g. VOLV-B.ST, AAPL) or company name (e.g. Volvo, Ericsson)"`
}

func GetStockData(m QuoteLookup) Tool {
	return New(GetStockDataName,
		`Get current stock market data for a company.
Use this to look up current prices, market cap, 52-week range and other market data for companies mentioned in the reports.
Accepts a ticker symbol or a company name. Prices in foreign currencies are also shown in SEK.
The data is a best-effort snapshot and may be delayed.`,
		func(ctx context.Context, in GetStockDataInput) (string, error) {
			out, err := m.Lookup(ctx, in.Ticker)
			if err != nil {
				return fmt.Sprintf("Error fetching stock data: %v", err), nil
			}
			return out, nil
		})
}
