// Package market looks up best-effort stock quotes and converts foreign
// prices to SEK.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/logging"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

var ErrNoData = errors.New("no market data")

// fallbackRatesToSEK are approximate rates used when the live rate
// lookup fails.
var fallbackRatesToSEK = map[string]float64{
	"USD": 10.5,
	"EUR": 11.3,
	"GBP": 13.2,
	"JPY": 0.070,
	"NOK": 0.98,
	"DKK": 1.52,
	"CHF": 11.8,
	"CAD": 7.7,
	"AUD": 6.8,
	"CNY": 1.45,
	"HKD": 1.35,
	"KRW": 0.0078,
}

type Quote struct {
	Ticker           string   `json:"ticker"`
	Name             string   `json:"name"`
	Currency         string   `json:"currency"`
	Exchange         string   `json:"exchange"`
	Price            *float64 `json:"price,omitempty"`
	PreviousClose    *float64 `json:"previous_close,omitempty"`
	DayHigh          *float64 `json:"day_high,omitempty"`
	DayLow           *float64 `json:"day_low,omitempty"`
	FiftyTwoWeekHigh *float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow  *float64 `json:"fifty_two_week_low,omitempty"`
	Volume           *float64 `json:"volume,omitempty"`
	AsOf             time.Time `json:"as_of"`
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *log.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		userAgent: "Mozilla/5.0 (compatible; fundlens/1.0)",
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    logging.OrDefault(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string   `json:"symbol"`
				Currency             string   `json:"currency"`
				ExchangeName         string   `json:"exchangeName"`
				FullExchangeName     string   `json:"fullExchangeName"`
				LongName             string   `json:"longName"`
				ShortName            string   `json:"shortName"`
				RegularMarketPrice   *float64 `json:"regularMarketPrice"`
				ChartPreviousClose   *float64 `json:"chartPreviousClose"`
				PreviousClose        *float64 `json:"previousClose"`
				RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
				FiftyTwoWeekHigh     *float64 `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow      *float64 `json:"fiftyTwoWeekLow"`
				RegularMarketVolume  *float64 `json:"regularMarketVolume"`
				RegularMarketTime    int64    `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote fetches the latest quote for an already resolved ticker.
func (c *Client) Quote(ctx context.Context, ticker string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", c.baseURL, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create quote request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("call quote API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("read quote response: %w", err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode >= 400 {
			return Quote{}, fmt.Errorf("quote API returned status %s", resp.Status)
		}
		return Quote{}, fmt.Errorf("decode quote response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return Quote{}, fmt.Errorf("quote %s: %s: %w", ticker, parsed.Chart.Error.Description, ErrNoData)
	}
	if resp.StatusCode >= 400 {
		return Quote{}, fmt.Errorf("quote API returned status %s", resp.Status)
	}
	if len(parsed.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("quote %s: %w", ticker, ErrNoData)
	}

	meta := parsed.Chart.Result[0].Meta
	q := Quote{
		Ticker:           ticker,
		Name:             firstNonEmpty(meta.LongName, meta.ShortName, ticker),
		Currency:         firstNonEmpty(meta.Currency, "SEK"),
		Exchange:         firstNonEmpty(meta.FullExchangeName, meta.ExchangeName),
		Price:            meta.RegularMarketPrice,
		PreviousClose:    firstNonNil(meta.PreviousClose, meta.ChartPreviousClose),
		DayHigh:          meta.RegularMarketDayHigh,
		DayLow:           meta.RegularMarketDayLow,
		FiftyTwoWeekHigh: meta.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:  meta.FiftyTwoWeekLow,
		Volume:           meta.RegularMarketVolume,
	}
	if meta.RegularMarketTime > 0 {
		q.AsOf = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	if q.Price == nil {
		return Quote{}, fmt.Errorf("quote %s has no price: %w", ticker, ErrNoData)
	}
	return q, nil
}

// RateToSEK returns how many SEK one unit of currency buys. The live rate
// is preferred; the fallback table covers lookup failures.
func (c *Client) RateToSEK(ctx context.Context, currency string) (float64, bool) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "SEK" {
		return 1, true
	}

	q, err := c.Quote(ctx, currency+"SEK=X")
	if err == nil && q.Price != nil && *q.Price > 0 {
		return *q.Price, true
	}
	c.logger.Debug().Err(err).Str("currency", currency).Msg("live fx rate unavailable, using fallback")

	rate, ok := fallbackRatesToSEK[currency]
	return rate, ok
}

// Lookup resolves nameOrTicker, fetches its quote and renders it with SEK
// equivalents for foreign listings.
func (c *Client) Lookup(ctx context.Context, nameOrTicker string) (string, error) {
	ticker := ResolveTicker(nameOrTicker)
	if ticker == "" {
		return "", fmt.Errorf("ticker is required")
	}
	q, err := c.Quote(ctx, ticker)
	if err != nil {
		return "", err
	}
	rate, ok := 0.0, false
	if q.Currency != "SEK" {
		rate, ok = c.RateToSEK(ctx, q.Currency)
	}
	return Format(q, rate, ok), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
