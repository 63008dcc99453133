// Package webfetch turns web pages into markdown for the agent and for URL
// attachments.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/fabfab/fundlens/logging"
)

const (
	// MinContentChars is the shortest markdown treated as real page content.
	MinContentChars = 100
	DefaultMaxChars = 15000

	truncationNote = "\n\n... [Content truncated - page is very long]"
)

var (
	ErrNoContent  = errors.New("no meaningful content")
	ErrInvalidURL = errors.New("invalid url")
)

// Renderer returns the HTML of a page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

type Options struct {
	Timeout        time.Duration
	UserAgent      string
	RequestsPerSec float64
	// Browser, when set, is tried before the plain HTTP renderer.
	Browser Renderer
	Client  *http.Client
}

type Fetcher struct {
	primary  Renderer
	fallback Renderer
	limiter  *rate.Limiter
	logger   *log.Logger
}

func New(opts Options, logger *log.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	plain := &HTTPRenderer{client: client, userAgent: opts.UserAgent}

	f := &Fetcher{primary: plain, logger: logging.OrDefault(logger)}
	if opts.Browser != nil {
		f.primary = opts.Browser
		f.fallback = plain
	}
	if opts.RequestsPerSec > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	return f
}

// Markdown fetches pageURL and converts it. Pages whose markdown has no
// more than MinContentChars characters yield ErrNoContent.
func (f *Fetcher) Markdown(ctx context.Context, pageURL string) (string, error) {
	if err := validateURL(pageURL); err != nil {
		return "", err
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for fetch slot: %w", err)
		}
	}

	start := time.Now()
	html, err := f.primary.Render(ctx, pageURL)
	if err != nil && f.fallback != nil {
		f.logger.Warn().Err(err).Str("url", pageURL).Msg("browser render failed, retrying over plain http")
		html, err = f.fallback.Render(ctx, pageURL)
	}
	if err != nil {
		return "", err
	}

	markdown, err := ToMarkdown(html, pageURL)
	if err != nil {
		return "", err
	}
	markdown = strings.TrimSpace(markdown)
	if utf8.RuneCountInString(markdown) <= MinContentChars {
		return "", fmt.Errorf("extract %s: %w", pageURL, ErrNoContent)
	}

	f.logger.Debug().Str("url", pageURL).Int("html_length", len(html)).Int("markdown_length", len(markdown)).
		Dur("took", time.Since(start)).Msg("fetched page")
	return markdown, nil
}

// ToMarkdown strips non-content elements and converts the rest. Links are
// kept and resolved against baseURL; images are dropped.
func ToMarkdown(html, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("head, script, style, noscript, template, svg, iframe, img, picture").Remove()

	domain := ""
	if u, err := url.Parse(baseURL); err == nil {
		domain = u.Host
	}
	conv := md.NewConverter(domain, true, nil)
	return conv.Convert(doc.Selection), nil
}

// Truncate caps markdown at maxChars runes and appends a truncation note.
func Truncate(markdown string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(markdown) <= maxChars {
		return markdown
	}
	runes := []rune(markdown)
	return string(runes[:maxChars]) + truncationNote
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// HTTPRenderer downloads the page without running scripts.
type HTTPRenderer struct {
	client    *http.Client
	userAgent string
}

func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("get %s: status %s", pageURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	return string(body), nil
}
