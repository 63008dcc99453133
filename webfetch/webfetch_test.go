package webfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/logging"
)

const articleHTML = `<html><head><title>Q3 letter</title><script>var tracking = 1;</script>
<style>body { color: red; }</style></head>
<body>
<h1>Quarterly letter</h1>
<p>The Nordic Growth Fund returned 5.2% in the quarter, ahead of its benchmark which rose 4.1%.
Industrials led the gains while Swedish banks lagged. <a href="/holdings">See holdings</a>.</p>
<img src="/chart.png" alt="chart">
</body></html>`

func TestToMarkdownStripsScriptsAndImages(t *testing.T) {
	out, err := ToMarkdown(articleHTML, "https://example.com/letter")
	require.NoError(t, err)

	assert.Contains(t, out, "# Quarterly letter")
	assert.Contains(t, out, "returned 5.2% in the quarter")
	assert.Contains(t, out, "[See holdings](")
	assert.NotContains(t, out, "tracking")
	assert.NotContains(t, out, "color: red")
	assert.NotContains(t, out, "chart.png")
}

func TestMarkdownFetchesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fundlens-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := New(Options{UserAgent: "fundlens-test"}, logging.Discard())
	out, err := f.Markdown(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Quarterly letter")
}

func TestMarkdownRejectsThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>Loading...</p></body></html>"))
	}))
	defer srv.Close()

	_, err := New(Options{}, logging.Discard()).Markdown(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrNoContent)
}

func TestMarkdownReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(Options{}, logging.Discard()).Markdown(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestMarkdownValidatesURL(t *testing.T) {
	f := New(Options{}, logging.Discard())
	for _, raw := range []string{"ftp://example.com/file", "not a url", "https://"} {
		_, err := f.Markdown(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

type failingRenderer struct{ calls int }

func (r *failingRenderer) Render(context.Context, string) (string, error) {
	r.calls++
	return "", errors.New("chrome not installed")
}

var _ Renderer = (*failingRenderer)(nil)

func TestBrowserFailureFallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	browser := &failingRenderer{}
	out, err := New(Options{Browser: browser}, logging.Discard()).Markdown(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, browser.calls)
	assert.Contains(t, out, "Quarterly letter")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("å", 20)
	out := Truncate(long, 10)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("å", 10)+"\n\n..."))
	assert.Contains(t, out, "[Content truncated - page is very long]")
	assert.Equal(t, "short", Truncate("short", 10))
}
