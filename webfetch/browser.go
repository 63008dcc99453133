package webfetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/logging"
)

// BrowserRenderer loads pages in headless Chrome so script-built content
// is present in the returned HTML.
type BrowserRenderer struct {
	timeout time.Duration
	settle  time.Duration
	logger  *log.Logger
}

func NewBrowserRenderer(timeout time.Duration, logger *log.Logger) *BrowserRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserRenderer{timeout: timeout, settle: 2 * time.Second, logger: logging.OrDefault(logger)}
}

func (b *BrowserRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(s string, args ...interface{}) {
			b.logger.Debug().Msgf("chromedp: "+s, args...)
		}),
	)
	defer cancelBrowser()

	pageCtx, cancel := context.WithTimeout(browserCtx, b.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(pageCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(b.settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}
