package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserOptions configures the headless-browser strategy.
type BrowserOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Headless  bool
	// WaitDelay is extra settle time after load for scripted content.
	WaitDelay time.Duration
}

func (o *BrowserOptions) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.WaitDelay <= 0 {
		o.WaitDelay = 2 * time.Second
	}
}

// BrowserFetcher renders pages in headless Chrome. It is the heavyweight
// fallback for responses the registry refuses to serve to plain clients.
// The browser starts lazily on first use and is shared across fetches.
type BrowserFetcher struct {
	opts BrowserOptions

	mu            sync.Mutex
	started       bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowserFetcher creates the browser strategy without starting Chrome.
func NewBrowserFetcher(opts BrowserOptions) *BrowserFetcher {
	opts.applyDefaults()
	return &BrowserFetcher{opts: opts}
}

func (f *BrowserFetcher) Name() string { return "browser" }

func (f *BrowserFetcher) ensureStarted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(f.opts.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Probe the browser so a missing Chrome binary fails here instead of
	// midway through a run.
	probeCtx, probeCancel := context.WithTimeout(browserCtx, f.opts.Timeout)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("starting browser: %w", err)
	}

	f.allocCancel = allocCancel
	f.browserCtx = browserCtx
	f.browserCancel = browserCancel
	f.started = true
	return nil
}

// Close shuts down the shared browser.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.browserCancel()
	f.allocCancel()
	f.started = false
	return nil
}

// render navigates a fresh tab to the URL and returns the rendered markup.
func (f *BrowserFetcher) render(ctx context.Context, pageURL string) (string, error) {
	if err := f.ensureStarted(); err != nil {
		return "", &Error{Strategy: f.Name(), URL: pageURL, Attempts: 1, Err: err}
	}

	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)
	defer tabCancel()
	runCtx, runCancel := context.WithTimeout(tabCtx, f.opts.Timeout)
	defer runCancel()

	var markup string
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(f.opts.WaitDelay),
			chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
		)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", &Error{Strategy: f.Name(), URL: pageURL, Attempts: 1, Err: err}
		}
		return markup, nil
	case <-ctx.Done():
		runCancel()
		<-done
		return "", &Error{Strategy: f.Name(), URL: pageURL, Attempts: 1, Err: ctx.Err()}
	}
}

// listingURL builds the GET form of the search for the requested page.
func (f *BrowserFetcher) listingURL(page int) string {
	u, err := url.Parse(f.opts.BaseURL)
	if err != nil {
		return f.opts.BaseURL
	}
	q := u.Query()
	q.Set("pagina", strconv.Itoa(page))
	q.Set("buscar", "1")
	q.Set("orden", "fecha")
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchListing renders one listing page.
func (f *BrowserFetcher) FetchListing(ctx context.Context, page int) (string, error) {
	return f.render(ctx, f.listingURL(page))
}

// FetchDetail renders a project detail page.
func (f *BrowserFetcher) FetchDetail(ctx context.Context, pageURL string) (string, error) {
	return f.render(ctx, pageURL)
}
