package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPOptions configures the HTTP strategy.
type HTTPOptions struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
}

func (o *HTTPOptions) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
}

// HTTPFetcher is the lightweight strategy: a plain HTTP client replaying
// the registry's search form with bounded exponential retries.
type HTTPFetcher struct {
	opts   HTTPOptions
	client *http.Client
}

// NewHTTPFetcher creates the HTTP strategy.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	opts.applyDefaults()
	return &HTTPFetcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

func (f *HTTPFetcher) Name() string { return "requests" }

func (f *HTTPFetcher) Close() error { return nil }

// retryableStatus reports whether the response deserves another attempt.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// do performs the request with exponential backoff. The request is rebuilt
// on every attempt so the body can be replayed.
func (f *HTTPFetcher) do(ctx context.Context, build func() (*http.Request, error)) (string, error) {
	var body string
	var reqURL string
	var lastBody string

	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		reqURL = req.URL.String()

		resp, err := f.client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Keep the failing body; a 403 interstitial tells more
			// than the status line.
			if data, readErr := io.ReadAll(io.LimitReader(resp.Body, debugBodyLimit)); readErr == nil {
				lastBody = string(data)
			}
			if retryableStatus(resp.StatusCode) {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			// Client errors will not improve with retries.
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		body = string(data)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.opts.InitialDelay
	policy.MaxInterval = f.opts.Timeout

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(f.opts.MaxAttempts-1)), ctx))
	if err != nil {
		return "", &Error{Strategy: f.Name(), URL: reqURL, Attempts: f.opts.MaxAttempts, Markup: lastBody, Err: err}
	}
	return body, nil
}

func (f *HTTPFetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-CL,es;q=0.9,en;q=0.8")
}

// FetchListing replays the search form POST for the requested page.
func (f *HTTPFetcher) FetchListing(ctx context.Context, page int) (string, error) {
	form := url.Values{
		"pagina": {strconv.Itoa(page)},
		"buscar": {"1"},
		"orden":  {"fecha"},
	}
	encoded := form.Encode()

	return f.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, f.opts.BaseURL, strings.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		f.setHeaders(req)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// FetchDetail retrieves a project detail page with a plain GET.
func (f *HTTPFetcher) FetchDetail(ctx context.Context, pageURL string) (string, error) {
	return f.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		f.setHeaders(req)
		return req, nil
	})
}
