package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrMissingStructure means a fetch returned markup without the expected
// structural markers, which usually indicates an anti-bot or error page.
var ErrMissingStructure = errors.New("markup lacks expected structure")

// AutoOptions configures the fallback fetcher.
type AutoOptions struct {
	// PageDelay is the mandatory pause between listing-page fetches.
	PageDelay time.Duration

	// Validate checks fetched listing markup for structural markers.
	// A nil validator accepts everything.
	Validate func(markup string) bool

	// Debug receives the raw markup of failing fetches.
	Debug DebugSink
}

// AutoFetcher tries the primary (HTTP) strategy and falls back to the
// secondary (browser) when the primary errors out or returns markup that
// fails structural validation. With a nil fallback it degrades to the
// primary alone.
type AutoFetcher struct {
	primary  Strategy
	fallback Strategy
	opts     AutoOptions
	limiter  *rate.Limiter

	mu     sync.Mutex
	method string
}

// NewAutoFetcher wires the fallback chain.
func NewAutoFetcher(primary, fallback Strategy, opts AutoOptions) *AutoFetcher {
	var limiter *rate.Limiter
	if opts.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.PageDelay), 1)
	}
	return &AutoFetcher{primary: primary, fallback: fallback, opts: opts, limiter: limiter}
}

func (f *AutoFetcher) Name() string { return "auto" }

// Method reports which underlying strategy served the last successful
// fetch. Used for run records.
func (f *AutoFetcher) Method() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.method == "" {
		return f.primary.Name()
	}
	return f.method
}

func (f *AutoFetcher) setMethod(name string) {
	f.mu.Lock()
	f.method = name
	f.mu.Unlock()
}

func (f *AutoFetcher) Close() error {
	err := f.primary.Close()
	if f.fallback != nil {
		if ferr := f.fallback.Close(); err == nil {
			err = ferr
		}
	}
	return err
}

func (f *AutoFetcher) valid(markup string) bool {
	return f.opts.Validate == nil || f.opts.Validate(markup)
}

// attempt runs one strategy and validates the result. Invalid markup is
// preserved in the debug area before being reported as a failure.
func (f *AutoFetcher) attempt(s Strategy, debugPrefix string, get func(Strategy) (string, error)) (string, error) {
	markup, err := get(s)
	if err != nil {
		return "", err
	}
	if !f.valid(markup) {
		f.opts.Debug.Save(debugPrefix+"_"+s.Name(), markup) //nolint:errcheck // debug output is best-effort
		return "", &Error{Strategy: s.Name(), Attempts: 1, Err: ErrMissingStructure}
	}
	f.setMethod(s.Name())
	return markup, nil
}

// saveErrorMarkup persists the failing response body an exhausted fetch
// carried back, so anti-bot pages leave an artifact even when every
// attempt errored.
func (f *AutoFetcher) saveErrorMarkup(debugPrefix string, err error) {
	var fe *Error
	if errors.As(err, &fe) && fe.Markup != "" {
		f.opts.Debug.Save(debugPrefix+"_"+fe.Strategy, fe.Markup) //nolint:errcheck // debug output is best-effort
	}
}

func (f *AutoFetcher) fetch(debugPrefix string, get func(Strategy) (string, error)) (string, error) {
	markup, err := f.attempt(f.primary, debugPrefix, get)
	if err == nil {
		return markup, nil
	}
	if f.fallback == nil {
		f.saveErrorMarkup(debugPrefix, err)
		return "", err
	}

	markup, ferr := f.attempt(f.fallback, debugPrefix, get)
	if ferr == nil {
		return markup, nil
	}
	// Both strategies exhausted; report the fallback's failure, which is
	// the more informative of the two.
	f.saveErrorMarkup(debugPrefix, err)
	f.saveErrorMarkup(debugPrefix, ferr)
	return "", ferr
}

// FetchListing retrieves one listing page, honoring the inter-page delay.
func (f *AutoFetcher) FetchListing(ctx context.Context, page int) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return f.fetch("listing", func(s Strategy) (string, error) {
		return s.FetchListing(ctx, page)
	})
}

// FetchDetail retrieves a project detail page. Detail markup is not
// structurally validated: detail pages vary too much for a cheap check.
func (f *AutoFetcher) FetchDetail(ctx context.Context, url string) (string, error) {
	markup, err := f.primary.FetchDetail(ctx, url)
	if err == nil {
		f.setMethod(f.primary.Name())
		return markup, nil
	}
	if f.fallback == nil {
		f.saveErrorMarkup("detail", err)
		return "", err
	}
	markup, ferr := f.fallback.FetchDetail(ctx, url)
	if ferr == nil {
		f.setMethod(f.fallback.Name())
		return markup, nil
	}
	f.saveErrorMarkup("detail", err)
	f.saveErrorMarkup("detail", ferr)
	return "", ferr
}
