// Package fetch retrieves registry pages. Two strategies are available: a
// lightweight HTTP client and a headless browser. The auto fetcher tries
// HTTP first and falls back to the browser when the response fails or lacks
// the expected structure, since the registry may rate-limit or serve
// degraded markup to low-trust clients.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultUserAgent mimics a desktop browser; the registry serves
	// reduced markup to obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	DefaultTimeout      = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second

	// debugBodyLimit caps how much of a failing response is retained for
	// debug artifacts.
	debugBodyLimit = 256 * 1024
)

// Strategy fetches logical registry pages. Implementations must be safe
// for sequential reuse across a run.
type Strategy interface {
	// FetchListing retrieves one listing page (1-indexed).
	FetchListing(ctx context.Context, page int) (string, error)

	// FetchDetail retrieves a project detail page.
	FetchDetail(ctx context.Context, url string) (string, error)

	// Name identifies the strategy in run records and logs.
	Name() string

	// Close releases underlying resources.
	Close() error
}

// Error is returned when a fetch exhausts its retry budget. It is never
// silently converted into an empty result. Markup carries the body of the
// last failing response, when one was received, so anti-bot interstitials
// can be persisted for inspection.
type Error struct {
	Strategy string
	URL      string
	Attempts int
	Markup   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch failed via %s after %d attempts: %s: %v", e.Strategy, e.Attempts, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DebugSink persists the raw markup of failing fetches for offline
// inspection. A zero value discards everything.
type DebugSink struct {
	Dir string
}

// Save writes markup to the debug area keyed by timestamp. Failures to
// save are reported but never escalate: debugging output must not break
// the pipeline.
func (d DebugSink) Save(prefix, markup string) (string, error) {
	if d.Dir == "" || markup == "" {
		return "", nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating debug dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.html", prefix, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		return "", fmt.Errorf("writing debug artifact: %w", err)
	}
	return path, nil
}
