package detail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pfrederiksen/seia-monitor/internal/fetch"
	"github.com/pfrederiksen/seia-monitor/internal/logger"
	"github.com/pfrederiksen/seia-monitor/internal/project"
)

const (
	// DefaultRetries is the retry budget around one fetch+extract.
	DefaultRetries = 2

	// DefaultWorkers bounds concurrent detail extractions.
	DefaultWorkers = 3
)

// fichaTemplate is the expedient summary page; it is far more stable than
// whatever URL the listing row happens to link.
const fichaTemplate = "https://seia.sea.gob.cl/expediente/ficha/fichaPrincipal.php?modo=normal&id_expediente=%s"

// Options configures the extractor.
type Options struct {
	Retries int
	Workers int
}

// Extractor fetches and parses project detail pages.
type Extractor struct {
	fetcher fetch.Strategy
	retries int
	workers int
}

// NewExtractor creates an Extractor on top of a fetch strategy.
func NewExtractor(fetcher fetch.Strategy, opts Options) *Extractor {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Extractor{fetcher: fetcher, retries: opts.Retries, workers: opts.Workers}
}

// canonicalURL rewrites a detail link to the ficha principal page when the
// expedient ID is embedded in it.
func canonicalURL(detailURL string) string {
	if id := project.ExtractRegistryID(detailURL); id != "" {
		return fmt.Sprintf(fichaTemplate, id)
	}
	return detailURL
}

// Extract fetches one detail page and pulls the enrichment fields.
// Enrichment is advisory: on exhausting retries the returned Details
// carries only the identifier and an error flag, never an error; the
// transition itself must still be reported and persisted.
func (e *Extractor) Extract(ctx context.Context, identifier, detailURL string) *project.Details {
	if detailURL == "" {
		return &project.Details{Identifier: identifier, Incomplete: true, ScrapedAt: time.Now().UTC()}
	}
	target := canonicalURL(detailURL)

	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		markup, err := e.fetcher.FetchDetail(ctx, target)
		if err != nil {
			lastErr = err
			logger.Warn("detail fetch failed", logger.Fields{
				"identifier": identifier,
				"attempt":    attempt + 1,
				"error":      err.Error(),
			})
			continue
		}

		details := parseDetails(markup, identifier)
		details.ScrapedAt = time.Now().UTC()
		return details
	}

	logger.Error("detail extraction exhausted retries", logger.Fields{
		"identifier": identifier,
		"url":        target,
	}, lastErr)
	return &project.Details{Identifier: identifier, Incomplete: true, ScrapedAt: time.Now().UTC()}
}

// ExtractAll enriches every change through a bounded worker pool. Each
// extraction is independent and read-only; failures are isolated per
// identifier and never cancel sibling extractions.
func (e *Extractor) ExtractAll(ctx context.Context, changes []*project.StateChange) map[string]*project.Details {
	results := make(map[string]*project.Details, len(changes))
	if len(changes) == 0 {
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for _, change := range changes {
		wg.Add(1)
		go func(ch *project.StateChange) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			details := e.Extract(ctx, ch.Identifier, ch.DetailURL)
			mu.Lock()
			results[ch.Identifier] = details
			mu.Unlock()
		}(change)
	}
	wg.Wait()

	return results
}
