// Package runner orchestrates one monitoring cycle: fetch the listing,
// parse it, diff against the stored snapshot, enrich relevant
// transitions, commit everything atomically and deliver notifications.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pfrederiksen/seia-monitor/internal/config"
	"github.com/pfrederiksen/seia-monitor/internal/detail"
	"github.com/pfrederiksen/seia-monitor/internal/fetch"
	"github.com/pfrederiksen/seia-monitor/internal/logger"
	"github.com/pfrederiksen/seia-monitor/internal/notifier"
	"github.com/pfrederiksen/seia-monitor/internal/parser"
	"github.com/pfrederiksen/seia-monitor/internal/project"
	"github.com/pfrederiksen/seia-monitor/internal/storage"
)

// methodReporter is implemented by fetchers that track which underlying
// strategy served the run.
type methodReporter interface {
	Method() string
}

// Result is the outcome of one monitoring cycle.
type Result struct {
	Run     *project.Run
	Changes *project.ChangeSet

	// NotifyErr records a delivery failure. The run itself is already
	// committed when delivery happens, so this never affects the outcome.
	NotifyErr error
}

// Runner executes monitoring cycles against one store and fetcher.
type Runner struct {
	cfg      *config.Config
	store    *storage.Store
	fetcher  fetch.Strategy
	notifier notifier.Notifier
	debug    fetch.DebugSink
	metrics  *logger.Metrics
}

// New wires a runner. A nil notifier disables delivery.
func New(cfg *config.Config, store *storage.Store, fetcher fetch.Strategy, n notifier.Notifier) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		notifier: n,
		debug:    fetch.DebugSink{Dir: cfg.Storage.DebugDir},
		metrics:  logger.NewMetrics(),
	}
}

// NewFetcher assembles the fetch strategy the configuration asks for.
func NewFetcher(cfg *config.Config) fetch.Strategy {
	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPOptions{
		BaseURL:     cfg.Scrape.BaseURL,
		UserAgent:   cfg.Scrape.UserAgent,
		Timeout:     cfg.Timeout(),
		MaxAttempts: cfg.Scrape.MaxAttempts,
	})
	browserFetcher := func() fetch.Strategy {
		return fetch.NewBrowserFetcher(fetch.BrowserOptions{
			BaseURL:   cfg.Scrape.BaseURL,
			UserAgent: cfg.Scrape.UserAgent,
			Timeout:   cfg.Timeout(),
			Headless:  true,
		})
	}

	autoOpts := fetch.AutoOptions{
		PageDelay: cfg.PageDelay(),
		Validate:  parser.HasResults,
		Debug:     fetch.DebugSink{Dir: cfg.Storage.DebugDir},
	}

	switch cfg.Scrape.Mode {
	case config.ModeRequests:
		return fetch.NewAutoFetcher(httpFetcher, nil, autoOpts)
	case config.ModeBrowser:
		return fetch.NewAutoFetcher(browserFetcher(), nil, autoOpts)
	default:
		return fetch.NewAutoFetcher(httpFetcher, browserFetcher(), autoOpts)
	}
}

// Metrics exposes the run metrics tracker.
func (r *Runner) Metrics() *logger.Metrics { return r.metrics }

// Execute runs one full monitoring cycle. The monitor mode gates what a
// cycle may do: bootstrap commits without notifying, quarantine freezes
// the baseline entirely. A failed run is recorded in the run log and
// leaves the snapshot untouched; the error describes the failing stage.
func (r *Runner) Execute(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout())
	defer cancel()

	run := &project.Run{StartedAt: time.Now().UTC()}
	r.metrics.IncrCounter("runs_total", 1)

	records, err := r.scrape(ctx, run)
	if err != nil {
		return r.fail(run, err)
	}
	run.RecordsScraped = len(records)
	r.metrics.IncrCounter("records_scraped", int64(len(records)))

	previous, err := r.store.LoadSnapshot(ctx)
	if err != nil {
		return r.fail(run, fmt.Errorf("snapshot load failed: %w", err))
	}

	mode, err := r.store.MonitorMode(ctx)
	if err != nil {
		return r.fail(run, fmt.Errorf("monitor mode load failed: %w", err))
	}
	stability := project.EvaluateStability(previous, records, r.cfg.StabilityThresholds())
	schemaOK, invalidIDs := project.ValidateIdentifierSchema(records)

	if mode == storage.ModeQuarantine {
		return r.runQuarantined(ctx, run, stability)
	}
	if reason := r.validationFailure(mode, len(previous) > 0, stability, schemaOK, invalidIDs); reason != "" {
		return r.enterQuarantine(ctx, run, reason, stability)
	}

	cs := project.Diff(previous, records, project.DiffOptions{
		Monitored: r.cfg.Monitor.Transitions,
		Now:       time.Now().UTC(),
	})
	run.NewCount = len(cs.New)
	run.TransitionCount = len(cs.Changes) - len(cs.New)
	run.RelevantCount = len(cs.Relevant)

	if len(cs.Relevant) > 0 {
		extractor := detail.NewExtractor(r.fetcher, detail.Options{
			Retries: r.cfg.Scrape.DetailRetries,
			Workers: r.cfg.Scrape.DetailWorkers,
		})
		start := time.Now()
		cs.Details = extractor.ExtractAll(ctx, cs.Relevant)
		r.metrics.RecordTiming("detail_extraction", time.Since(start))
	}

	if reporter, ok := r.fetcher.(methodReporter); ok {
		run.Method = reporter.Method()
	}
	run.FinishedAt = time.Now().UTC()
	if run.Outcome == "" {
		run.Outcome = project.OutcomeSuccess
	}

	if err := r.store.CommitRun(ctx, cs, run); err != nil {
		return r.fail(run, err)
	}
	r.metrics.RecordTiming("run_duration", run.Duration())
	r.metrics.SetGauge("tracked_projects", float64(len(previous)+len(cs.New)))

	logger.Info("run committed", logger.Fields{
		"run_id":   run.ID,
		"outcome":  string(run.Outcome),
		"pages":    run.PagesFetched,
		"records":  run.RecordsScraped,
		"new":      run.NewCount,
		"changed":  run.TransitionCount,
		"relevant": run.RelevantCount,
	})

	result := &Result{Run: run, Changes: cs}

	if mode == storage.ModeBootstrap {
		// Baseline establishment: history accrues but nothing is
		// delivered until the scrape proves stable.
		if err := r.advanceBootstrap(ctx, len(previous) > 0, stability); err != nil {
			logger.Error("bootstrap bookkeeping failed", logger.Fields{}, err)
		}
		return result, nil
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, cs); err != nil {
			logger.Error("notification delivery failed", logger.Fields{
				"run_id": run.ID,
			}, err)
			r.metrics.IncrCounter("notify_failures", 1)
			result.NotifyErr = err
		}
	}
	return result, nil
}

// scrape collects listing records across pages. A first-page failure
// aborts the run; a later-page failure degrades it to a partial outcome
// with whatever was collected so far.
func (r *Runner) scrape(ctx context.Context, run *project.Run) ([]*project.Record, error) {
	var all []*project.Record
	seen := make(map[string]bool)

	lastPage := r.cfg.Scrape.MaxPages
	for page := 1; page <= lastPage; page++ {
		markup, err := r.fetcher.FetchListing(ctx, page)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("listing fetch failed: %w", err)
			}
			logger.Warn("listing page fetch failed, keeping earlier pages", logger.Fields{
				"page": page,
			})
			run.Outcome = project.OutcomePartial
			break
		}
		run.PagesFetched++

		if page == 1 {
			if detected := parser.DetectTotalPages(markup); detected > 0 && detected < lastPage {
				lastPage = detected
			}
		}

		remaining := 0
		if r.cfg.Scrape.MaxRecords > 0 {
			remaining = r.cfg.Scrape.MaxRecords - len(all)
		}
		res, err := parser.ParseListing(markup, parser.Options{
			BaseURL:    r.cfg.Scrape.BaseURL,
			MaxRecords: remaining,
		})
		if err != nil {
			r.debug.Save("parse_failed", markup) //nolint:errcheck // debug output is best-effort
			if page == 1 {
				return nil, fmt.Errorf("listing parse failed: %w", err)
			}
			run.Outcome = project.OutcomePartial
			break
		}
		if len(res.Warnings) > 0 {
			logger.Warn("listing rows skipped", logger.Fields{
				"page":     page,
				"warnings": res.Warnings,
			})
		}

		fresh := 0
		for _, rec := range res.Records {
			if !seen[rec.Identifier] {
				seen[rec.Identifier] = true
				fresh++
			}
			all = append(all, rec)
		}

		if len(res.Records) == 0 {
			break
		}
		// A page of already-seen records means pagination is looping
		if fresh == 0 && page > 1 {
			logger.Warn("pagination repeated known records, stopping", logger.Fields{
				"page": page,
			})
			break
		}
		if r.cfg.Scrape.MaxRecords > 0 && len(all) >= r.cfg.Scrape.MaxRecords {
			break
		}
	}

	return project.Dedupe(all), nil
}

// fail finalizes a failed run. The run row is written outside the commit
// path so the failure stays visible even though nothing else changed.
func (r *Runner) fail(run *project.Run, err error) (*Result, error) {
	run.FinishedAt = time.Now().UTC()
	run.Outcome = project.OutcomeFailure
	run.Error = err.Error()
	if reporter, ok := r.fetcher.(methodReporter); ok {
		run.Method = reporter.Method()
	}
	r.metrics.IncrCounter("run_failures", 1)

	// The run context may already be dead; the failure record must land
	// regardless.
	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if recordErr := r.store.RecordRun(recordCtx, run); recordErr != nil {
		logger.Error("failed to record failed run", logger.Fields{}, recordErr)
	}

	logger.Error("run failed", logger.Fields{
		"pages":   run.PagesFetched,
		"records": run.RecordsScraped,
	}, err)
	return &Result{Run: run}, err
}
