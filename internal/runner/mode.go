package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/seia-monitor/internal/logger"
	"github.com/pfrederiksen/seia-monitor/internal/project"
	"github.com/pfrederiksen/seia-monitor/internal/storage"
)

// criticalIntersectionMin is the hard floor below which a scrape is
// treated as contaminated in normal mode, regardless of the configured
// stability thresholds.
const criticalIntersectionMin = 0.50

// Bootstrap forces bootstrap mode and executes one cycle. Notifications
// stay suppressed until the configured number of consecutive stable runs
// promotes the monitor back to normal operation. Used to initialize the
// system or to recover from quarantine.
func (r *Runner) Bootstrap(ctx context.Context) (*Result, error) {
	if err := r.store.SetMonitorMode(ctx, storage.ModeBootstrap); err != nil {
		return nil, err
	}
	if err := r.store.SetStableRuns(ctx, 0); err != nil {
		return nil, err
	}
	return r.Execute(ctx)
}

// validationFailure checks the scrape against the stored baseline and
// returns a non-empty reason when the run must quarantine the monitor
// instead of committing.
func (r *Runner) validationFailure(mode string, hadBaseline bool, st project.Stability, schemaOK bool, invalidIDs []string) string {
	if !schemaOK {
		return fmt.Sprintf("identifier schema anomaly, sample: %s", strings.Join(invalidIDs, ", "))
	}
	if mode == storage.ModeNormal && hadBaseline && st.IntersectionRatio < criticalIntersectionMin {
		return fmt.Sprintf("baseline intersection %.0f%% below %.0f%%, possible data contamination",
			st.IntersectionRatio*100, criticalIntersectionMin*100)
	}
	return ""
}

// enterQuarantine freezes the baseline: the mode flips to quarantine, an
// alert goes out and the run is recorded as failed with nothing committed.
func (r *Runner) enterQuarantine(ctx context.Context, run *project.Run, reason string, st project.Stability) (*Result, error) {
	if err := r.store.SetMonitorMode(ctx, storage.ModeQuarantine); err != nil {
		logger.Error("failed to persist quarantine mode", logger.Fields{}, err)
	}
	if err := r.store.SetStableRuns(ctx, 0); err != nil {
		logger.Error("failed to reset stable-run counter", logger.Fields{}, err)
	}
	r.metrics.IncrCounter("quarantine_entries", 1)
	r.alert(ctx, "SEIA monitor: entering quarantine", quarantineBody(reason, st))
	return r.fail(run, fmt.Errorf("baseline validation failed: %s", reason))
}

// runQuarantined handles a cycle while the monitor is already in
// quarantine: the baseline stays frozen, nothing is committed and the
// only output is a reminder alert.
func (r *Runner) runQuarantined(ctx context.Context, run *project.Run, st project.Stability) (*Result, error) {
	logger.Warn("monitor in quarantine, baseline frozen", logger.Fields{
		"records":            run.RecordsScraped,
		"intersection_ratio": st.IntersectionRatio,
	})

	run.FinishedAt = time.Now().UTC()
	run.Outcome = project.OutcomeSuccess
	if reporter, ok := r.fetcher.(methodReporter); ok {
		run.Method = reporter.Method()
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.RecordRun(recordCtx, run); err != nil {
		logger.Error("failed to record quarantined run", logger.Fields{}, err)
	}

	r.alert(ctx, "SEIA monitor: still in quarantine",
		quarantineBody("baseline frozen since quarantine was entered", st))
	return &Result{Run: run, Changes: &project.ChangeSet{}}, nil
}

// advanceBootstrap updates the stable-run counter after a committed
// bootstrap run and promotes the monitor to normal mode once the
// required streak is reached.
func (r *Runner) advanceBootstrap(ctx context.Context, hadBaseline bool, st project.Stability) error {
	if !hadBaseline {
		logger.Info("baseline established, notifications withheld until stable", logger.Fields{
			"records": st.ScrapedCount,
		})
		return r.store.SetStableRuns(ctx, 0)
	}
	if !st.Stable {
		logger.Info("unstable bootstrap run, stable-run counter reset", logger.Fields{
			"intersection_ratio": st.IntersectionRatio,
			"count_ratio":        st.CountRatio,
		})
		return r.store.SetStableRuns(ctx, 0)
	}

	n, err := r.store.StableRuns(ctx)
	if err != nil {
		return err
	}
	n++
	if err := r.store.SetStableRuns(ctx, n); err != nil {
		return err
	}
	logger.Info("stable bootstrap run", logger.Fields{
		"stable_runs": n,
		"required":    r.cfg.Monitor.BootstrapStableRuns,
	})

	if n >= r.cfg.Monitor.BootstrapStableRuns {
		if err := r.store.SetMonitorMode(ctx, storage.ModeNormal); err != nil {
			return err
		}
		logger.Info("bootstrap complete, entering normal operation", logger.Fields{})
	}
	return nil
}

// alert delivers an operational alert, best-effort.
func (r *Runner) alert(ctx context.Context, subject, body string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Alert(ctx, subject, body); err != nil {
		logger.Error("alert delivery failed", logger.Fields{}, err)
	}
}

func quarantineBody(reason string, st project.Stability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "Scraped: %d projects, baseline: %d\n", st.ScrapedCount, st.BaselineCount)
	if st.BaselineCount > 0 {
		fmt.Fprintf(&b, "Intersection: %.0f%%, count ratio: %.0f%%\n",
			st.IntersectionRatio*100, st.CountRatio*100)
	}
	b.WriteString("The stored baseline is frozen. Run 'seia-monitor bootstrap' to re-establish it.")
	return b.String()
}
