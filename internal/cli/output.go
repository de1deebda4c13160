package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// OutputResult contains run data to be output
type OutputResult struct {
	CheckedAt      time.Time                   `json:"checked_at"`
	Outcome        project.Outcome             `json:"outcome"`
	Method         string                      `json:"method,omitempty"`
	PagesFetched   int                         `json:"pages_fetched"`
	RecordsScraped int                         `json:"records_scraped"`
	NewProjects    []*project.Record           `json:"new_projects"`
	Relevant       []*project.StateChange      `json:"relevant_transitions"`
	Details        map[string]*project.Details `json:"details,omitempty"`
	NotifyError    string                      `json:"notify_error,omitempty"`
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result *OutputResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeText(w, result)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeText outputs results as human-readable text
func writeText(w io.Writer, result *OutputResult) error {
	fmt.Fprintf(w, "Checked at %s (%s, %d pages, %d records)\n",
		result.CheckedAt.Format(time.RFC3339), result.Outcome,
		result.PagesFetched, result.RecordsScraped)

	if len(result.Relevant) == 0 && len(result.NewProjects) == 0 {
		fmt.Fprintln(w, "No changes.")
		return nil
	}

	if len(result.Relevant) > 0 {
		fmt.Fprintf(w, "\n%d relevant transition(s):\n", len(result.Relevant))
		for _, ch := range result.Relevant {
			fmt.Fprintf(w, "  %s: %s -> %s\n", ch.Name, ch.PreviousRawState, ch.NewRawState)
			if details, ok := result.Details[ch.Identifier]; ok && details.InvestmentAmount != "" {
				fmt.Fprintf(w, "    Inversión: %s\n", details.InvestmentAmount)
			}
			if ch.DetailURL != "" {
				fmt.Fprintf(w, "    %s\n", ch.DetailURL)
			}
		}
	}

	if len(result.NewProjects) > 0 {
		fmt.Fprintf(w, "\n%d new project(s):\n", len(result.NewProjects))
		for _, r := range result.NewProjects {
			fmt.Fprintf(w, "  %s", r.Name)
			if r.Region != "" {
				fmt.Fprintf(w, " (%s)", r.Region)
			}
			fmt.Fprintf(w, ": %s\n", r.RawState)
		}
	}

	if result.NotifyError != "" {
		fmt.Fprintf(w, "\nWarning: %s\n", result.NotifyError)
	}
	return nil
}

// StatusResult describes the monitor's stored state.
type StatusResult struct {
	Mode        string         `json:"mode"`
	StableRuns  int            `json:"stable_runs"`
	StableGoal  int            `json:"stable_runs_required,omitempty"`
	LastRun     *project.Run   `json:"last_run"`
	StateCounts map[string]int `json:"state_counts"`
	Tracked     int            `json:"tracked_projects"`
}

func writeStatusText(w io.Writer, status *StatusResult) error {
	fmt.Fprintf(w, "Mode: %s", status.Mode)
	switch status.Mode {
	case "bootstrap":
		fmt.Fprintf(w, " (%d/%d stable runs)", status.StableRuns, status.StableGoal)
	case "quarantine":
		fmt.Fprint(w, " (baseline frozen, run 'seia-monitor bootstrap' to recover)")
	}
	fmt.Fprintln(w)

	if status.LastRun == nil {
		fmt.Fprintln(w, "No runs recorded yet.")
	} else {
		run := status.LastRun
		fmt.Fprintf(w, "Last run #%d: %s at %s (%d records in %s)\n",
			run.ID, run.Outcome, run.FinishedAt.Format(time.RFC3339),
			run.RecordsScraped, run.Duration().Round(time.Millisecond))
		if run.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", run.Error)
		}
	}

	fmt.Fprintf(w, "Tracking %d project(s)\n", status.Tracked)
	for state, count := range status.StateCounts {
		fmt.Fprintf(w, "  %-28s %d\n", state, count)
	}
	return nil
}

func writeHistoryText(w io.Writer, identifier string, changes []*project.StateChange) error {
	if len(changes) == 0 {
		fmt.Fprintf(w, "No history for %s.\n", identifier)
		return nil
	}
	fmt.Fprintf(w, "History for %s (newest first):\n", identifier)
	for _, ch := range changes {
		marker := " "
		if ch.IsRelevant {
			marker = "*"
		}
		from := ch.PreviousRawState
		if from == "" {
			from = "(first seen)"
		}
		fmt.Fprintf(w, "%s %s  %s -> %s\n", marker,
			ch.Timestamp.Format("2006-01-02 15:04"), from, ch.NewRawState)
	}
	return nil
}
