package notifier

import (
	"context"
	"fmt"
	"io"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// DryRun renders the notification to a writer instead of delivering it.
// Used by default until a real channel is configured, and by the CLI's
// --dry-run flag.
type DryRun struct {
	Out     io.Writer
	Options FormatOptions
}

// Name implements Notifier.
func (d *DryRun) Name() string { return "dry-run" }

// Notify writes the rendered report. An empty change set writes nothing.
func (d *DryRun) Notify(_ context.Context, cs *project.ChangeSet) error {
	if len(cs.Relevant) == 0 && !(d.Options.IncludeNew && len(cs.New) > 0) {
		return nil
	}
	_, err := fmt.Fprintf(d.Out, "%s\n\n%s", Subject(cs), FormatBody(cs, d.Options))
	return err
}

// Alert writes the operational alert.
func (d *DryRun) Alert(_ context.Context, subject, body string) error {
	_, err := fmt.Fprintf(d.Out, "%s\n\n%s\n", subject, body)
	return err
}
