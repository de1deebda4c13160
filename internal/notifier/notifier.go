// Package notifier delivers change alerts. Delivery is strictly
// best-effort: a notifier that fails must never fail the run that
// produced the changes, since the snapshot is already committed.
package notifier

import (
	"context"
	"fmt"

	"github.com/pfrederiksen/seia-monitor/internal/logger"
	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// Notifier delivers one change set to a channel. Alert carries
// operational messages, such as the monitor entering quarantine, that
// exist outside any change set.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, cs *project.ChangeSet) error
	Alert(ctx context.Context, subject, body string) error
}

// Error wraps a delivery failure with the channel that failed.
type Error struct {
	Notifier string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notification via %s failed: %v", e.Notifier, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Multi fans one change set out to every configured channel. Each channel
// is attempted regardless of earlier failures; the returned error joins
// whatever failed.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a fan-out notifier.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Name implements Notifier.
func (m *Multi) Name() string { return "multi" }

// Notify delivers to every channel and reports per-channel failures.
func (m *Multi) Notify(ctx context.Context, cs *project.ChangeSet) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, cs); err != nil {
			logger.Error("notification channel failed", logger.Fields{
				"notifier": n.Name(),
			}, err)
			errs = append(errs, &Error{Notifier: n.Name(), Err: err})
		}
	}
	return joinChannelErrors(errs)
}

// Alert fans an operational alert out to every channel.
func (m *Multi) Alert(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Alert(ctx, subject, body); err != nil {
			logger.Error("alert channel failed", logger.Fields{
				"notifier": n.Name(),
			}, err)
			errs = append(errs, &Error{Notifier: n.Name(), Err: err})
		}
	}
	return joinChannelErrors(errs)
}

func joinChannelErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Errorf("%d notification channels failed: %v", len(errs), errs)
}
