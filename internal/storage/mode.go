package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Monitor modes. A fresh store starts in bootstrap: the baseline is being
// established and notifications are withheld until the scrape proves
// stable. Quarantine freezes the baseline after a failed validation until
// an operator re-bootstraps.
const (
	ModeBootstrap  = "bootstrap"
	ModeNormal     = "normal"
	ModeQuarantine = "quarantine"
)

const (
	stateKeyMode       = "mode"
	stateKeyStableRuns = "consecutive_stable_runs"
)

// MonitorMode returns the current monitor mode, defaulting to bootstrap
// for a fresh store.
func (s *Store) MonitorMode(ctx context.Context) (string, error) {
	value, ok, err := s.getState(ctx, stateKeyMode)
	if err != nil {
		return "", err
	}
	if !ok {
		return ModeBootstrap, nil
	}
	return value, nil
}

// SetMonitorMode records a mode transition.
func (s *Store) SetMonitorMode(ctx context.Context, mode string) error {
	switch mode {
	case ModeBootstrap, ModeNormal, ModeQuarantine:
	default:
		return fmt.Errorf("invalid monitor mode: %q", mode)
	}
	return s.setState(ctx, stateKeyMode, mode)
}

// StableRuns returns the consecutive-stable-run counter used for the
// bootstrap to normal transition.
func (s *Store) StableRuns(ctx context.Context) (int, error) {
	value, ok, err := s.getState(ctx, stateKeyStableRuns)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt stable-run counter %q: %w", value, err)
	}
	return n, nil
}

// SetStableRuns overwrites the consecutive-stable-run counter.
func (s *Store) SetStableRuns(ctx context.Context, n int) error {
	return s.setState(ctx, stateKeyStableRuns, strconv.Itoa(n))
}

func (s *Store) getState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM monitor_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read monitor state %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to write monitor state %q: %w", key, err)
	}
	return nil
}
