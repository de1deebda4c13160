// Package cli implements the command-line interface for seia-monitor.
//
// The cli package provides the Cobra-based CLI with commands to run one
// monitoring cycle, inspect monitor status, show a project's state
// history, and run the long-lived scheduler. It coordinates the fetch,
// parser, storage, runner and notifier packages.
package cli
