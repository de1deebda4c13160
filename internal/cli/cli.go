package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/seia-monitor/internal/config"
	"github.com/pfrederiksen/seia-monitor/internal/logger"
	"github.com/pfrederiksen/seia-monitor/internal/notifier"
	"github.com/pfrederiksen/seia-monitor/internal/runner"
	"github.com/pfrederiksen/seia-monitor/internal/storage"
)

const (
	ExitSuccess         = 0
	ExitError           = 1
	ExitRelevantChanges = 2
)

var (
	flagConfig  string
	flagFormat  string
	flagDryRun  bool
	flagVerbose bool
	flagLimit   int
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seia-monitor",
		Short: "Monitor the SEIA registry for project state changes",
		Long: `Monitors the Chilean SEIA project registry, tracking every project's
evaluation state across runs and alerting on monitored transitions
(by default: en_calificacion_activo -> aprobado).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "seia-monitor.toml", "Path to TOML config file")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd(), newBootstrapCmd(), newStatusCmd(), newHistoryCmd(), newScheduleCmd())
	return cmd
}

// exitCode carries the status a command wants the process to exit with.
// Applied in Execute, after deferred cleanup has run, rather than through
// os.Exit inside command handlers.
var exitCode = ExitSuccess

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	level := logger.ParseLevel(strings.ToUpper(cfg.LogLevel))
	if flagVerbose {
		level = logger.LevelDebug
	}
	logger.SetDefault(logger.New(level, os.Stderr))
	return cfg, nil
}

// buildNotifier assembles the configured delivery channels. With no
// channel configured (or --dry-run) the report goes to stderr so the
// structured output on stdout stays parseable.
func buildNotifier(cfg *config.Config, dryRun bool) notifier.Notifier {
	opts := notifier.FormatOptions{IncludeNew: cfg.Monitor.NotifyNew}
	if dryRun {
		return &notifier.DryRun{Out: os.Stderr, Options: opts}
	}

	var channels []notifier.Notifier
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notifier.NewWebhook(cfg.Notify.WebhookURL, cfg.Monitor.NotifyNew))
	}
	if cfg.Notify.EmailAPIURL != "" {
		channels = append(channels, notifier.NewEmail(notifier.EmailOptions{
			APIURL:     cfg.Notify.EmailAPIURL,
			APIKey:     cfg.Notify.EmailAPIKey,
			From:       cfg.Notify.EmailFrom,
			To:         cfg.Notify.EmailTo,
			IncludeNew: cfg.Monitor.NotifyNew,
		}))
	}
	if len(channels) == 0 {
		return &notifier.DryRun{Out: os.Stderr, Options: opts}
	}
	return notifier.NewMulti(channels...)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one monitoring cycle",
		RunE:  runOnce,
	}
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Print notifications instead of delivering them")
	return cmd
}

func newBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Force bootstrap mode and re-establish the baseline",
		Long: `Forces bootstrap mode and runs one cycle. Notifications stay suppressed
until the configured number of consecutive stable runs promotes the
monitor back to normal operation. Use this to initialize the system or
to recover from quarantine.`,
		RunE: runBootstrap,
	}
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Print notifications instead of delivering them")
	return cmd
}

func runOnce(cmd *cobra.Command, args []string) error {
	return executeCycle(false)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	return executeCycle(true)
}

// executeCycle runs one monitoring cycle and writes the result. The exit
// code is stashed rather than applied so deferred closes still run.
func executeCycle(bootstrap bool) error {
	format := OutputFormat(strings.ToLower(flagFormat))
	if format != FormatText && format != FormatJSON {
		return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", flagFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	fetcher := runner.NewFetcher(cfg)
	defer fetcher.Close()

	r := runner.New(cfg, store, fetcher, buildNotifier(cfg, flagDryRun))

	var result *runner.Result
	if bootstrap {
		result, err = r.Bootstrap(context.Background())
	} else {
		result, err = r.Execute(context.Background())
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	out := &OutputResult{
		CheckedAt:      result.Run.FinishedAt,
		Outcome:        result.Run.Outcome,
		Method:         result.Run.Method,
		PagesFetched:   result.Run.PagesFetched,
		RecordsScraped: result.Run.RecordsScraped,
		NewProjects:    result.Changes.New,
		Relevant:       result.Changes.Relevant,
		Details:        result.Changes.Details,
	}
	if result.NotifyErr != nil {
		out.NotifyError = result.NotifyErr.Error()
	}
	if err := WriteOutput(os.Stdout, out, format); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if bootstrap {
		reportBootstrapProgress(cfg, store)
	}

	// Exit code signals relevant transitions to schedulers and wrappers
	exitCode = cycleExitCode(result)
	return nil
}

// cycleExitCode maps a finished cycle to the process exit status.
func cycleExitCode(result *runner.Result) int {
	if len(result.Changes.Relevant) > 0 {
		return ExitRelevantChanges
	}
	return ExitSuccess
}

// reportBootstrapProgress tells the operator how far the baseline is from
// being trusted.
func reportBootstrapProgress(cfg *config.Config, store *storage.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mode, err := store.MonitorMode(ctx)
	if err != nil {
		return
	}
	stable, _ := store.StableRuns(ctx)

	switch mode {
	case storage.ModeNormal:
		fmt.Fprintln(os.Stderr, "Baseline stable, monitor in normal operation.")
	case storage.ModeBootstrap:
		needed := cfg.Monitor.BootstrapStableRuns - stable
		fmt.Fprintf(os.Stderr, "Bootstrap in progress (%d/%d stable runs, %d more needed).\n",
			stable, cfg.Monitor.BootstrapStableRuns, needed)
	case storage.ModeQuarantine:
		fmt.Fprintln(os.Stderr, "Validation failed, monitor quarantined. Check the logs and bootstrap again.")
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run and tracked project counts",
		RunE:  runStatus,
	}
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	last, err := store.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("loading last run: %w", err)
	}
	counts, err := store.StateCounts(ctx)
	if err != nil {
		return fmt.Errorf("loading state counts: %w", err)
	}
	mode, err := store.MonitorMode(ctx)
	if err != nil {
		return fmt.Errorf("loading monitor mode: %w", err)
	}
	stable, err := store.StableRuns(ctx)
	if err != nil {
		return fmt.Errorf("loading stable-run counter: %w", err)
	}

	tracked := 0
	for _, n := range counts {
		tracked += n
	}
	status := &StatusResult{
		Mode:        mode,
		StableRuns:  stable,
		StableGoal:  cfg.Monitor.BootstrapStableRuns,
		LastRun:     last,
		StateCounts: counts,
		Tracked:     tracked,
	}

	if OutputFormat(strings.ToLower(flagFormat)) == FormatJSON {
		return writeJSON(os.Stdout, status)
	}
	return writeStatusText(os.Stdout, status)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <identifier>",
		Short: "Show the recorded state changes for one project",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum entries to show (0 = all)")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identifier := args[0]
	changes, err := store.History(ctx, identifier, flagLimit)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if OutputFormat(strings.ToLower(flagFormat)) == FormatJSON {
		return writeJSON(os.Stdout, changes)
	}
	return writeHistoryText(os.Stdout, identifier, changes)
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	os.Exit(exitCode)
}
