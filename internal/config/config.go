// Package config loads monitor configuration from a TOML file with
// environment overrides for deployment-specific values and secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// Fetch modes accepted by scrape.mode.
const (
	ModeAuto     = "auto"
	ModeRequests = "requests"
	ModeBrowser  = "browser"
)

// Scrape configures listing and detail fetching.
type Scrape struct {
	BaseURL          string  `toml:"base_url"`
	Mode             string  `toml:"mode"`
	UserAgent        string  `toml:"user_agent"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
	RunTimeoutMin    int     `toml:"run_timeout_minutes"`
	MaxPages         int     `toml:"max_pages"`
	MaxRecords       int     `toml:"max_records"`
	PageDelaySeconds float64 `toml:"page_delay_seconds"`
	MaxAttempts      int     `toml:"max_attempts"`
	DetailRetries    int     `toml:"detail_retries"`
	DetailWorkers    int     `toml:"detail_workers"`
}

// Monitor configures which transitions trigger alerts and when the
// baseline is trusted enough to notify from.
type Monitor struct {
	Transitions []project.Transition `toml:"transitions"`
	NotifyNew   bool                 `toml:"notify_new"`

	// BootstrapStableRuns is how many consecutive stable runs bootstrap
	// mode requires before switching to normal operation.
	BootstrapStableRuns int `toml:"bootstrap_stable_runs"`

	// Stability thresholds for the scrape-versus-baseline comparison.
	StabilityIntersectionMin float64 `toml:"stability_intersection_min"`
	StabilityCountRatioMin   float64 `toml:"stability_count_ratio_min"`
	StabilityCountRatioMax   float64 `toml:"stability_count_ratio_max"`
}

// Storage configures persistence and debug artifacts.
type Storage struct {
	DatabasePath string `toml:"database_path"`
	DebugDir     string `toml:"debug_dir"`
}

// Notify configures delivery channels. Channels with empty endpoints are
// disabled.
type Notify struct {
	WebhookURL  string   `toml:"webhook_url"`
	EmailAPIURL string   `toml:"email_api_url"`
	EmailAPIKey string   `toml:"email_api_key"`
	EmailFrom   string   `toml:"email_from"`
	EmailTo     []string `toml:"email_to"`
}

// Schedule configures the long-running scheduler.
type Schedule struct {
	// Spec is a cron expression, e.g. "0 */6 * * *".
	Spec string `toml:"spec"`
}

// Config is the full monitor configuration.
type Config struct {
	Scrape   Scrape   `toml:"scrape"`
	Monitor  Monitor  `toml:"monitor"`
	Storage  Storage  `toml:"storage"`
	Notify   Notify   `toml:"notify"`
	Schedule Schedule `toml:"schedule"`
	LogLevel string   `toml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

// Load reads the TOML file at path, falling back to defaults when path is
// empty or the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults plus environment is a valid setup
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults sets every unconfigured field to its default.
func (c *Config) fillDefaults() {
	if c.Scrape.BaseURL == "" {
		c.Scrape.BaseURL = "https://seia.sea.gob.cl/busqueda/buscarProyectoAction.php"
	}
	if c.Scrape.Mode == "" {
		c.Scrape.Mode = ModeAuto
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		c.Scrape.TimeoutSeconds = 30
	}
	if c.Scrape.RunTimeoutMin <= 0 {
		c.Scrape.RunTimeoutMin = 15
	}
	if c.Scrape.MaxPages <= 0 {
		c.Scrape.MaxPages = 10
	}
	if c.Scrape.PageDelaySeconds == 0 {
		c.Scrape.PageDelaySeconds = 2.5
	}
	if c.Scrape.MaxAttempts <= 0 {
		c.Scrape.MaxAttempts = 3
	}
	if c.Scrape.DetailRetries <= 0 {
		c.Scrape.DetailRetries = 2
	}
	if c.Scrape.DetailWorkers <= 0 {
		c.Scrape.DetailWorkers = 3
	}
	if len(c.Monitor.Transitions) == 0 {
		c.Monitor.Transitions = project.DefaultMonitoredTransitions
	}
	if c.Monitor.BootstrapStableRuns <= 0 {
		c.Monitor.BootstrapStableRuns = 2
	}
	if c.Monitor.StabilityIntersectionMin <= 0 {
		c.Monitor.StabilityIntersectionMin = 0.80
	}
	if c.Monitor.StabilityCountRatioMin <= 0 {
		c.Monitor.StabilityCountRatioMin = 0.80
	}
	if c.Monitor.StabilityCountRatioMax <= 0 {
		c.Monitor.StabilityCountRatioMax = 1.20
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "seia-monitor.db"
	}
	if c.Storage.DebugDir == "" {
		c.Storage.DebugDir = "debug"
	}
	if c.Schedule.Spec == "" {
		c.Schedule.Spec = "0 */6 * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
}

// applyEnv layers SEIA_* variables over the file values. Secrets are
// expected to arrive this way rather than on disk.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("SEIA_BASE_URL", &c.Scrape.BaseURL)
	setString("SEIA_FETCH_MODE", &c.Scrape.Mode)
	setString("SEIA_DATABASE_PATH", &c.Storage.DatabasePath)
	setString("SEIA_DEBUG_DIR", &c.Storage.DebugDir)
	setString("SEIA_WEBHOOK_URL", &c.Notify.WebhookURL)
	setString("SEIA_EMAIL_API_URL", &c.Notify.EmailAPIURL)
	setString("SEIA_EMAIL_API_KEY", &c.Notify.EmailAPIKey)
	setString("SEIA_EMAIL_FROM", &c.Notify.EmailFrom)
	setString("SEIA_SCHEDULE", &c.Schedule.Spec)
	setString("SEIA_LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("SEIA_EMAIL_TO"); v != "" {
		c.Notify.EmailTo = splitList(v)
	}
	if v := os.Getenv("SEIA_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scrape.MaxPages = n
		}
	}
	if v := os.Getenv("SEIA_NOTIFY_NEW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Monitor.NotifyNew = b
		}
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Scrape.BaseURL == "" {
		problems = append(problems, "scrape.base_url must not be empty")
	}
	switch c.Scrape.Mode {
	case ModeAuto, ModeRequests, ModeBrowser:
	default:
		problems = append(problems, fmt.Sprintf("scrape.mode %q is not one of auto, requests, browser", c.Scrape.Mode))
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		problems = append(problems, "scrape.timeout_seconds must be positive")
	}
	if c.Scrape.MaxPages <= 0 {
		problems = append(problems, "scrape.max_pages must be positive")
	}
	if c.Scrape.PageDelaySeconds < 0 {
		problems = append(problems, "scrape.page_delay_seconds must not be negative")
	}
	if c.Storage.DatabasePath == "" {
		problems = append(problems, "storage.database_path must not be empty")
	}
	for i, tr := range c.Monitor.Transitions {
		if tr.From == "" || tr.To == "" {
			problems = append(problems, fmt.Sprintf("monitor.transitions[%d] needs both from and to", i))
		}
	}
	if (c.Notify.EmailAPIURL != "") != (c.Notify.EmailAPIKey != "") {
		problems = append(problems, "notify.email_api_url and notify.email_api_key must be set together")
	}
	if c.Notify.EmailAPIURL != "" && len(c.Notify.EmailTo) == 0 {
		problems = append(problems, "notify.email_to must list at least one recipient")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// Timeout is the per-request fetch timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// RunTimeout bounds one full monitoring run.
func (c *Config) RunTimeout() time.Duration {
	if c.Scrape.RunTimeoutMin <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Scrape.RunTimeoutMin) * time.Minute
}

// StabilityThresholds assembles the scrape-stability bounds.
func (c *Config) StabilityThresholds() project.StabilityThresholds {
	return project.StabilityThresholds{
		IntersectionMin: c.Monitor.StabilityIntersectionMin,
		CountRatioMin:   c.Monitor.StabilityCountRatioMin,
		CountRatioMax:   c.Monitor.StabilityCountRatioMax,
	}
}

// PageDelay is the pause between listing page fetches.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.Scrape.PageDelaySeconds * float64(time.Second))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
