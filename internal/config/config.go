// Package config provides YAML (or TOML) configuration loading for agentbus.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level agentbus configuration, loaded from agentbus.yaml.
type Config struct {
	Bus       BusConfig       `yaml:"bus" toml:"bus"`
	State     StateConfig     `yaml:"state" toml:"state"`
	Runtime   RuntimeConfig   `yaml:"runtime" toml:"runtime"`
	Dashboard DashboardConfig `yaml:"dashboard" toml:"dashboard"`
	Journal   JournalConfig   `yaml:"journal" toml:"journal"`
	Notify    NotifyConfig    `yaml:"notify" toml:"notify"`
	Agents    []AgentConfig   `yaml:"agents" toml:"agents"`
}

// BusConfig tunes conflict resolution and the task ledger.
type BusConfig struct {
	Strategy          string `yaml:"strategy" toml:"strategy"`
	LoadThreshold     int    `yaml:"load_threshold" toml:"load_threshold"`
	AckEchoLength     int    `yaml:"ack_echo_length" toml:"ack_echo_length"`
	StrictTransitions bool   `yaml:"strict_transitions" toml:"strict_transitions"`
	UnknownTask       string `yaml:"unknown_task" toml:"unknown_task"`
}

// StateConfig locates the JSON snapshot and its autosave schedule.
type StateConfig struct {
	Path     string `yaml:"path" toml:"path"`
	Autosave string `yaml:"autosave" toml:"autosave"` // 5-field cron; empty disables
}

// RuntimeConfig sets the agent polling cadence.
type RuntimeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff" toml:"error_backoff"`
	PollLimit    int           `yaml:"poll_limit" toml:"poll_limit"`
}

// DashboardConfig holds the HTTP API settings.
type DashboardConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// JournalConfig selects the activity journal database. An empty driver
// disables the journal.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	// Retention prunes events older than this; zero keeps everything.
	Retention     time.Duration `yaml:"retention" toml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule" toml:"prune_schedule"`
}

// NotifyConfig routes selected bus events to a chat channel. An empty
// platform disables notifications. Tokens may reference environment
// variables, e.g. "${SLACK_BOT_TOKEN}".
type NotifyConfig struct {
	Platform string        `yaml:"platform" toml:"platform"` // slack | discord
	Channel  string        `yaml:"channel" toml:"channel"`
	Kinds    []string      `yaml:"kinds" toml:"kinds"`
	Slack    SlackConfig   `yaml:"slack" toml:"slack"`
	Discord  DiscordConfig `yaml:"discord" toml:"discord"`
}

// SlackConfig holds the Slack bot credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token" toml:"bot_token"`
}

// DiscordConfig holds the Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" toml:"bot_token"`
}

// AgentConfig declares an agent to register at startup. Run starts an
// in-process runner for it.
type AgentConfig struct {
	Name         string                 `yaml:"name" toml:"name"`
	Capabilities []string               `yaml:"capabilities" toml:"capabilities"`
	Metadata     map[string]interface{} `yaml:"metadata" toml:"metadata"`
	Run          bool                   `yaml:"run" toml:"run"`
}

// Unknown-task policies.
const (
	UnknownTaskError  = "error"
	UnknownTaskIgnore = "ignore"
)

var strategies = []string{"priority_based", "timestamp_based", "round_robin"}

var notifyKinds = []string{"conflict", "evicted", "delegated", "degraded", "task_created", "task_failed", "task_completed"}

// Load reads a config file from path and returns a validated Config. Files
// ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg.finish()
}

// ParseTOML unmarshals TOML bytes into a validated Config.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg.finish()
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c Config) finish() (*Config, error) {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Bus.Strategy == "" {
		c.Bus.Strategy = "priority_based"
	}
	if c.Bus.LoadThreshold == 0 {
		c.Bus.LoadThreshold = 5
	}
	if c.Bus.AckEchoLength == 0 {
		c.Bus.AckEchoLength = 50
	}
	if c.Bus.UnknownTask == "" {
		c.Bus.UnknownTask = UnknownTaskError
	}
	if c.State.Path == "" {
		c.State.Path = filepath.Join("data", "state.json")
	}
	if c.Runtime.PollInterval == 0 {
		c.Runtime.PollInterval = time.Second
	}
	if c.Runtime.ErrorBackoff == 0 {
		c.Runtime.ErrorBackoff = 5 * time.Second
	}
	if c.Runtime.PollLimit == 0 {
		c.Runtime.PollLimit = 10
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Journal.Driver == "sqlite" && c.Journal.DSN == "" {
		c.Journal.DSN = filepath.Join("data", "journal.db")
	}
	if c.Journal.Retention > 0 && c.Journal.PruneSchedule == "" {
		c.Journal.PruneSchedule = "@hourly"
	}
	if c.Notify.Platform != "" && len(c.Notify.Kinds) == 0 {
		c.Notify.Kinds = []string{"delegated", "degraded", "task_failed"}
	}
	c.Notify.Slack.BotToken = os.ExpandEnv(c.Notify.Slack.BotToken)
	c.Notify.Discord.BotToken = os.ExpandEnv(c.Notify.Discord.BotToken)
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !contains(strategies, c.Bus.Strategy) {
		errs = append(errs, fmt.Sprintf("bus.strategy %q must be one of %s", c.Bus.Strategy, strings.Join(strategies, ", ")))
	}
	if c.Bus.LoadThreshold < 0 {
		errs = append(errs, "bus.load_threshold must not be negative")
	}
	if c.Bus.AckEchoLength < 0 {
		errs = append(errs, "bus.ack_echo_length must not be negative")
	}
	if c.Bus.UnknownTask != UnknownTaskError && c.Bus.UnknownTask != UnknownTaskIgnore {
		errs = append(errs, fmt.Sprintf("bus.unknown_task %q must be error or ignore", c.Bus.UnknownTask))
	}
	if c.State.Autosave != "" {
		if _, err := cron.ParseStandard(c.State.Autosave); err != nil {
			errs = append(errs, fmt.Sprintf("state.autosave: %v", err))
		}
	}
	if c.Runtime.PollInterval < 0 || c.Runtime.ErrorBackoff < 0 {
		errs = append(errs, "runtime intervals must not be negative")
	}
	if c.Runtime.PollLimit < 0 {
		errs = append(errs, "runtime.poll_limit must not be negative")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, "journal.retention must not be negative")
	}
	if c.Journal.Retention > 0 && c.Journal.Driver == "" {
		errs = append(errs, "journal.retention requires journal.driver")
	}
	if c.Journal.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Journal.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("journal.prune_schedule: %v", err))
		}
	}
	switch c.Journal.Driver {
	case "":
	case "sqlite", "mysql":
		if c.Journal.DSN == "" {
			errs = append(errs, "journal.dsn is required when journal.driver is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("journal.driver %q must be sqlite or mysql", c.Journal.Driver))
	}
	switch c.Notify.Platform {
	case "":
	case "slack", "discord":
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required when notify.platform is set")
		}
		if c.Notify.Platform == "slack" && c.Notify.Slack.BotToken == "" {
			errs = append(errs, "notify.slack.bot_token is required")
		}
		if c.Notify.Platform == "discord" && c.Notify.Discord.BotToken == "" {
			errs = append(errs, "notify.discord.bot_token is required")
		}
		for _, k := range c.Notify.Kinds {
			if !contains(notifyKinds, k) {
				errs = append(errs, fmt.Sprintf("notify.kinds: %q must be one of %s", k, strings.Join(notifyKinds, ", ")))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q must be slack or discord", c.Notify.Platform))
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].name is required", i))
			continue
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("agents[%d].name %q is duplicated", i, a.Name))
		}
		seen[a.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
