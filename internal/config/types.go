package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// Planner controls when reconciliation sweeps run.
	Planner PlannerConfig `json:"planner"`

	// Runner controls the keyed task runner that serializes
	// reconciliation per medication.
	Runner RunnerConfig `json:"runner"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console *bool  `json:"console,omitempty"` // nil = true
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "path": "./pillbox.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TelegramConfig enables reminder delivery through a Telegram bot.
// When the section is omitted, fired alarms are written to the log instead.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`

	// RatePerSec caps outgoing messages. 0 applies a conservative default.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	PollTimeout string `json:"poll_timeout,omitempty"` // Go duration string
}

// PlannerConfig controls reconciliation sweeps.
//
// All durations are Go duration strings (e.g. "30s", "15m").
type PlannerConfig struct {
	// Tick is the periodic sweep interval. Default "15m".
	Tick string `json:"tick,omitempty"`

	// Timezone resolves calendar dates and times-of-day.
	// Empty means the process-local timezone.
	Timezone string `json:"timezone,omitempty"`
}

// RunnerConfig controls the keyed task runner.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - job_timeout: "30s"
type RunnerConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
}

// Load reads and strictly decodes the config file (JSON or YAML).
// Unknown fields are rejected so typos surface at startup instead of
// silently applying defaults.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", format, err)
	}
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that strict decoding can't express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Telegram != nil {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when telegram is configured")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}
	if _, err := c.TickInterval(); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("runner.job_timeout", c.Runner.JobTimeout); err != nil {
		return err
	}
	if c.Planner.Timezone != "" {
		if _, err := time.LoadLocation(c.Planner.Timezone); err != nil {
			return fmt.Errorf("planner.timezone: %w", err)
		}
	}
	return nil
}

// TickInterval returns the sweep interval (default 15m).
func (c *Config) TickInterval() (time.Duration, error) {
	return ParseDurationOrDefault("planner.tick", c.Planner.Tick, 15*time.Minute)
}

// Location resolves the planner timezone (default: process-local).
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Planner.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// ConsoleEnabled reports whether console logging is on (default true).
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}
