package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: false
storage:
  path: ./pillbox.db
  busy_timeout: 5s
telegram:
  token: "123:abc"
  chat_id: 42
  rate_per_sec: 3
planner:
  tick: 5m
  timezone: UTC
runner:
  workers: 4
  queue_size: 16
  job_timeout: 10s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.ConsoleEnabled() {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./pillbox.db" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Telegram == nil || cfg.Telegram.Token != "123:abc" || cfg.Telegram.ChatID != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	tick, err := cfg.TickInterval()
	if err != nil || tick != 5*time.Minute {
		t.Fatalf("tick = %v, %v", tick, err)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", cfg.Location())
	}
	if cfg.Runner.Workers != 4 || cfg.Runner.QueueSize != 16 {
		t.Fatalf("runner = %+v", cfg.Runner)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "storage": { "path": "./pillbox.db" }
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram != nil {
		t.Fatalf("telegram should be nil when omitted, got %+v", cfg.Telegram)
	}
	if !cfg.Logging.ConsoleEnabled() {
		t.Fatal("console must default to enabled")
	}
	tick, err := cfg.TickInterval()
	if err != nil || tick != 15*time.Minute {
		t.Fatalf("default tick = %v, %v", tick, err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
storage:
  path: ./pillbox.db
plannerr:
  tick: 5m
`)
	if _, err := Load(path); err == nil {
		t.Fatal("typo'd section must be rejected")
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing storage path",
			content: `{"logging": {"level": "info"}}`,
		},
		{
			name: "telegram without token",
			content: `
storage:
  path: ./pillbox.db
telegram:
  chat_id: 42
`,
		},
		{
			name: "telegram without chat id",
			content: `
storage:
  path: ./pillbox.db
telegram:
  token: "123:abc"
`,
		},
		{
			name: "bad tick duration",
			content: `
storage:
  path: ./pillbox.db
planner:
  tick: soon
`,
		},
		{
			name: "bad timezone",
			content: `
storage:
  path: ./pillbox.db
planner:
  timezone: Mars/Olympus
`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, "config.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
}
