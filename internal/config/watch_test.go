package config

import (
	"context"
	"os"
	"testing"
	"time"

	logx "pillbox/pkg/logx"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", "storage:\n  path: ./old.db\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 1)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- Watch(ctx, path, logx.Nop(), func(cfg Config) {
			select {
			case got <- cfg:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("storage:\n  path: ./new.db\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.Storage.Path != "./new.db" {
			t.Fatalf("reloaded path = %q, want ./new.db", cfg.Storage.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never observed")
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on context cancel")
	}
}

func TestWatchKeepsPreviousConfigOnBadWrite(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", "storage:\n  path: ./old.db\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	go func() {
		_ = Watch(ctx, path, logx.Nop(), func(cfg Config) { got <- cfg })
	}()

	time.Sleep(100 * time.Millisecond)
	// Unknown field: Load rejects it, so onChange must not fire.
	if err := os.WriteFile(path, []byte("storagee:\n  path: ./bad.db\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-got:
		t.Fatalf("bad config applied: %+v", cfg)
	case <-time.After(time.Second):
	}
}
