package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "pillbox/pkg/logx"
)

const watchDebounce = 300 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and calls onChange
// with the freshly parsed config. Parse or validation failures keep the
// previous config and are logged; the watcher keeps running until ctx is done.
//
// Editors replace files via rename/create, so the watch is placed on the
// directory and filtered by basename.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(Config)) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	var mu sync.Mutex
	var pending *time.Timer
	reload := func() {
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		// Debounce: editors emit bursts of write/rename events per save.
		pending = time.AfterFunc(watchDebounce, func() {
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed; keeping previous config", logx.String("path", path), logx.Err(err))
				return
			}
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Compare by basename (robust across absolute/relative paths and OS quirks).
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					reload()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}
