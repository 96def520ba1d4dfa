package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "rotabot/pkg/logx"
)

// Watch re-reads the config file when it changes and hands the parsed result
// to onApply. Only hot-swappable settings (currently logging) are expected to
// be consumed; everything else still needs a restart.
//
// The parent directory is watched rather than the file itself so that
// editor save-via-rename and container config remounts keep working.
func Watch(ctx context.Context, path string, log logx.Logger, onApply func(Config)) error {
	if path == "" || onApply == nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	base := filepath.Base(path)

	go func() {
		defer w.Close()

		// Debounce: editors fire several events per save.
		var pending *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", logx.Err(err))
			case <-fire:
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload rejected", logx.Err(err))
					continue
				}
				log.Info("config reloaded", logx.String("path", path))
				onApply(cfg)
			}
		}
	}()
	return nil
}
