package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent carries a freshly parsed config snapshot. Err is set when
// config.yaml changed but could not be parsed; the previous snapshot
// stays in effect and the consumer decides whether to complain.
type ReloadEvent struct {
	Config      Config
	Fingerprint string
	Err         error
}

// Watcher reloads config.yaml on every write and hands out parsed
// snapshots instead of raw file events.
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	_ = fsw.Add(ConfigPath(w.homeDir))

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.reload(ev.Name)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// reload parses the changed file and publishes the snapshot. A slow
// consumer loses intermediate snapshots, never the watcher.
func (w *Watcher) reload(path string) {
	cfg, err := LoadFrom(w.homeDir)
	event := ReloadEvent{Err: err}
	if err == nil {
		event.Config = cfg
		event.Fingerprint = cfg.Fingerprint()
	}
	select {
	case w.events <- event:
	default:
	}
	if err != nil {
		w.logger.Error("config file changed but reload failed", "path", path, "error", err)
		return
	}
	w.logger.Info("config file reloaded", "path", path, "fingerprint", event.Fingerprint)
}
