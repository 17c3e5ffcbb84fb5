package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits an update event whenever a skill manifest under one of
// its watched directories changes, so applied skills can be
// re-evaluated without restarting the daemon.
type Watcher struct {
	dirs   []string
	logger *slog.Logger
	events chan string
}

// NewWatcher creates a Watcher over dirs, each expected to contain one
// subdirectory per skill with a SKILL.yaml manifest inside.
func NewWatcher(dirs []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		cp = append(cp, d)
	}
	return &Watcher{dirs: cp, logger: logger, events: make(chan string, 16)}
}

// Events returns the channel of debounced reload signals. The value is
// always "skills"; callers reload the full manifest set on receipt.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Start begins watching until ctx is canceled, closing Events() on exit.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}

	addDir := func(dir string) {
		if strings.TrimSpace(dir) == "" {
			return
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			w.logger.Warn("skills watcher: abs failed", "dir", dir, "error", err)
			return
		}
		if err := fsw.Add(abs); err != nil {
			if os.IsNotExist(err) {
				return
			}
			w.logger.Warn("skills watcher: add failed", "dir", abs, "error", err)
			return
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return
		}
		for _, ent := range entries {
			if ent.IsDir() {
				_ = fsw.Add(filepath.Join(abs, ent.Name()))
			}
		}
	}

	for _, dir := range w.dirs {
		addDir(dir)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			close(w.events)
		}()

		var pending bool
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			if !pending {
				return
			}
			pending = false
			select {
			case w.events <- "skills":
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				createdDir := false
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						createdDir = true
						_ = fsw.Add(ev.Name)
					}
				}

				isRelevant := filepath.Base(ev.Name) == "SKILL.yaml" || createdDir
				if !isRelevant {
					continue
				}

				pending = true
				if timer == nil {
					timer = time.NewTimer(150 * time.Millisecond)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(150 * time.Millisecond)
					timerC = timer.C
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("skills watcher error", "error", err)
			case <-timerC:
				flush()
				timerC = nil
			}
		}
	}()

	return nil
}
