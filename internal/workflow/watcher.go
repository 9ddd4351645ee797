package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher calls a function whenever the runtime-state file changes. The
// parent directory is watched so replace-by-rename writes are seen too.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
	onChange func(context.Context)
	watcher  *fsnotify.Watcher
}

// NewWatcher prepares a watcher for path. Bursts of events within debounce
// collapse into one call.
func NewWatcher(path string, debounce time.Duration, logger *zap.Logger, onChange func(context.Context)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("workflow: watcher needs a change handler")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger = logging.OrNop(logger)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workflow: create watcher: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fw.Close()
		return nil, fmt.Errorf("workflow: ensure %s: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("workflow: watch %s: %w", dir, err)
	}
	return &Watcher{path: abs, debounce: debounce, logger: logger, onChange: onChange, watcher: fw}, nil
}

// Run blocks until ctx is done, then releases the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.logger.Debug("runtime state changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("state watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.onChange(ctx)
		}
	}
}
