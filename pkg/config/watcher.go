package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of writes from editors into one reload.
const DefaultDebounce = time.Second

// Watcher reloads the configuration file when it changes and hands the
// validated result to a callback. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the debounce window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Start begins watching. The directory is watched because many editors
// replace files by rename.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true

	w.logger.Info("Config watcher started", "config_path", w.path)
	go w.loop(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.done
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Config file event detected", "event", event.Op.String(), "file", event.Name)

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-w.stopCh:
			w.logger.Info("Config watcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Config watcher context cancelled")
			return
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	configPath, err := filepath.Abs(w.path)
	if err != nil {
		return false
	}
	return eventPath == configPath
}

func (w *Watcher) reload() {
	start := time.Now()
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed", "config_path", w.path, "error", err)
		return
	}
	w.onChange(cfg)
	w.logger.Info("Config reload completed", "config_path", w.path, "elapsed_ms", time.Since(start).Milliseconds())
}
