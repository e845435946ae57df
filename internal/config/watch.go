package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// debounceWindow absorbs the burst of fsnotify events editors emit for one
// logical save.
const debounceWindow = 250 * time.Millisecond

// Watcher re-reads the config file when it changes on disk and invokes the
// registered callback. Definition reload on top of the re-read is the
// callback's job.
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	onChange func()
	done     chan struct{}
}

// NewWatcher watches configDir for changes to the config file.
func NewWatcher(configDir string, logger *slog.Logger, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(configDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watch loop until Close is called.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != ConfigFileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		case <-fire:
			fire = nil
			if err := viper.ReadInConfig(); err != nil {
				w.logger.Error("config reload failed", "error", err)
				continue
			}
			w.logger.Info("config file changed, reloading")
			w.onChange()
		}
	}
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
