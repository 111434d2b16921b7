package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the config file when it changes on disk and notifies a
// callback with the fresh config. Writes are debounced because editors
// and atomic renames produce bursts of events.
type Watcher struct {
	dataDir  string
	onChange func(*Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

const watchDebounce = 250 * time.Millisecond

// NewWatcher watches the config file in dataDir.
func NewWatcher(dataDir string, onChange func(*Config)) *Watcher {
	return &Watcher{dataDir: dataDir, onChange: onChange}
}

// Start begins watching. It watches the directory, not the file, so
// atomic rename-into-place saves are observed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(w.dataDir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.dataDir, err)
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(fw, w.stopCh, w.doneCh)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
	w.watcher = nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	var pending *time.Timer
	target := filepath.Join(w.dataDir, configFileName)

	for {
		select {
		case <-stopCh:
			if pending != nil {
				pending.Stop()
			}
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFrom(w.dataDir)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload changed config")
		return
	}
	log.Info().Str("path", cfg.Path()).Msg("Configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
