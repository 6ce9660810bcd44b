package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Observer is called with the new configuration after every change
type Observer func(cfg *Config)

// Store holds the current configuration and notifies observers when it is
// replaced. Stored values must not be modified.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	observers []Observer
}

// NewStore returns a store holding cfg
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current configuration
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Subscribe registers an observer
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Set validates and stores cfg, then calls the observers outside the lock
func (s *Store) Set(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(cfg)
	}
	return nil
}

// Watcher reloads a configuration file into a Store when it changes
type Watcher struct {
	path     string
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      *zap.SugaredLogger

	timer *time.Timer
	mu    sync.Mutex
}

// Watch starts watching path and reloads it into store on every write,
// until ctx is done. The directory is watched so that editors replacing
// the file are noticed.
func Watch(ctx context.Context, path string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		log:      zap.S().Named("config"),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("watching %s: %v", w.path, err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warnf("reloading %s: %v", w.path, err)
		return
	}
	if err := w.store.Set(cfg); err != nil {
		w.log.Warnf("reloading %s: %v", w.path, err)
		return
	}
	w.log.Infof("reloaded %s", w.path)
}
