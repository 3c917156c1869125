package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher monitors a config file, and every data file it references, for
// changes and calls a callback when any of them is modified. It polls
// modification times and confirms changes by content hash.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known state for change detection: mtimes of every watched file and
	// a hash over all of their contents.
	lastMtimes map[string]time.Time
	lastHash   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// snapshot is one consistent read of the config and its data files.
type snapshot struct {
	cfg    *Config
	hash   [sha256.Size]byte
	mtimes map[string]time.Time
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the files periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads when any watched mtime moved and, if the content really
// changed and the new config is valid, calls onChange.
func (w *Watcher) check() {
	w.mu.Lock()
	mtimes := w.lastMtimes
	w.mu.Unlock()

	if !w.touched(mtimes) {
		return
	}

	snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.lastHash {
		// Files were touched but content is identical.
		w.lastMtimes = snap.mtimes
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// touched reports whether the config file or any known data file has a
// modification time different from mtimes.
func (w *Watcher) touched(mtimes map[string]time.Time) bool {
	for p, prev := range mtimes {
		info, err := os.Stat(p)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", p, "err", err)
			if p == w.path {
				return false
			}
			return true
		}
		if !info.ModTime().Equal(prev) {
			return true
		}
	}
	return false
}

// load reads and validates the config, then reads every referenced data file.
// The combined hash covers all file contents. If the config is invalid or a
// data file is unreadable, it returns an error and the caller keeps the old
// config.
func (w *Watcher) load() (snapshot, error) {
	data, mtime, err := readWithMtime(w.path)
	if err != nil {
		return snapshot{}, err
	}

	cfg, err := parse(data)
	if err != nil {
		return snapshot{}, err
	}
	resolvePaths(cfg, filepath.Dir(w.path))
	if err := Validate(cfg); err != nil {
		return snapshot{}, err
	}

	h := sha256.New()
	h.Write(data)
	snap := snapshot{cfg: cfg, mtimes: map[string]time.Time{w.path: mtime}}
	cfg.digests = make(map[string][sha256.Size]byte)
	for _, p := range cfg.dataFiles() {
		if *p == "" {
			continue
		}
		content, mt, err := readWithMtime(*p)
		if err != nil {
			return snapshot{}, err
		}
		cfg.digests[*p] = sha256.Sum256(content)
		snap.mtimes[*p] = mt
		h.Write([]byte(*p))
		h.Write(content)
	}
	copy(snap.hash[:], h.Sum(nil))
	return snap, nil
}

// readWithMtime reads a whole file together with its modification time.
func readWithMtime(path string) ([]byte, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, time.Time{}, err
	}
	return buf.Bytes(), info.ModTime(), nil
}
