// Package store provides the read-mostly configuration store. The
// configuration lives in a single YAML document; the store presents it as
// immutable snapshots and emits a change signal when the file is rewritten
// by the external CRUD surface.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"

	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/model"
)

const reloadDebounce = 200 * time.Millisecond

// Store is a file-backed configuration store.
type Store struct {
	path   string
	mu     sync.Mutex
	snap   atomic.Pointer[model.Snapshot]
	notify chan struct{}
}

// New creates a store for the given file and loads the initial snapshot.
// A missing file yields an empty configuration; a present but invalid file
// is an error at startup.
func New(path string) (*Store, error) {
	s := &Store{
		path:   path,
		notify: make(chan struct{}, 1),
	}

	snap, err := loadSnapshot(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			snap, _ = model.NewSnapshot(model.Config{})
		} else {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	s.snap.Store(snap)
	return s, nil
}

// Snapshot returns the current immutable configuration view.
func (s *Store) Snapshot() *model.Snapshot {
	return s.snap.Load()
}

// Subscribe returns a channel that receives a signal after each successful
// reload. Signals are coalesced; consumers re-read Snapshot on receipt.
func (s *Store) Subscribe() <-chan struct{} {
	return s.notify
}

// Reload re-reads the file. On failure the last good snapshot stays in
// place and the error is returned.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := loadSnapshot(s.path)
	if err != nil {
		return fmt.Errorf("reload config %s: %w", s.path, err)
	}
	s.snap.Store(snap)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	logger.Info(ctx, "configuration reloaded", "path", s.path)
	return nil
}

// Watch reloads the configuration whenever the file changes, until the
// context is cancelled. Events are debounced because editors and atomic
// renames produce bursts.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Watch the directory: rewrites via rename would detach a file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	pending := make(chan time.Time, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case pending <- time.Now():
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(ctx, "config watcher error", "err", err)

		case <-pending:
			if err := s.Reload(ctx); err != nil {
				// Keep serving the last good snapshot.
				logger.Warn(ctx, "configuration invalid, keeping previous snapshot", "err", err)
			}
		}
	}
}

func loadSnapshot(path string) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg model.Config
	// Strict decoding rejects unknown fields, including leftovers from the
	// retired v1 pump-first schema.
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	snap, err := model.NewSnapshot(cfg)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return snap, nil
}
