package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Registry holds the current rule book. Readers get an immutable snapshot;
// reloads swap the pointer so in-flight validations keep the book they started with.
type Registry struct {
	path   string
	logger *zap.Logger
	book   atomic.Pointer[Book]
}

// NewRegistry loads path, or the built-in book when path is empty.
func NewRegistry(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, logger: logger}
	if path == "" {
		r.book.Store(Default())
		return r, nil
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Static wraps a fixed book.
func Static(b *Book) *Registry {
	r := &Registry{logger: zap.NewNop()}
	r.book.Store(b)
	return r
}

// Current returns the active book.
func (r *Registry) Current() *Book {
	return r.book.Load()
}

// Reload re-reads the rule file. On error the previous book stays active.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	b, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	prev := r.book.Swap(b)
	if prev == nil || prev.Version() != b.Version() {
		r.logger.Info("rule book loaded", zap.String("path", r.path), zap.String("version", b.Version()))
	}
	return nil
}

// Watch reloads the book whenever the file changes until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", r.path, err)
	}
	target := filepath.Clean(r.path)

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(); err != nil {
					r.logger.Warn("rule book reload failed, keeping previous", zap.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("rule watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
