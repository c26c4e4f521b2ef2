package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/files"
)

// BlacklistSource hands out the current revocation snapshot
type BlacklistSource interface {
	Snapshot() *Blacklist
}

// Blacklist is an immutable set of revoked license ids
type Blacklist struct {
	ids   map[string]struct{}
	order []string
}

// NewBlacklist builds a snapshot, dropping duplicates and keeping first-seen order
func NewBlacklist(ids []string) *Blacklist {
	b := &Blacklist{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, ok := b.ids[id]; ok || id == "" {
			continue
		}
		b.ids[id] = struct{}{}
		b.order = append(b.order, id)
	}
	return b
}

// Contains reports whether id is revoked
func (b *Blacklist) Contains(id string) bool {
	if b == nil {
		return false
	}
	_, ok := b.ids[id]
	return ok
}

// Len returns the number of revoked ids
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.order)
}

// IDs returns a copy of the ids in export order
func (b *Blacklist) IDs() []string {
	if b == nil {
		return []string{}
	}
	return append([]string{}, b.order...)
}

// Snapshot lets a fixed Blacklist act as a BlacklistSource
func (b *Blacklist) Snapshot() *Blacklist { return b }

// ParseBlacklist decodes a blacklist export (a JSON array of ids)
func ParseBlacklist(data []byte) (*Blacklist, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrBlacklistCorrupted)
	}
	return NewBlacklist(ids), nil
}

// LoadBlacklistFile reads a blacklist export. A missing file is an empty list.
func LoadBlacklistFile(path string) (*Blacklist, error) {
	data, ok, err := files.ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewBlacklist(nil), nil
	}
	return ParseBlacklist(data)
}

// BlacklistWatcher keeps the newest valid snapshot of a blacklist file. The
// parent directory is watched so replacement by rename is picked up.
type BlacklistWatcher struct {
	path     string
	current  atomic.Pointer[Blacklist]
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewBlacklistWatcher loads the file once. Call Start to follow changes.
func NewBlacklistWatcher(path string, logger *slog.Logger) (*BlacklistWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &BlacklistWatcher{
		path:     filepath.Clean(path),
		logger:   logger.With(slog.String("component", "blacklist_watcher")),
		debounce: 100 * time.Millisecond,
	}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Snapshot implements BlacklistSource
func (w *BlacklistWatcher) Snapshot() *Blacklist {
	return w.current.Load()
}

// Reload re-reads the file. On error the previous snapshot stays in place.
func (w *BlacklistWatcher) Reload() error {
	b, err := LoadBlacklistFile(w.path)
	if err != nil {
		return err
	}
	w.current.Store(b)
	return nil
}

// Start watches the file until ctx is done or Close is called
func (w *BlacklistWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create blacklist watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(ctx, watcher, w.done)

	w.logger.InfoContext(ctx, "watching blacklist", slog.String("path", w.path))
	return nil
}

// Close stops watching
func (w *BlacklistWatcher) Close() error {
	w.mu.Lock()
	watcher, done := w.watcher, w.done
	w.watcher, w.done = nil, nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

func (w *BlacklistWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			// a removed file keeps the last snapshot
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// editors and atomic writers emit bursts of events
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reloadLogged(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WarnContext(ctx, "blacklist watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *BlacklistWatcher) reloadLogged(ctx context.Context) {
	before := w.Snapshot().Len()
	if err := w.Reload(); err != nil {
		w.logger.WarnContext(ctx, "keeping previous blacklist snapshot",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.logger.InfoContext(ctx, "blacklist reloaded",
		slog.String("path", w.path),
		slog.Int("previous", before),
		slog.Int("revoked", w.Snapshot().Len()))
}
