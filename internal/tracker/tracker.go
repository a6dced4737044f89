package tracker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/fingerprint"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/sirupsen/logrus"
)

// Store persists fingerprints between runs
type Store interface {
	Load() (map[string]Fingerprint, error)
	Put(fp Fingerprint) error
	Delete(path string) error
	Close() error
}

// Tracker owns the mapping from absolute path to last known fingerprint.
// It is the only writer of that mapping; all methods are safe for concurrent use.
//
// Change detection is two-phase:
//  1. Compare size and modification time with the stored fingerprint. Equal means unchanged.
//  2. Otherwise hash the content. An equal hash means only metadata drifted, so the
//     stored size and mtime are refreshed and the file is reported unchanged.
//     A different hash replaces the fingerprint and reports a change.
//
// Paths that vanish from disk are never pruned implicitly; callers use Remove.
type Tracker struct {
	mu      sync.Mutex
	files   map[string]Fingerprint
	matcher *ignore.Matcher
	store   Store
	logger  *logrus.Entry
}

// Option configures a Tracker
type Option func(*Tracker)

// WithStore persists fingerprints through s
func WithStore(s Store) Option {
	return func(t *Tracker) {
		t.store = s
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger.WithField("component", "tracker")
	}
}

// New creates a tracker scoped to the matcher's root. When a store is configured
// its fingerprints are loaded so a restart does not report every file as changed.
func New(matcher *ignore.Matcher, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		files:   make(map[string]Fingerprint),
		matcher: matcher,
		logger:  logrus.StandardLogger().WithField("component", "tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.store != nil {
		loaded, err := t.store.Load()
		if err != nil {
			return nil, errors.FileSystemError(err, "failed to load fingerprint store")
		}
		for path, fp := range loaded {
			t.files[path] = fp
		}
		t.logger.WithField("fingerprints", len(loaded)).Debug("Loaded fingerprint store")
	}

	return t, nil
}

// Scan walks the root once and returns the sorted absolute paths of regular
// files that are new or modified. Ignored directories are not descended into.
func (t *Tracker) Scan(ctx context.Context) ([]string, error) {
	root := t.matcher.Root()
	var changed []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			t.logger.WithError(err).WithField("path", path).Debug("Skipping unreadable path")
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}

		if t.matcher.MatchAbs(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		isChanged, err := t.HasChanged(path)
		if err != nil {
			// file vanished between listing and hashing
			t.logger.WithError(err).WithField("path", path).Warn("Failed to fingerprint file")
			return nil
		}
		if isChanged {
			changed = append(changed, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "failed to scan %s", root)
	}

	sort.Strings(changed)
	return changed, nil
}

// HasChanged reports whether path differs from its stored fingerprint and
// records the new fingerprint when it does. Untracked paths count as changed.
func (t *Tracker) HasChanged(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.FileSystemErrorf(err, "failed to stat %s", path)
	}

	t.mu.Lock()
	prev, tracked := t.files[path]
	t.mu.Unlock()

	if tracked && prev.sameMetadata(info.Size(), info.ModTime()) {
		return false, nil
	}

	hash, err := fingerprint.HashFile(path)
	if err != nil {
		return false, errors.FileSystemErrorf(err, "failed to hash %s", path)
	}

	next := Fingerprint{
		Path:    path,
		Hash:    hash,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	t.mu.Lock()
	t.files[path] = next
	t.mu.Unlock()
	t.persist(next)

	return !tracked || prev.Hash != hash, nil
}

// Update is HasChanged under the name used by the live sync path
func (t *Tracker) Update(path string) (bool, error) {
	return t.HasChanged(path)
}

// Remove evicts path. Graph-side deletion is the caller's responsibility.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	_, ok := t.files[path]
	delete(t.files, path)
	t.mu.Unlock()

	if ok && t.store != nil {
		if err := t.store.Delete(path); err != nil {
			t.logger.WithError(err).WithField("path", path).Warn("Failed to delete persisted fingerprint")
		}
	}
}

// Rename moves the fingerprint for from to to without rehashing.
// It returns false when from was not tracked.
func (t *Tracker) Rename(from, to string) bool {
	t.mu.Lock()
	fp, ok := t.files[from]
	if ok {
		delete(t.files, from)
		fp.Path = to
		t.files[to] = fp
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if t.store != nil {
		if err := t.store.Delete(from); err != nil {
			t.logger.WithError(err).WithField("path", from).Warn("Failed to delete persisted fingerprint")
		}
	}
	t.persist(fp)
	return true
}

// Lookup returns the stored fingerprint for path
func (t *Tracker) Lookup(path string) (Fingerprint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fp, ok := t.files[path]
	return fp, ok
}

// PathsUnder returns the sorted tracked paths inside dir
func (t *Tracker) PathsUnder(dir string) []string {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)

	t.mu.Lock()
	var paths []string
	for path := range t.files {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	t.mu.Unlock()

	sort.Strings(paths)
	return paths
}

// Paths returns every tracked path, sorted
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	paths := make([]string, 0, len(t.files))
	for path := range t.files {
		paths = append(paths, path)
	}
	t.mu.Unlock()

	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked files
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// Matcher returns the ignore matcher the tracker scans with
func (t *Tracker) Matcher() *ignore.Matcher {
	return t.matcher
}

// Close releases the store
func (t *Tracker) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

func (t *Tracker) persist(fp Fingerprint) {
	if t.store == nil {
		return
	}
	if err := t.store.Put(fp); err != nil {
		t.logger.WithError(err).WithField("path", fp.Path).Warn("Failed to persist fingerprint")
	}
}
