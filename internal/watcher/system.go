package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/fingerprint"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/sirupsen/logrus"
)

// heldRename is a rename source waiting for its destination
type heldRename struct {
	at      time.Time
	pending bool
}

// System watches a repository tree and forwards debounced changes to a Handler.
//
// A single goroutine owns the pending table and runs every handler call, so
// changes to one path are applied in the order they were observed. Removes
// bypass debouncing. A rename source is held briefly and paired with a
// following create whose content hash matches the source's fingerprint.
type System struct {
	matcher *ignore.Matcher
	handler Handler
	index   Index
	config  Config
	logger  *logrus.Entry

	mu     sync.Mutex
	state  State
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}

	inject  chan Event
	results chan Result

	// owned by the loop goroutine
	pending map[string]time.Time
	held    map[string]heldRename
}

// New creates an idle watcher rooted at the matcher's root
func New(matcher *ignore.Matcher, handler Handler, index Index, config Config, logger *logrus.Logger) *System {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	config = config.withDefaults()
	return &System{
		matcher: matcher,
		handler: handler,
		index:   index,
		config:  config,
		logger:  logger.WithField("component", "watcher"),
		inject:  make(chan Event, 64),
		results: make(chan Result, config.ResultBuffer),
	}
}

// Start subscribes to the tree and begins processing. It fails when already
// watching or when the root cannot be registered.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateWatching {
		return errors.InternalErrorf("watcher already started for %s", s.matcher.Root())
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WatchError(err, "failed to create filesystem watcher")
	}
	s.fsw = fsw
	if err := s.addRecursive(s.matcher.Root()); err != nil {
		fsw.Close()
		s.fsw = nil
		return errors.WatchErrorf(err, "failed to watch %s", s.matcher.Root())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.pending = make(map[string]time.Time)
	s.held = make(map[string]heldRename)
	s.state = StateWatching

	go s.loop(loopCtx, context.WithoutCancel(ctx), fsw)

	s.logger.WithField("root", s.matcher.Root()).Info("Watching for changes")
	return nil
}

// Stop cancels the loop, waits for an in-flight handler call to finish and
// releases the subscription. It is safe to call more than once.
func (s *System) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateWatching {
		return
	}
	s.cancel()
	<-s.done
	if err := s.fsw.Close(); err != nil {
		s.logger.WithError(err).Debug("Failed to close filesystem watcher")
	}
	s.fsw = nil
	s.state = StateIdle
	s.logger.Info("Stopped watching")
}

// State returns the lifecycle state
func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns the channel handler outcomes are published on. Results are
// dropped when the buffer is full.
func (s *System) Results() <-chan Result {
	return s.results
}

func (s *System) loop(ctx, handlerCtx context.Context, fsw *fsnotify.Watcher) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev, ok := translate(raw); ok {
				s.handleEvent(handlerCtx, ev, time.Now())
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("Filesystem watcher error")

		case ev := <-s.inject:
			s.handleEvent(handlerCtx, ev, time.Now())

		case now := <-ticker.C:
			s.sweep(handlerCtx, now)
		}
	}
}

func (s *System) handleEvent(ctx context.Context, ev Event, now time.Time) {
	if s.ignored(ev.Path) {
		return
	}

	switch ev.Kind {
	case Create, RenameTo:
		info, err := os.Stat(ev.Path)
		if err != nil {
			return
		}
		if info.IsDir() {
			s.watchNewDirectory(ev.Path, now)
			return
		}
		if s.pairRename(ctx, ev.Path) {
			return
		}
		s.pending[ev.Path] = now

	case Modify:
		if info, err := os.Stat(ev.Path); err == nil && info.IsDir() {
			return
		}
		s.pending[ev.Path] = now

	case Remove:
		s.dropPending(ev.Path)
		delete(s.held, ev.Path)
		s.dispatch(Result{Path: ev.Path, Op: OpRemove}, func() error {
			return s.handler.Remove(ctx, ev.Path)
		})

	case RenameFrom:
		_, wasPending := s.pending[ev.Path]
		delete(s.pending, ev.Path)
		s.held[ev.Path] = heldRename{at: now, pending: wasPending}

	case Rename:
		delete(s.pending, ev.OldPath)
		s.dispatch(Result{Path: ev.Path, OldPath: ev.OldPath, Op: OpRename}, func() error {
			return s.handler.Rename(ctx, ev.OldPath, ev.Path)
		})
	}
}

// pairRename matches a created file against held rename sources by content
// hash and dispatches the rename when one matches
func (s *System) pairRename(ctx context.Context, path string) bool {
	if len(s.held) == 0 || s.index == nil {
		return false
	}
	hash, err := fingerprint.HashFile(path)
	if err != nil {
		return false
	}

	sources := make([]string, 0, len(s.held))
	for old := range s.held {
		sources = append(sources, old)
	}
	sort.Strings(sources)

	for _, old := range sources {
		fp, ok := s.index.Lookup(old)
		if !ok || fp.Hash != hash {
			continue
		}
		h := s.held[old]
		delete(s.held, old)
		if h.pending {
			s.pending[path] = h.at
		}
		s.dispatch(Result{Path: path, OldPath: old, Op: OpRename}, func() error {
			return s.handler.Rename(ctx, old, path)
		})
		return true
	}
	return false
}

// sweep expires unpaired rename sources as removes, then processes every
// pending path that has been quiet for the debounce window
func (s *System) sweep(ctx context.Context, now time.Time) {
	var expired []string
	for old, h := range s.held {
		if now.Sub(h.at) >= s.config.RenameWindow {
			expired = append(expired, old)
		}
	}
	sort.Strings(expired)
	for _, old := range expired {
		delete(s.held, old)
		s.dispatch(Result{Path: old, Op: OpRemove}, func() error {
			return s.handler.Remove(ctx, old)
		})
	}

	var stable []string
	for path, last := range s.pending {
		if now.Sub(last) >= s.config.Debounce {
			stable = append(stable, path)
		}
	}
	if len(stable) == 0 {
		return
	}
	sort.Strings(stable)
	for _, path := range stable {
		delete(s.pending, path)
	}
	s.logger.WithField("paths", len(stable)).Debug("Processing stabilized changes")
	for _, path := range stable {
		s.dispatch(Result{Path: path, Op: OpUpsert}, func() error {
			return s.handler.Upsert(ctx, path)
		})
	}
}

// dispatch runs a handler call, logs a failure and publishes the result
func (s *System) dispatch(r Result, fn func() error) {
	r.Err = fn()
	if r.Err != nil {
		fields := logrus.Fields{"path": r.Path, "op": r.Op, "error_type": errors.GetType(r.Err)}
		if r.OldPath != "" {
			fields["old_path"] = r.OldPath
		}
		entry := s.logger.WithFields(fields).WithError(r.Err)
		// a file that fails to parse is skipped; anything worse is an error
		if errors.GetSeverity(r.Err) <= errors.SeverityMedium {
			entry.Warn("Failed to apply change")
		} else {
			entry.Error("Failed to apply change")
		}
	}
	select {
	case s.results <- r:
	default:
	}
}

// dropPending forgets path and anything pending beneath it
func (s *System) dropPending(path string) {
	delete(s.pending, path)
	prefix := strings.TrimSuffix(path, string(filepath.Separator)) + string(filepath.Separator)
	for p := range s.pending {
		if strings.HasPrefix(p, prefix) {
			delete(s.pending, p)
		}
	}
}

// watchNewDirectory registers a created directory tree and enqueues the
// files already inside it
func (s *System) watchNewDirectory(dir string, now time.Time) {
	if err := s.addRecursive(dir); err != nil {
		s.logger.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != dir && s.matcher.MatchAbs(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			s.pending[path] = now
		}
		return nil
	})
}

// addRecursive adds dir and every non-ignored directory beneath it
func (s *System) addRecursive(dir string) error {
	root := s.matcher.Root()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			s.logger.WithError(err).WithField("path", path).Debug("Skipping unreadable directory")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && s.matcher.MatchAbs(path, true) {
			return filepath.SkipDir
		}
		if err := s.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			s.logger.WithError(err).WithField("path", path).Warn("Failed to watch directory")
		}
		return nil
	})
}

// ignored applies the matcher, treating paths outside the root as ignored
func (s *System) ignored(path string) bool {
	if path == s.matcher.Root() {
		return true
	}
	isDir := false
	if info, err := os.Stat(path); err == nil {
		isDir = info.IsDir()
	}
	return s.matcher.MatchAbs(path, isDir)
}
