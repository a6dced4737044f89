package ingestion

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/tracker"
	"github.com/rohankatakam/repograph/internal/watcher"
	"github.com/sirupsen/logrus"
)

// LiveSync keeps the graph current by feeding watcher changes through a Pipeline
type LiveSync struct {
	pipeline *Pipeline
	tracker  *tracker.Tracker
	config   watcher.Config
	logger   *logrus.Logger

	mu     sync.Mutex
	system *watcher.System
}

// NewLiveSync composes the tracker, pipeline and watcher
func NewLiveSync(pipeline *Pipeline, tr *tracker.Tracker, config watcher.Config, logger *logrus.Logger) *LiveSync {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LiveSync{
		pipeline: pipeline,
		tracker:  tr,
		config:   config,
		logger:   logger,
	}
}

// StartWatching begins watching root, which must be the tracker's root
func (l *LiveSync) StartWatching(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.FileSystemErrorf(err, "failed to resolve %s", root)
	}
	if abs != l.tracker.Matcher().Root() {
		return errors.ConfigErrorf("watch root %s does not match tracked root %s", abs, l.tracker.Matcher().Root())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.system == nil {
		l.system = watcher.New(l.tracker.Matcher(), l.pipeline, l.tracker, l.config, l.logger)
	}
	return l.system.Start(ctx)
}

// StopWatching stops the watcher. It is safe to call when not watching.
func (l *LiveSync) StopWatching() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.system != nil {
		l.system.Stop()
	}
}

// Results returns handler outcomes, or nil before the first StartWatching
func (l *LiveSync) Results() <-chan watcher.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.system == nil {
		return nil
	}
	return l.system.Results()
}

// State reports whether the watcher is running
func (l *LiveSync) State() watcher.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.system == nil {
		return watcher.StateIdle
	}
	return l.system.State()
}
