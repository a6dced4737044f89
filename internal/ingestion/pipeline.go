package ingestion

import (
	"context"
	stderrors "errors"
	"io/fs"

	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/rohankatakam/repograph/internal/models"
	"github.com/rohankatakam/repograph/internal/tracker"
	"github.com/rohankatakam/repograph/internal/treesitter"
	"github.com/sirupsen/logrus"
)

// Pipeline applies single-file changes reported by the watcher to the graph.
// Paths are absolute and must lie under the tracker's root.
type Pipeline struct {
	parser  *treesitter.Parser
	sync    *graph.Synchronizer
	tracker *tracker.Tracker
	root    string
	exists  existsFunc
	maxSize int64
	logger  *logrus.Entry
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithMaxFileSize skips files larger than n bytes
func WithMaxFileSize(n int64) PipelineOption {
	return func(p *Pipeline) { p.maxSize = n }
}

// NewPipeline creates a live pipeline
func NewPipeline(parser *treesitter.Parser, synchronizer *graph.Synchronizer, tr *tracker.Tracker, logger *logrus.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	root := tr.Matcher().Root()
	p := &Pipeline{
		parser:  parser,
		sync:    synchronizer,
		tracker: tr,
		root:    root,
		exists:  onDisk(root),
		logger:  logger.WithField("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upsert re-ingests path when its content changed since it was last seen
func (p *Pipeline) Upsert(ctx context.Context, path string) error {
	rel, ok := p.rel(path)
	if !ok || !isSourceFile(rel) {
		return nil
	}

	changed, err := p.tracker.Update(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			// deleted before the debounce window closed
			return p.Remove(ctx, path)
		}
		return err
	}
	if !changed {
		p.logger.WithField("path", rel).Debug("Content unchanged, skipping")
		return nil
	}
	return p.ingest(ctx, path, rel)
}

// Remove deletes path from the graph. A directory removes every tracked
// file beneath it.
func (p *Pipeline) Remove(ctx context.Context, path string) error {
	var paths []string
	if _, tracked := p.tracker.Lookup(path); tracked {
		paths = []string{path}
	} else if under := p.tracker.PathsUnder(path); len(under) > 0 {
		paths = under
	} else if rel, ok := p.rel(path); ok && isSourceFile(rel) {
		paths = []string{path}
	}

	for _, abs := range paths {
		rel, ok := p.rel(abs)
		if !ok {
			continue
		}
		deleted, err := p.sync.RemoveFile(ctx, rel)
		if err != nil {
			return err
		}
		p.tracker.Remove(abs)
		p.logger.WithFields(logrus.Fields{"path": rel, "deleted": deleted}).Info("File removed")
	}
	return nil
}

// Rename moves a file's subgraph to its new path, then re-parses it when its
// content, language or directory changed.
func (p *Pipeline) Rename(ctx context.Context, from, to string) error {
	relFrom, okFrom := p.rel(from)
	relTo, okTo := p.rel(to)
	fromSource := okFrom && isSourceFile(relFrom)
	toSource := okTo && isSourceFile(relTo)

	switch {
	case !fromSource && !toSource:
		return nil
	case !toSource:
		return p.Remove(ctx, from)
	case !fromSource:
		return p.Upsert(ctx, to)
	}

	renamed, err := p.sync.UpdateFilePath(ctx, relFrom, relTo)
	if err != nil {
		return err
	}
	if !renamed || !p.tracker.Rename(from, to) {
		// nothing to move; treat the destination as new
		p.tracker.Remove(to)
		return p.Upsert(ctx, to)
	}
	p.logger.WithFields(logrus.Fields{"from": relFrom, "to": relTo}).Info("File renamed")

	changed, err := p.tracker.Update(to)
	if err != nil {
		return err
	}
	sameLanguage := treesitter.DetectLanguage(relFrom) == treesitter.DetectLanguage(relTo)
	sameDir := models.ParentDir(relFrom) == models.ParentDir(relTo)
	if !changed && sameLanguage && sameDir {
		return nil
	}
	return p.ingest(ctx, to, relTo)
}

// ingest parses and writes one file. A failed write forgets the file's
// fingerprint so the next event retries it.
func (p *Pipeline) ingest(ctx context.Context, path, rel string) error {
	structure, err := parseFile(p.parser, p.root, rel, p.exists, p.maxSize)
	if stderrors.Is(err, errFileTooLarge) {
		p.logger.WithField("path", rel).Debug("File exceeds size limit, skipping")
		return nil
	}
	if err != nil {
		p.tracker.Remove(path)
		return err
	}
	synced, err := p.sync.ProcessFileStructure(ctx, structure)
	if err != nil {
		p.tracker.Remove(path)
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"path":     rel,
		"entities": synced.Entities,
		"links":    synced.Links,
	}).Info("File synchronized")
	return nil
}

func (p *Pipeline) rel(path string) (string, bool) {
	return p.tracker.Matcher().Rel(path)
}
