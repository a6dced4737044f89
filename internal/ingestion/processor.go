package ingestion

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/rohankatakam/repograph/internal/models"
	"github.com/rohankatakam/repograph/internal/tracker"
	"github.com/rohankatakam/repograph/internal/treesitter"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProcessorConfig holds configuration for repository processing
type ProcessorConfig struct {
	Workers     int            // Number of concurrent parsers (default: NumCPU)
	Incremental bool           // Only ingest files the tracker reports as changed
	ProjectName string         // Project node name (default: root directory name)
	MaxFileSize int64          // Files larger than this are skipped; zero means no limit
	Ignore      ignore.Options // Ignore rules used when the processor builds its own matcher
}

// DefaultProcessorConfig returns default configuration
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Workers: runtime.NumCPU(),
		Ignore:  ignore.Options{UseGitignore: true},
	}
}

// ProgressFunc is called after each file with the number done and the total
type ProgressFunc func(done, total int)

// Processor orchestrates: walk → parse → resolve → graph synchronization
type Processor struct {
	config   *ProcessorConfig
	parser   *treesitter.Parser
	sync     *graph.Synchronizer
	tracker  *tracker.Tracker
	logger   *logrus.Entry
	progress ProgressFunc
}

// NewProcessor creates a new repository processor. tr may be nil, in which
// case every walked file is ingested and incremental mode is unavailable.
func NewProcessor(config *ProcessorConfig, parser *treesitter.Parser, synchronizer *graph.Synchronizer, tr *tracker.Tracker, logger *logrus.Logger) *Processor {
	if config == nil {
		config = DefaultProcessorConfig()
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		config:  config,
		parser:  parser,
		sync:    synchronizer,
		tracker: tr,
		logger:  logger.WithField("component", "processor"),
	}
}

// OnProgress registers a progress callback. It is called from worker goroutines.
func (p *Processor) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

// Result holds results from ingesting a repository
type Result struct {
	RunID          string
	Root           string
	FilesTotal     int
	FilesProcessed int
	FilesFailed    int
	FilesSkipped   int
	FilesRemoved   int
	Entities       int
	Links          int
	Stats          FileStats
	Duration       time.Duration
	Errors         []error
}

// ParseDirectory parses every source file under root and returns the
// entities and links the synchronizer would write for them, without touching
// the graph. Directories come first, then each file followed by its
// declarations. Per-file failures are joined into the returned error; the
// entities and links of the files that parsed are still returned.
func (p *Processor) ParseDirectory(ctx context.Context, root string) ([]models.CodeEntity, []models.LinkEntity, error) {
	matcher, err := p.matcherFor(root)
	if err != nil {
		return nil, nil, err
	}
	files, err := WalkSourceFiles(ctx, matcher)
	if err != nil {
		return nil, nil, err
	}

	structures := make([]*models.FileStructure, len(files))
	exists := fileSet(files)
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fs, err := p.parse(matcher.Root(), rel, exists)
			if stderrors.Is(err, errFileTooLarge) {
				return nil
			}
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return nil
			}
			structures[i] = fs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var dirs, rest []models.CodeEntity
	var dirLinks, links []models.LinkEntity
	seenDir := make(map[string]bool)
	seenLink := make(map[models.LinkEntity]bool)
	for _, fs := range structures {
		if fs == nil {
			continue
		}
		plan := graph.PlanFileStructure(fs)
		for _, d := range plan.Directories {
			if !seenDir[d.ID] {
				seenDir[d.ID] = true
				dirs = append(dirs, d)
			}
		}
		chain := len(plan.Directories) - 1
		for _, l := range plan.Links[:chain] {
			if !seenLink[l] {
				seenLink[l] = true
				dirLinks = append(dirLinks, l)
			}
		}
		rest = append(rest, plan.File)
		rest = append(rest, plan.Entities...)
		links = append(links, plan.Links[chain:]...)
	}

	entities := append(dirs, rest...)
	links = append(dirLinks, links...)
	if len(failures) > 0 {
		return entities, links, errors.ParseErrorf(stderrors.Join(failures...), "failed to parse %d of %d files", len(failures), len(files))
	}
	return entities, links, nil
}

// ParseAndIngestDirectory walks root, parses every source file and writes it
// to the graph. Per-file failures are recorded in the result and do not stop
// the run; only walk, schema-level or cancellation errors are returned.
func (p *Processor) ParseAndIngestDirectory(ctx context.Context, root string) (*Result, error) {
	startTime := time.Now()

	matcher, err := p.matcherFor(root)
	if err != nil {
		return nil, err
	}
	absRoot := matcher.Root()

	result := &Result{
		RunID: uuid.NewString(),
		Root:  absRoot,
	}
	log := p.logger.WithFields(logrus.Fields{"run_id": result.RunID, "root": absRoot})
	log.WithField("workers", p.config.Workers).Info("Starting repository ingestion")

	files, err := WalkSourceFiles(ctx, matcher)
	if err != nil {
		return nil, err
	}
	result.FilesTotal = len(files)
	result.Stats = CountFiles(files)

	todo := files
	if p.tracker != nil {
		todo, err = p.selectChanged(absRoot, files, result)
		if err != nil {
			return nil, err
		}
		if p.config.Incremental {
			if err := p.removeVanished(ctx, absRoot, files, result); err != nil {
				return nil, err
			}
		}
	}

	name := p.config.ProjectName
	if name == "" {
		name = filepath.Base(absRoot)
	}
	if err := p.sync.RegisterProject(ctx, name, absRoot); err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(todo))
	for _, rel := range todo {
		dirs = append(dirs, models.ParentDir(rel))
	}
	if err := p.sync.EnsureDirectories(ctx, dirs); err != nil {
		return nil, err
	}

	exists := fileSet(files)
	var mu sync.Mutex
	var done atomic.Int64
	total := len(todo)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for _, rel := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			synced, err := p.ingestFile(gctx, absRoot, rel, exists)

			mu.Lock()
			if stderrors.Is(err, errFileTooLarge) {
				result.FilesSkipped++
				err = nil
			} else if err != nil {
				result.FilesFailed++
				result.Errors = append(result.Errors, err)
			} else {
				result.FilesProcessed++
				result.Entities += synced.Entities
				result.Links += synced.Links
			}
			mu.Unlock()

			if p.progress != nil {
				p.progress(int(done.Add(1)), total)
			}
			if err != nil {
				log.WithError(err).WithField("path", rel).Warn("Failed to ingest file")
				if errors.IsFatal(err) {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(startTime)
	log.WithFields(logrus.Fields{
		"files":     result.FilesTotal,
		"processed": result.FilesProcessed,
		"skipped":   result.FilesSkipped,
		"failed":    result.FilesFailed,
		"removed":   result.FilesRemoved,
		"entities":  result.Entities,
		"links":     result.Links,
		"duration":  result.Duration,
	}).Info("Repository ingestion complete")

	return result, nil
}

// selectChanged records a fingerprint for every walked file. In incremental
// mode only changed files are returned.
func (p *Processor) selectChanged(absRoot string, files []string, result *Result) ([]string, error) {
	changed := make([]string, 0, len(files))
	for _, rel := range files {
		isChanged, err := p.tracker.HasChanged(absPath(absRoot, rel))
		if err != nil {
			// vanished since the walk
			p.logger.WithError(err).WithField("path", rel).Debug("Skipping unreadable file")
			result.FilesSkipped++
			continue
		}
		if isChanged || !p.config.Incremental {
			changed = append(changed, rel)
			continue
		}
		result.FilesSkipped++
	}
	return changed, nil
}

// removeVanished drops tracked files that the walk no longer found
func (p *Processor) removeVanished(ctx context.Context, absRoot string, files []string, result *Result) error {
	present := fileSet(files)
	for _, abs := range p.tracker.PathsUnder(absRoot) {
		rel, ok := p.tracker.Matcher().Rel(abs)
		if !ok || present(rel) {
			continue
		}
		if _, err := p.sync.RemoveFile(ctx, rel); err != nil {
			return err
		}
		p.tracker.Remove(abs)
		result.FilesRemoved++
	}
	return nil
}

// ingestFile parses one file and writes it. A failed write forgets the
// file's fingerprint so the next run retries it.
func (p *Processor) ingestFile(ctx context.Context, absRoot, rel string, exists existsFunc) (graph.FileSyncResult, error) {
	fs, err := p.parse(absRoot, rel, exists)
	if err != nil {
		p.forget(absRoot, rel)
		return graph.FileSyncResult{}, err
	}
	synced, err := p.sync.ProcessFileStructure(ctx, fs)
	if err != nil {
		p.forget(absRoot, rel)
		return graph.FileSyncResult{}, err
	}
	return synced, nil
}

func (p *Processor) forget(absRoot, rel string) {
	if p.tracker != nil {
		p.tracker.Remove(absPath(absRoot, rel))
	}
}

// parse reads, parses and resolves one file
func (p *Processor) parse(absRoot, rel string, exists existsFunc) (*models.FileStructure, error) {
	return parseFile(p.parser, absRoot, rel, exists, p.config.MaxFileSize)
}

// errFileTooLarge marks files skipped by the size limit
var errFileTooLarge = stderrors.New("file exceeds size limit")

func parseFile(parser *treesitter.Parser, absRoot, rel string, exists existsFunc, maxSize int64) (*models.FileStructure, error) {
	path := absPath(absRoot, rel)
	if maxSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.FileSystemError(err, "failed to stat source file").WithPath(rel)
		}
		if info.Size() > maxSize {
			return nil, fmt.Errorf("%s (%d bytes): %w", rel, info.Size(), errFileTooLarge)
		}
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileSystemError(err, "failed to read source file").WithPath(rel)
	}
	fs, err := parser.Parse(rel, source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	resolveImports(fs, exists)
	return fs, nil
}

// matcherFor reuses the tracker's matcher when it is rooted at root
func (p *Processor) matcherFor(root string) (*ignore.Matcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "failed to resolve %s", root)
	}
	if p.tracker != nil && p.tracker.Matcher().Root() == abs {
		return p.tracker.Matcher(), nil
	}
	matcher, err := ignore.New(abs, p.config.Ignore)
	if err != nil {
		return nil, errors.ConfigErrorf("invalid ignore configuration: %v", err)
	}
	return matcher, nil
}

func absPath(absRoot, rel string) string {
	return filepath.Join(absRoot, filepath.FromSlash(rel))
}
