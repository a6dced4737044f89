package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Synchronizer turns parsed files into idempotent graph writes.
// Every backend call runs under its operation timeout, transient failures
// are retried with backoff, and writes pass through a rate limiter.
type Synchronizer struct {
	backend  Backend
	retry    RetryPolicy
	timeouts Timeouts
	limiter  *rate.Limiter
	monitor  *TimeoutMonitor
	logger   *logrus.Entry
}

// Option configures a Synchronizer
type Option func(*synchronizerOptions)

type synchronizerOptions struct {
	retry        RetryPolicy
	timeouts     Timeouts
	writesPerSec float64
	logger       *logrus.Logger
}

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *synchronizerOptions) { o.retry = p }
}

// WithTimeouts overrides per-operation timeouts
func WithTimeouts(t Timeouts) Option {
	return func(o *synchronizerOptions) { o.timeouts = t }
}

// WithWriteRate limits write calls per second; zero is unlimited
func WithWriteRate(perSecond float64) Option {
	return func(o *synchronizerOptions) { o.writesPerSec = perSecond }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(o *synchronizerOptions) { o.logger = l }
}

// NewSynchronizer wraps backend
func NewSynchronizer(backend Backend, opts ...Option) *Synchronizer {
	o := synchronizerOptions{retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	return &Synchronizer{
		backend:  backend,
		retry:    o.retry,
		timeouts: o.timeouts,
		limiter:  newLimiter(o.writesPerSec),
		monitor:  NewTimeoutMonitor(o.logger),
		logger:   o.logger.WithField("component", "graph_sync"),
	}
}

// Backend returns the wrapped backend
func (s *Synchronizer) Backend() Backend {
	return s.backend
}

// FileSyncResult reports what ProcessFileStructure wrote
type FileSyncResult struct {
	Entities int
	Links    int
}

// EnsureSchema bootstraps constraints and indexes. Failure is fatal.
func (s *Synchronizer) EnsureSchema(ctx context.Context) error {
	if err := s.do(ctx, OpSchema, false, s.backend.EnsureSchema); err != nil {
		return errors.DatabaseError(err, "failed to ensure graph schema")
	}
	return nil
}

// IngestEntity merges a single entity. Children are not written.
func (s *Synchronizer) IngestEntity(ctx context.Context, entity models.CodeEntity) error {
	node := toGraphNode(entity)
	return s.write(ctx, OpIngest, "failed to ingest "+entity.ID, func(ctx context.Context) error {
		return s.backend.CreateNode(ctx, node)
	})
}

// BatchIngestEntities merges entities and their nested children in batches
func (s *Synchronizer) BatchIngestEntities(ctx context.Context, entities []models.CodeEntity) error {
	var nodes []GraphNode
	for _, e := range entities {
		e.Walk(func(c models.CodeEntity) {
			nodes = append(nodes, toGraphNode(c))
		})
	}
	if len(nodes) == 0 {
		return nil
	}
	return s.write(ctx, OpBatchWrite, fmt.Sprintf("failed to ingest %d entities", len(nodes)), func(ctx context.Context) error {
		return s.backend.CreateNodes(ctx, nodes)
	})
}

// CreateRelationship merges one link between existing entities
func (s *Synchronizer) CreateRelationship(ctx context.Context, fromID, toID string, kind models.LinkKind) error {
	edge := toGraphEdge(models.LinkEntity{FromID: fromID, ToID: toID, Kind: kind})
	return s.write(ctx, OpIngest, fmt.Sprintf("failed to link %s -[%s]-> %s", fromID, edge.Label, toID), func(ctx context.Context) error {
		return s.backend.CreateEdge(ctx, edge)
	})
}

// BatchCreateLinks merges links in batches
func (s *Synchronizer) BatchCreateLinks(ctx context.Context, links []models.LinkEntity) error {
	if len(links) == 0 {
		return nil
	}
	edges := make([]GraphEdge, len(links))
	for i, l := range links {
		edges[i] = toGraphEdge(l)
	}
	return s.write(ctx, OpBatchWrite, fmt.Sprintf("failed to create %d links", len(edges)), func(ctx context.Context) error {
		return s.backend.CreateEdges(ctx, edges)
	})
}

// EnsureDirectories writes the directory chains of dirs and their HAS edges
func (s *Synchronizer) EnsureDirectories(ctx context.Context, dirs []string) error {
	seen := map[string]bool{}
	var entities []models.CodeEntity
	var links []models.LinkEntity
	for _, dir := range dirs {
		chain, chainLinks := PlanDirectories(dir)
		for _, d := range chain {
			if !seen[d.ID] {
				seen[d.ID] = true
				entities = append(entities, d)
			}
		}
		links = append(links, chainLinks...)
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return len(DirectoryChain(entities[i].Path)) < len(DirectoryChain(entities[j].Path))
	})
	if err := s.BatchIngestEntities(ctx, entities); err != nil {
		return err
	}
	return s.BatchCreateLinks(ctx, dedupeLinks(links))
}

// RegisterProject merges a Project node owning the root directory
func (s *Synchronizer) RegisterProject(ctx context.Context, name, root string) error {
	project := models.CodeEntity{
		ID:   models.ProjectID(name),
		Kind: models.KindProject,
		Properties: map[string]string{
			models.PropName: name,
			models.PropRoot: root,
		},
	}
	if err := s.BatchIngestEntities(ctx, []models.CodeEntity{project, DirectoryEntity(".")}); err != nil {
		return err
	}
	return s.CreateRelationship(ctx, project.ID, models.DirectoryID("."), models.LinkOwns)
}

// RemoveFile deletes a file and everything it contains. Deleting a path
// that is not in the graph is not an error.
func (s *Synchronizer) RemoveFile(ctx context.Context, path string) (int, error) {
	var deleted int
	err := s.write(ctx, OpRemoveFile, "failed to remove "+path, func(ctx context.Context) error {
		n, err := s.backend.RemoveFile(ctx, path)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{"path": path, "deleted": deleted}).Debug("file removed from graph")
	return deleted, nil
}

// UpdateFilePath moves a file to a new path, re-keying its declarations and
// re-linking it under the new parent directory. Returns false when no file
// exists at from.
func (s *Synchronizer) UpdateFilePath(ctx context.Context, from, to string) (bool, error) {
	var renamed bool
	err := s.write(ctx, OpRenameFile, fmt.Sprintf("failed to rename %s -> %s", from, to), func(ctx context.Context) error {
		ok, err := s.backend.RenameFile(ctx, from, to)
		renamed = ok
		return err
	})
	if err != nil || !renamed {
		return false, err
	}

	parent := models.ParentDir(to)
	if err := s.EnsureDirectories(ctx, []string{parent}); err != nil {
		return true, err
	}
	if err := s.CreateRelationship(ctx, models.DirectoryID(parent), models.FileID(to), models.LinkHas); err != nil {
		return true, err
	}
	s.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("file path updated")
	return true, nil
}

// ProcessFileStructure writes one parsed file: directory chain, then the
// file and its declarations, then links, then prunes what the file no
// longer contains
func (s *Synchronizer) ProcessFileStructure(ctx context.Context, fs *models.FileStructure) (FileSyncResult, error) {
	plan := PlanFileStructure(fs)
	chainLinks := len(plan.Directories) - 1

	if err := s.BatchIngestEntities(ctx, plan.Directories); err != nil {
		return FileSyncResult{}, err
	}
	if err := s.BatchCreateLinks(ctx, plan.Links[:chainLinks]); err != nil {
		return FileSyncResult{}, err
	}

	entities := append([]models.CodeEntity{plan.File}, plan.Entities...)
	if err := s.BatchIngestEntities(ctx, entities); err != nil {
		return FileSyncResult{}, err
	}
	if err := s.BatchCreateLinks(ctx, plan.Links[chainLinks:]); err != nil {
		return FileSyncResult{}, err
	}

	if err := s.write(ctx, OpPruneFile, "failed to prune "+fs.FilePath, func(ctx context.Context) error {
		return s.backend.PruneFile(ctx, fs.FilePath, plan.Keep)
	}); err != nil {
		return FileSyncResult{}, err
	}

	result := FileSyncResult{
		Entities: len(plan.Directories) + len(entities),
		Links:    len(plan.Links),
	}
	s.logger.WithFields(logrus.Fields{
		"path":     fs.FilePath,
		"entities": result.Entities,
		"links":    result.Links,
	}).Debug("file structure synchronized")
	return result, nil
}

// FileExists reports whether the graph holds a File node at path
func (s *Synchronizer) FileExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.do(ctx, OpRead, false, func(ctx context.Context) error {
		ok, err := s.backend.FileExists(ctx, path)
		exists = ok
		return err
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeDatabase, errors.SeverityHigh, "failed to look up "+path)
	}
	return exists, nil
}

// Counts returns graph totals
func (s *Synchronizer) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	err := s.do(ctx, OpRead, false, func(ctx context.Context) error {
		c, err := s.backend.Counts(ctx)
		counts = c
		return err
	})
	if err != nil {
		return Counts{}, errors.Wrap(err, errors.ErrorTypeDatabase, errors.SeverityHigh, "failed to count graph")
	}
	return counts, nil
}

// HealthCheck verifies the backend is reachable under the health check timeout.
// It is never retried.
func (s *Synchronizer) HealthCheck(ctx context.Context) error {
	err := s.monitor.MonitorWithContext(ctx, OpHealthCheck, s.timeouts.For(OpHealthCheck).Timeout, s.backend.HealthCheck)
	if err != nil {
		return errors.DatabaseError(err, "graph backend health check failed")
	}
	return nil
}

// Close closes the backend
func (s *Synchronizer) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// write runs a throttled, retried write and wraps failures as database errors
func (s *Synchronizer) write(ctx context.Context, op, message string, fn func(context.Context) error) error {
	if err := s.do(ctx, op, true, fn); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, errors.SeverityHigh, message).
			WithContext("operation", op)
	}
	return nil
}

// do runs fn under the operation timeout, retrying transient failures
func (s *Synchronizer) do(ctx context.Context, op string, throttle bool, fn func(context.Context) error) error {
	timeout := s.timeouts.For(op).Timeout
	for attempt := 0; ; attempt++ {
		if throttle {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := s.monitor.MonitorWithContext(ctx, op, timeout, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt >= s.retry.MaxRetries {
			return err
		}

		delay := s.retry.delay(attempt)
		s.logger.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt + 1,
			"delay":     delay,
		}).WithError(err).Warn("transient graph failure, retrying")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func dedupeLinks(links []models.LinkEntity) []models.LinkEntity {
	seen := make(map[models.LinkEntity]bool, len(links))
	out := links[:0:0]
	for _, l := range links {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}
