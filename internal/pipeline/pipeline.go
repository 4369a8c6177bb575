package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/accident-data-etl/internal/aggregate"
	"github.com/couchcryptid/accident-data-etl/internal/cluster"
	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/geo"
	"github.com/couchcryptid/accident-data-etl/internal/ingest"
	"github.com/couchcryptid/accident-data-etl/internal/normalize"
	"github.com/couchcryptid/accident-data-etl/internal/observability"
	"github.com/couchcryptid/accident-data-etl/internal/snapshot"
)

// Extractor reads the raw rows of an archive.
type Extractor interface {
	Ingest(ctx context.Context, archivePath string) (*domain.RawTable, ingest.Stats, error)
}

// Normalizer types raw rows.
type Normalizer interface {
	Normalize(raw *domain.RawTable) (*domain.Table, normalize.Report, error)
}

// Clusterer partitions projected points into k groups.
type Clusterer interface {
	Cluster(ctx context.Context, points []geo.GeoPoint, k int) (cluster.Result, error)
}

// ResultLoader writes a finished analysis to a destination.
type ResultLoader interface {
	Name() string
	LoadAnalysis(ctx context.Context, a *Analysis) error
}

// Options selects what the analysis covers and where the table is cached.
type Options struct {
	SnapshotPath  string
	SnapshotReuse bool

	CRS            geo.CRS
	SummaryRegions []domain.Region
	ClusterRegion  domain.Region
	ClusterCount   int
	RoadClasses    []string
	InfluenceYears []int
	FatalCauseMin  int

	// LoadAttempts bounds how often a failing loader is retried.
	LoadAttempts int
}

// Analysis is the immutable result of one run.
type Analysis struct {
	RunID       uuid.UUID
	GeneratedAt time.Time
	CRS         geo.CRS
	Rows        int

	Summaries  []aggregate.Summary
	FatalPivot aggregate.PivotTable

	ClusterRegion domain.Region
	Projection    geo.Projection
	Clusters      cluster.Result

	// Influence holds accidents involving alcohol or drugs in the cluster
	// region, by year.
	Influence map[int]geo.Projection
}

// Summary looks up a summary by name.
func (a *Analysis) Summary(name string) (aggregate.Summary, bool) {
	for _, s := range a.Summaries {
		if s.Name == name {
			return s, true
		}
	}
	return aggregate.Summary{}, false
}

// RecordCount is the number of result records a loader writes: one per
// summary row and one per cluster.
func (a *Analysis) RecordCount() int {
	n := len(a.Clusters.Clusters)
	for _, s := range a.Summaries {
		n += len(s.Rows)
	}
	return n
}

// Pipeline orchestrates ingest, normalize, analyze and load.
type Pipeline struct {
	extractor  Extractor
	normalizer Normalizer
	clusterer  Clusterer
	loaders    []ResultLoader
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
	runID      uuid.UUID
	ready      atomic.Bool
	latest     atomic.Pointer[Analysis]
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, n Normalizer, c Clusterer, loaders []ResultLoader, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.LoadAttempts <= 0 {
		opts.LoadAttempts = 3
	}
	return &Pipeline{
		extractor:  e,
		normalizer: n,
		clusterer:  c,
		loaders:    loaders,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		runID:      uuid.New(),
	}
}

// RunID identifies this pipeline's run in snapshots and published results.
func (p *Pipeline) RunID() uuid.UUID { return p.runID }

// CheckReadiness returns nil once an analysis has been published, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed an analysis yet")
	}
	return nil
}

// Latest returns the most recent analysis, or nil before the first one.
func (p *Pipeline) Latest() *Analysis {
	return p.latest.Load()
}

// Run loads the table and analyzes it.
func (p *Pipeline) Run(ctx context.Context, archivePath string) (*Analysis, error) {
	p.logger.Info("pipeline started", "run_id", p.runID, "archive", archivePath)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	t, err := p.Load(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	return p.Analyze(ctx, t)
}

// Load returns the normalized table, from the snapshot when reuse is enabled
// and one exists, otherwise by ingesting archivePath. A fresh table is
// persisted when a snapshot path is configured.
func (p *Pipeline) Load(ctx context.Context, archivePath string) (*domain.Table, error) {
	if p.opts.SnapshotReuse && p.opts.SnapshotPath != "" {
		t, h, err := snapshot.Read(p.opts.SnapshotPath)
		switch {
		case err == nil:
			p.logger.Info("snapshot loaded",
				"path", p.opts.SnapshotPath,
				"rows", t.Len(),
				"snapshot_run_id", h.RunID,
				"created_at", h.CreatedAt,
			)
			return t, nil
		case errors.Is(err, os.ErrNotExist):
			p.logger.Info("no snapshot found, ingesting archive", "path", p.opts.SnapshotPath)
		default:
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	}

	raw, _, err := p.extractor.Ingest(ctx, archivePath)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	t, _, err := p.normalizer.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	if p.opts.SnapshotPath != "" {
		start := time.Now()
		h, err := snapshot.Write(p.opts.SnapshotPath, t, p.runID)
		if err != nil {
			return nil, fmt.Errorf("write snapshot: %w", err)
		}
		p.metrics.StageDuration.WithLabelValues("snapshot").Observe(time.Since(start).Seconds())
		p.logger.Info("snapshot written", "path", p.opts.SnapshotPath, "rows", h.Rows)
	}
	return t, nil
}

// Analyze derives the summaries and the spatial clustering from t, publishes
// the result for readers, and hands it to every loader. The analysis is
// returned even when a loader fails.
func (p *Pipeline) Analyze(ctx context.Context, t *domain.Table) (*Analysis, error) {
	a := &Analysis{
		RunID:         p.runID,
		GeneratedAt:   domain.Now(),
		CRS:           p.opts.CRS,
		Rows:          t.Len(),
		ClusterRegion: p.opts.ClusterRegion,
	}

	start := time.Now()
	a.Summaries = []aggregate.Summary{
		aggregate.VisibilityByRegion(t, p.opts.SummaryRegions),
		aggregate.CollisionTypeByMonth(t, p.opts.SummaryRegions),
		aggregate.ConsequencesByMonth(t, p.opts.SummaryRegions),
		aggregate.FatalAccidentsByRegionYear(t),
		aggregate.CauseGroups(t),
		aggregate.FatalCauses(t, p.opts.FatalCauseMin),
	}
	fatal, _ := a.Summary(aggregate.SummaryFatalities)
	pivot, err := aggregate.Pivot(fatal.Rows, 0, 1, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("pivot fatal accidents: %w", err)
	}
	a.FatalPivot = pivot
	p.metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(start).Seconds())

	start = time.Now()
	selection := t.Where(domain.And(
		domain.InRegions(p.opts.ClusterRegion),
		domain.CategoryIn(domain.ColRoadClass, p.opts.RoadClasses...),
	))
	a.Projection = geo.Project(selection, p.opts.CRS)
	a.Influence = geo.InfluenceByYear(t, p.opts.ClusterRegion, p.opts.CRS, p.opts.InfluenceYears)
	p.metrics.PointsProjected.Add(float64(len(a.Projection.Points)))
	p.metrics.PointsExcluded.Add(float64(a.Projection.Excluded))
	p.metrics.StageDuration.WithLabelValues("project").Observe(time.Since(start).Seconds())
	if a.Projection.Excluded > 0 {
		p.logger.Warn("rows without coordinates excluded", "region", p.opts.ClusterRegion, "count", a.Projection.Excluded)
	}

	start = time.Now()
	a.Clusters, err = p.clusterer.Cluster(ctx, a.Projection.Points, p.opts.ClusterCount)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	p.metrics.ClustersProduced.Set(float64(len(a.Clusters.Clusters)))
	p.metrics.StageDuration.WithLabelValues("cluster").Observe(time.Since(start).Seconds())

	p.latest.Store(a)
	p.ready.Store(true)
	p.logger.Info("analysis complete",
		"rows", a.Rows,
		"summaries", len(a.Summaries),
		"points", len(a.Projection.Points),
		"clusters", len(a.Clusters.Clusters),
	)

	return a, p.load(ctx, a)
}

// load hands a to every loader, retrying each with backoff. Failures of one
// loader do not stop the others.
func (p *Pipeline) load(ctx context.Context, a *Analysis) error {
	start := time.Now()
	defer func() {
		p.metrics.StageDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	}()

	var errs []error
	for _, l := range p.loaders {
		if err := p.loadWithRetry(ctx, l, a); err != nil {
			p.metrics.SinkErrors.WithLabelValues(l.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
			continue
		}
		p.metrics.ResultsPublished.WithLabelValues(l.Name()).Add(float64(a.RecordCount()))
	}
	return errors.Join(errs...)
}

func (p *Pipeline) loadWithRetry(ctx context.Context, l ResultLoader, a *Analysis) error {
	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var err error
	for attempt := 1; attempt <= p.opts.LoadAttempts; attempt++ {
		if err = l.LoadAnalysis(ctx, a); err == nil {
			return nil
		}
		p.logger.Error("load analysis failed", "sink", l.Name(), "attempt", attempt, "error", err)
		if attempt == p.opts.LoadAttempts || !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
