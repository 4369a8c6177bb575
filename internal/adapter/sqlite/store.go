// Package sqlite keeps the latest analysis results in a SQLite file so they
// can be queried with plain SQL after a batch run.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/accident-data-etl/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// Store writes analyses to SQLite. Every load replaces the previous results.
// It implements pipeline.ResultLoader.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "sqlite" }

// LoadAnalysis replaces the stored results with a in one transaction.
func (s *Store) LoadAnalysis(ctx context.Context, a *pipeline.Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"runs", "aggregate_rows", "clusters"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	generatedAt := a.GeneratedAt.UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, generated_at, crs, row_count, cluster_region, linkage) VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID.String(), generatedAt, string(a.CRS), a.Rows, a.ClusterRegion.String(), string(a.Clusters.Linkage),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	rowStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO aggregate_rows (summary, position, key_json, values_json, generated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare aggregate insert: %w", err)
	}
	defer rowStmt.Close()

	rows := 0
	for _, sum := range a.Summaries {
		for i, r := range sum.Rows {
			key, err := json.Marshal(r.Key)
			if err != nil {
				return fmt.Errorf("encode key: %w", err)
			}
			values, err := json.Marshal(r.Values)
			if err != nil {
				return fmt.Errorf("encode values: %w", err)
			}
			if _, err := rowStmt.ExecContext(ctx, sum.Name, i, string(key), string(values), generatedAt); err != nil {
				return fmt.Errorf("insert %s row %d: %w", sum.Name, i, err)
			}
			rows++
		}
	}

	clusterStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO clusters (region, label, count, centroid_x, centroid_y, geometry_geojson) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cluster insert: %w", err)
	}
	defer clusterStmt.Close()

	for _, c := range a.Clusters.Clusters {
		geom, err := geojson.NewGeometry(c.Geometry).MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode cluster %d geometry: %w", c.Label, err)
		}
		if _, err := clusterStmt.ExecContext(ctx,
			a.ClusterRegion.String(), c.Label, c.Count, c.Centroid.X(), c.Centroid.Y(), string(geom),
		); err != nil {
			return fmt.Errorf("insert cluster %d: %w", c.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("analysis stored", "sink", s.Name(), "aggregate_rows", rows, "clusters", len(a.Clusters.Clusters))
	return nil
}

// StoredRun is the run metadata currently held by the store.
type StoredRun struct {
	RunID         string
	GeneratedAt   string
	CRS           string
	Rows          int
	ClusterRegion string
	Linkage       string
}

// Run returns the stored run, or sql.ErrNoRows when nothing was loaded yet.
func (s *Store) Run(ctx context.Context) (StoredRun, error) {
	var r StoredRun
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, generated_at, crs, row_count, cluster_region, linkage FROM runs`,
	).Scan(&r.RunID, &r.GeneratedAt, &r.CRS, &r.Rows, &r.ClusterRegion, &r.Linkage)
	return r, err
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}
