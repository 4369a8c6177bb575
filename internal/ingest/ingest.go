// Package ingest extracts raw accident rows from the nested yearly archives.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/observability"
)

// StructuralExtractionError reports an outer or inner archive that could not
// be opened or enumerated. It is fatal for the run.
type StructuralExtractionError struct {
	Archive string
	Err     error
}

func (e *StructuralExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *StructuralExtractionError) Unwrap() error { return e.Err }

// Stats summarizes one ingestion run.
type Stats struct {
	Archives       int
	Files          int
	SkippedEntries int
	Rows           int
	MalformedRows  int
}

// Ingestor reads the outer archive and tags every row with its region.
type Ingestor struct {
	extractDir string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates an Ingestor that materializes inner archives under extractDir.
// An empty extractDir uses the system temp directory.
func New(extractDir string, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{extractDir: extractDir, logger: logger, metrics: metrics}
}

// Ingest reads every inner yearly archive of the outer archive at archivePath
// in year order and, inside each, every regional file in region code order.
func (in *Ingestor) Ingest(ctx context.Context, archivePath string) (*domain.RawTable, Stats, error) {
	start := time.Now()
	var stats Stats

	outer, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, stats, &StructuralExtractionError{Archive: archivePath, Err: err}
	}
	defer outer.Close()

	if in.extractDir != "" {
		if err := os.MkdirAll(in.extractDir, 0o755); err != nil {
			return nil, stats, fmt.Errorf("create extraction directory: %w", err)
		}
	}
	// Each run extracts into its own directory so leftovers from an earlier,
	// interrupted run can never be picked up.
	runDir, err := os.MkdirTemp(in.extractDir, "extract-*")
	if err != nil {
		return nil, stats, fmt.Errorf("create extraction directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			in.logger.Warn("remove extraction directory failed", "dir", runDir, "error", err)
		}
	}()

	table := &domain.RawTable{Columns: domain.Columns}

	for _, entry := range sortedEntries(outer.File) {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if !strings.EqualFold(path.Ext(entry.Name), ".zip") {
			in.skip(&stats, entry.Name)
			continue
		}
		if err := in.ingestYear(ctx, entry, runDir, table, &stats); err != nil {
			return nil, stats, err
		}
		stats.Archives++
	}

	in.metrics.RecordsIngested.Add(float64(stats.Rows))
	in.metrics.StageDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	in.logger.Info("archive ingested",
		"archive", archivePath,
		"years", stats.Archives,
		"files", stats.Files,
		"rows", stats.Rows,
		"skipped_entries", stats.SkippedEntries,
		"malformed_rows", stats.MalformedRows,
	)
	return table, stats, nil
}

// ingestYear materializes one inner archive and parses its regional files.
func (in *Ingestor) ingestYear(ctx context.Context, entry *zip.File, runDir string, table *domain.RawTable, stats *Stats) error {
	localPath, err := materialize(entry, runDir)
	if err != nil {
		return &StructuralExtractionError{Archive: entry.Name, Err: err}
	}
	defer os.Remove(localPath) //nolint:errcheck // runDir removal covers failures

	inner, err := zip.OpenReader(localPath)
	if err != nil {
		return &StructuralExtractionError{Archive: entry.Name, Err: err}
	}
	defer inner.Close()

	year := strings.TrimSuffix(path.Base(entry.Name), path.Ext(entry.Name))

	type regionalFile struct {
		file   *zip.File
		region domain.Region
		code   string
	}
	var files []regionalFile
	for _, f := range inner.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		code := strings.TrimSuffix(base, path.Ext(base))
		region, ok := domain.RegionByCode(code)
		if !ok {
			in.skip(stats, entry.Name+"/"+f.Name)
			continue
		}
		files = append(files, regionalFile{file: f, region: region, code: code})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].code != files[j].code {
			return files[i].code < files[j].code
		}
		return files[i].file.Name < files[j].file.Name
	})

	for _, rf := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		source := entry.Name + "/" + rf.file.Name
		rows, malformed, err := readRegionalFile(rf.file)
		if err != nil {
			return &StructuralExtractionError{Archive: source, Err: err}
		}
		for _, fields := range rows {
			table.Rows = append(table.Rows, domain.RawRecord{
				Region: rf.region,
				Year:   year,
				Source: source,
				Fields: fields,
			})
		}
		stats.Files++
		stats.Rows += len(rows)
		stats.MalformedRows += malformed
		in.logger.Debug("regional file parsed", "source", source, "region", rf.region, "rows", len(rows))
	}
	return nil
}

func (in *Ingestor) skip(stats *Stats, name string) {
	stats.SkippedEntries++
	in.metrics.FilesSkipped.Inc()
	in.logger.Debug("archive entry skipped", "entry", name)
}

// sortedEntries returns the non-directory entries ordered by name, which for
// yearly archives is chronological order.
func sortedEntries(files []*zip.File) []*zip.File {
	out := make([]*zip.File, 0, len(files))
	for _, f := range files {
		if !f.FileInfo().IsDir() {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// materialize copies an inner archive to disk; zip needs random access.
func materialize(entry *zip.File, dir string) (string, error) {
	src, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(dir, filepath.Base(entry.Name)+"-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return dst.Name(), nil
}

// readRegionalFile decodes a Windows-1250, semicolon separated, headerless
// file. Rows are fitted to the schema width; the number of rows that needed
// padding or truncation is returned as malformed.
func readRegionalFile(f *zip.File) ([][]string, int, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()

	r := csv.NewReader(charmap.Windows1250.NewDecoder().Reader(rc))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	width := len(domain.Columns)
	var rows [][]string
	malformed := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if len(rec) != width {
			malformed++
			rec = fitWidth(rec, width)
		}
		rows = append(rows, rec)
	}
	return rows, malformed, nil
}

func fitWidth(rec []string, width int) []string {
	if len(rec) > width {
		return rec[:width]
	}
	out := make([]string, width)
	copy(out, rec)
	return out
}
