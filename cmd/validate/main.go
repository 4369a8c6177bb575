// Command validate runs integrity checks over a persisted table snapshot and,
// when given the source archive, verifies the snapshot still matches a fresh
// ingest of it.
//
// Usage:
//
//	go run ./cmd/validate -snapshot accidents.snapshot.zst [-archive data/data.zip]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/go-cmp/cmp"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/ingest"
	"github.com/couchcryptid/accident-data-etl/internal/normalize"
	"github.com/couchcryptid/accident-data-etl/internal/observability"
	"github.com/couchcryptid/accident-data-etl/internal/snapshot"
)

// maxReported caps the per-phase error listing.
const maxReported = 20

// phase tracks pass/fail for a validation phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	snapshotPath := flag.String("snapshot", "", "path to a table snapshot")
	archivePath := flag.String("archive", "", "optional source archive to compare against")
	flag.Parse()

	if *snapshotPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*snapshotPath, *archivePath))
}

func run(snapshotPath, archivePath string) int {
	fmt.Println("=== Accident Snapshot Validation ===")
	fmt.Println()

	info, err := os.Stat(snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	start := time.Now()
	t, h, err := snapshot.Read(snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read snapshot: %v\n", err)
		return 1
	}
	fmt.Printf("Snapshot: %s, format v%d, run %s, created %s\n",
		humanize.IBytes(uint64(info.Size())), h.Version, h.RunID, humanize.Time(h.CreatedAt))
	fmt.Printf("Table: %s rows, %d columns, ~%s in memory, read in %s\n",
		humanize.Comma(int64(t.Len())), len(h.Columns), humanize.IBytes(uint64(t.Footprint())),
		time.Since(start).Round(time.Millisecond))

	phases := []*phase{
		validateHeader(t, h),
		validateKeys(t),
		validateDates(t),
		validateCategories(t),
		validateCoordinates(t),
	}
	if archivePath != "" {
		phases = append(phases, validateAgainstArchive(t, archivePath))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-32s %s\n", p.name, status)
	}

	for _, p := range phases {
		if len(p.warnings) > 0 {
			fmt.Printf("\n--- %s (warnings) ---\n", p.name)
			for _, w := range p.warnings {
				fmt.Printf("  %s\n", w)
			}
		}
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors[:min(len(p.errors), maxReported)] {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		if len(p.errors) > maxReported {
			fmt.Printf("  ... and %d more\n", len(p.errors)-maxReported)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateHeader(t *domain.Table, h snapshot.Header) *phase {
	p := &phase{name: "Header consistency"}
	if h.Rows != t.Len() {
		p.errorf("header says %d rows, table holds %d", h.Rows, t.Len())
	}
	if !slices.Equal(h.Columns, t.ColumnNames()) {
		p.errorf("header columns differ from table columns: %s", cmp.Diff(h.Columns, t.ColumnNames()))
	}
	for _, col := range append(slices.Clone(domain.MeasureColumns), domain.ColX, domain.ColY) {
		if _, ok := t.Decimal(col, 0); !ok && t.Len() > 0 {
			p.errorf("numeric column %s missing", col)
		}
	}
	if h.CreatedAt.After(time.Now().Add(time.Minute)) {
		p.warnf("snapshot creation time %s is in the future", h.CreatedAt.Format(time.RFC3339))
	}
	return p
}

func validateKeys(t *domain.Table) *phase {
	p := &phase{name: "Accident numbers and regions"}
	seen := make(map[string]int, t.Len())
	for i := range t.Len() {
		id := t.ID(i)
		switch {
		case id == "":
			p.errorf("row %d: empty accident number", i)
		default:
			if first, dup := seen[id]; dup {
				p.errorf("row %d: accident number %s already at row %d", i, id, first)
			} else {
				seen[id] = i
			}
		}
		if !t.Region(i).Valid() {
			p.errorf("row %d: unknown region %q", i, t.Region(i))
		}
	}
	return p
}

func validateDates(t *domain.Table) *phase {
	p := &phase{name: "Report dates"}
	perYear := map[int]int{}
	for i := range t.Len() {
		d := t.Date(i)
		if d.IsZero() {
			p.errorf("row %d: missing report date", i)
			continue
		}
		if d.Location() != time.UTC {
			p.errorf("row %d: date %s not in UTC", i, d)
		}
		perYear[d.Year()]++
	}
	years := make([]int, 0, len(perYear))
	for y := range perYear {
		years = append(years, y)
	}
	slices.Sort(years)
	for _, y := range years {
		p.warnf("%d: %s accidents", y, humanize.Comma(int64(perYear[y])))
	}
	return p
}

func validateCategories(t *domain.Table) *phase {
	p := &phase{name: "Categorical columns"}
	for _, col := range domain.CategoricalColumns {
		c, ok := t.Categorical(col)
		if !ok {
			continue
		}
		levels := c.Levels()
		for i := range c.Len() {
			if int(c.Code(i)) >= len(levels) {
				p.errorf("%s row %d: code %d outside %d levels", col, i, c.Code(i), len(levels))
			}
		}
		if n := c.Unrecognized(); n > 0 {
			p.warnf("%s: %s values outside the vocabulary", col, humanize.Comma(int64(n)))
		}
	}
	return p
}

func validateCoordinates(t *domain.Table) *phase {
	p := &phase{name: "Coordinates"}
	missing := 0
	for i := range t.Len() {
		c := t.Coordinates(i)
		if !c.Valid() {
			missing++
			continue
		}
		// S-JTSK Krovak East North: both axes negative inside the country.
		if c.X.Value >= 0 || c.Y.Value >= 0 {
			p.errorf("row %d (%s): coordinate (%g, %g) outside the Krovak grid", i, t.ID(i), c.X.Value, c.Y.Value)
		}
	}
	if missing > 0 && t.Len() > 0 {
		p.warnf("%s of %s rows have no coordinates (%.1f%%)",
			humanize.Comma(int64(missing)), humanize.Comma(int64(t.Len())), 100*float64(missing)/float64(t.Len()))
	}
	return p
}

func validateAgainstArchive(t *domain.Table, archivePath string) *phase {
	p := &phase{name: "Snapshot matches archive"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	raw, _, err := ingest.New("", logger, metrics).Ingest(context.Background(), archivePath)
	if err != nil {
		p.errorf("ingest %s: %v", archivePath, err)
		return p
	}
	fresh, _, err := normalize.New(domain.DefaultVocabularies(), false, logger, metrics).Normalize(raw)
	if err != nil {
		p.errorf("normalize %s: %v", archivePath, err)
		return p
	}

	if fresh.Len() != t.Len() {
		p.errorf("archive yields %d rows, snapshot holds %d", fresh.Len(), t.Len())
		return p
	}
	if diff := cmp.Diff(fresh.Export(), t.Export()); diff != "" {
		p.errorf("table content differs (-archive +snapshot):\n%s", diff)
	}
	return p
}
