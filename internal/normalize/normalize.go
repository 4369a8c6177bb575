// Package normalize turns the untyped ingested rows into the typed accident table.
package normalize

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/observability"
)

// dateLayouts are tried in order for the report date column.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"2.1.2006",
}

// Report summarizes what normalization changed.
type Report struct {
	RowsIn      int
	RowsOut     int
	DroppedDate int
	Duplicates  int
	// UnknownValues counts numeric values that could not be parsed, by column.
	UnknownValues map[string]int
	// Unrecognized counts category values outside the column vocabulary, by column.
	Unrecognized map[string]int
	RawBytes     int
	TableBytes   int
}

// MemorySummary renders the footprint before and after typing.
func (r Report) MemorySummary() string {
	if r.RawBytes == 0 {
		return fmt.Sprintf("raw 0 B, normalized %s", humanize.IBytes(uint64(r.TableBytes)))
	}
	saved := 100 * (1 - float64(r.TableBytes)/float64(r.RawBytes))
	return fmt.Sprintf("raw %s, normalized %s (%.1f%% smaller)",
		humanize.IBytes(uint64(r.RawBytes)), humanize.IBytes(uint64(r.TableBytes)), saved)
}

// Normalizer types raw rows: dates, decimals, categories and the primary key.
type Normalizer struct {
	vocab        domain.Vocabularies
	memoryReport bool
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New creates a Normalizer. When memoryReport is set the raw and typed
// footprints are logged after every run.
func New(vocab domain.Vocabularies, memoryReport bool, logger *slog.Logger, metrics *observability.Metrics) *Normalizer {
	return &Normalizer{vocab: vocab, memoryReport: memoryReport, logger: logger, metrics: metrics}
}

// Normalize deduplicates rows by accident number, keeping the first
// occurrence in ingestion order, drops rows whose report date does not
// parse, and types every remaining column.
func (n *Normalizer) Normalize(raw *domain.RawTable) (*domain.Table, Report, error) {
	start := time.Now()
	rep := Report{
		RowsIn:        raw.Len(),
		UnknownValues: make(map[string]int),
		Unrecognized:  make(map[string]int),
		RawBytes:      raw.Footprint(),
	}

	idCol := mustIndex(domain.ColID)
	dateCol := mustIndex(domain.ColDate)
	timeCol := mustIndex(domain.ColTime)

	seen := make(map[string]struct{}, raw.Len())
	kept := make([]int, 0, raw.Len())
	data := domain.TableData{
		IDs:        make([]string, 0, raw.Len()),
		Regions:    make([]domain.Region, 0, raw.Len()),
		Dates:      make([]time.Time, 0, raw.Len()),
		Decimals:   make(map[string][]domain.Decimal),
		Categories: make(map[string]domain.CategoricalData),
		Text:       make(map[string][]string),
	}

	for i, r := range raw.Rows {
		id := field(r, idCol)
		if _, dup := seen[id]; dup {
			rep.Duplicates++
			continue
		}
		seen[id] = struct{}{}

		day, ok := ParseDate(field(r, dateCol))
		if !ok {
			rep.DroppedDate++
			continue
		}
		kept = append(kept, i)
		data.IDs = append(data.IDs, id)
		data.Regions = append(data.Regions, r.Region)
		data.Dates = append(data.Dates, FoldTime(day, field(r, timeCol)))
	}

	for col, idx := range typedColumns() {
		switch domain.KindOf(col) {
		case domain.KindDecimal, domain.KindMeasure:
			vals := make([]domain.Decimal, len(kept))
			unknown := 0
			for k, i := range kept {
				vals[k] = domain.ParseDecimal(field(raw.Rows[i], idx))
				if !vals[k].Valid {
					unknown++
				}
			}
			data.Decimals[col] = vals
			if unknown > 0 {
				rep.UnknownValues[col] = unknown
			}
		case domain.KindCategorical:
			vals := make([]string, len(kept))
			for k, i := range kept {
				vals[k] = field(raw.Rows[i], idx)
			}
			c := domain.NewCategorical(vals, n.vocab.For(col))
			data.Categories[col] = c.Data()
			if u := c.Unrecognized(); u > 0 {
				rep.Unrecognized[col] = u
			}
		default:
			vals := make([]string, len(kept))
			for k, i := range kept {
				vals[k] = field(raw.Rows[i], idx)
			}
			data.Text[col] = vals
		}
	}

	table, err := domain.NewTable(data)
	if err != nil {
		return nil, rep, fmt.Errorf("build table: %w", err)
	}
	rep.RowsOut = table.Len()
	rep.TableBytes = table.Footprint()

	n.record(rep, time.Since(start))
	return table, rep, nil
}

func (n *Normalizer) record(rep Report, elapsed time.Duration) {
	n.metrics.RowsDropped.WithLabelValues("date").Add(float64(rep.DroppedDate))
	n.metrics.DuplicatesDropped.Add(float64(rep.Duplicates))
	for col, c := range rep.UnknownValues {
		n.metrics.UnknownValues.WithLabelValues(col).Add(float64(c))
	}
	for col, c := range rep.Unrecognized {
		n.metrics.Unrecognized.WithLabelValues(col).Add(float64(c))
	}
	n.metrics.TableBytes.Set(float64(rep.TableBytes))
	n.metrics.StageDuration.WithLabelValues("normalize").Observe(elapsed.Seconds())

	if rep.DroppedDate > 0 {
		n.logger.Warn("rows dropped", "reason", "unparseable date", "count", rep.DroppedDate)
	}
	if len(rep.Unrecognized) > 0 {
		n.logger.Warn("unrecognized category values", "columns", sortedCounts(rep.Unrecognized))
	}
	n.logger.Info("table normalized",
		"rows_in", rep.RowsIn,
		"rows_out", rep.RowsOut,
		"duplicates", rep.Duplicates,
		"unknown_values", sortedCounts(rep.UnknownValues),
	)
	if n.memoryReport {
		n.logger.Info("memory footprint",
			"raw", humanize.IBytes(uint64(rep.RawBytes)),
			"normalized", humanize.IBytes(uint64(rep.TableBytes)),
			"summary", rep.MemorySummary(),
		)
	}
}

// ParseDate parses a report date in any of the accepted layouts as a UTC day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// FoldTime adds an HHMM time of day (e.g. "1510" → 15:10) to a date. Values
// that are malformed or out of range, including the 2560 "unknown" marker,
// leave the date at midnight.
func FoldTime(day time.Time, hhmm string) time.Time {
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) < 3 || len(hhmm) > 4 {
		return day
	}
	if len(hhmm) == 3 {
		hhmm = "0" + hhmm
	}

	hour, errH := strconv.Atoi(hhmm[:2])
	mins, errM := strconv.Atoi(hhmm[2:])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || mins < 0 || mins > 59 {
		return day
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, mins, 0, 0, time.UTC)
}

// typedColumns maps every stored column to its raw position. The primary key
// is kept separately and is not repeated as a text column.
func typedColumns() map[string]int {
	out := make(map[string]int, len(domain.Columns))
	for i, col := range domain.Columns {
		if col == domain.ColID {
			continue
		}
		out[col] = i
	}
	return out
}

func mustIndex(col string) int {
	i, ok := domain.ColumnIndex(col)
	if !ok {
		panic("normalize: column " + col + " missing from schema")
	}
	return i
}

func field(r domain.RawRecord, idx int) string {
	if idx >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[idx])
}

// sortedCounts renders per-column counts deterministically for logs.
func sortedCounts(m map[string]int) string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + "=" + strconv.Itoa(m[c])
	}
	return strings.Join(parts, ",")
}
