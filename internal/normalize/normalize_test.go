package normalize

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawRow(region domain.Region, values map[string]string) domain.RawRecord {
	fields := make([]string, len(domain.Columns))
	for name, v := range values {
		i, ok := domain.ColumnIndex(name)
		if !ok {
			panic("unknown column " + name)
		}
		fields[i] = v
	}
	return domain.RawRecord{Region: region, Fields: fields}
}

func newNormalizer() *Normalizer {
	return New(domain.DefaultVocabularies(), true, testLogger(), observability.NewMetricsForTesting())
}

func TestNormalize_DeduplicatesKeepingFirst(t *testing.T) {
	raw := &domain.RawTable{Columns: domain.Columns, Rows: []domain.RawRecord{
		rawRow("JHM", map[string]string{domain.ColID: "1", domain.ColDate: "2016-01-01", domain.ColVisibility: "1"}),
		rawRow("OLK", map[string]string{domain.ColID: "2", domain.ColDate: "2016-01-02", domain.ColVisibility: "2"}),
		rawRow("PAK", map[string]string{domain.ColID: "1", domain.ColDate: "2017-05-05", domain.ColVisibility: "3"}),
	}}

	table, rep, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, "1", table.ID(0))
	assert.Equal(t, domain.Region("JHM"), table.Region(0))
	l, ok := table.Category(domain.ColVisibility, 0)
	require.True(t, ok)
	assert.Equal(t, "1", l.Value)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 3, rep.RowsIn)
	assert.Equal(t, 2, rep.RowsOut)

	ids := make(map[string]bool)
	for i := 0; i < table.Len(); i++ {
		assert.False(t, ids[table.ID(i)], "duplicate key %s", table.ID(i))
		ids[table.ID(i)] = true
	}
}

func TestNormalize_Numbers(t *testing.T) {
	raw := &domain.RawTable{Columns: domain.Columns, Rows: []domain.RawRecord{
		rawRow("JHC", map[string]string{
			domain.ColID:         "1",
			domain.ColDate:       "2019-07-01",
			domain.ColX:          "12,5",
			domain.ColY:          "abc",
			domain.ColFatalities: "2",
		}),
	}}

	table, rep, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)

	x, ok := table.Decimal(domain.ColX, 0)
	require.True(t, ok)
	assert.Equal(t, domain.Known(12.5), x)

	y, ok := table.Decimal(domain.ColY, 0)
	require.True(t, ok)
	assert.False(t, y.Valid)
	assert.Equal(t, domain.Unknown, y.String())

	assert.Equal(t, domain.Known(2), table.Record(0).Fatalities)
	assert.Equal(t, 1, rep.UnknownValues[domain.ColY])
	assert.Zero(t, rep.UnknownValues[domain.ColX])
	assert.False(t, table.Coordinates(0).Valid())
}

func TestNormalize_DropsUnparseableDates(t *testing.T) {
	raw := &domain.RawTable{Columns: domain.Columns, Rows: []domain.RawRecord{
		rawRow("JHM", map[string]string{domain.ColID: "1", domain.ColDate: "not a date"}),
		rawRow("JHM", map[string]string{domain.ColID: "2", domain.ColDate: "2020-02-29", domain.ColTime: "1510"}),
	}}

	table, rep, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, 1, rep.DroppedDate)
	assert.Equal(t, time.Date(2020, 2, 29, 15, 10, 0, 0, time.UTC), table.Date(0))
}

func TestNormalize_FlagsUnrecognizedCategories(t *testing.T) {
	raw := &domain.RawTable{Columns: domain.Columns, Rows: []domain.RawRecord{
		rawRow("JHM", map[string]string{domain.ColID: "1", domain.ColDate: "2016-01-01", domain.ColRoadClass: "1"}),
		rawRow("JHM", map[string]string{domain.ColID: "2", domain.ColDate: "2016-01-01", domain.ColRoadClass: "42"}),
	}}

	table, rep, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)

	l, _ := table.Category(domain.ColRoadClass, 1)
	assert.Equal(t, domain.Level{Value: "42", Recognized: false}, l)
	l, _ = table.Category(domain.ColRoadClass, 0)
	assert.True(t, l.Recognized)
	assert.Equal(t, 1, rep.Unrecognized[domain.ColRoadClass])
}

func TestNormalize_KeepsTextColumns(t *testing.T) {
	raw := &domain.RawTable{Columns: domain.Columns, Rows: []domain.RawRecord{
		rawRow("JHM", map[string]string{domain.ColID: "1", domain.ColDate: "2016-01-01", "h": " Brno "}),
	}}

	table, _, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)

	s, ok := table.Text("h", 0)
	require.True(t, ok)
	assert.Equal(t, "Brno", s)

	_, ok = table.Text(domain.ColID, 0)
	assert.False(t, ok, "primary key is not duplicated as text")
	assert.NotContains(t, table.ColumnNames(), domain.ColID)
}

func TestNormalize_Empty(t *testing.T) {
	table, rep, err := newNormalizer().Normalize(&domain.RawTable{Columns: domain.Columns})
	require.NoError(t, err)
	assert.Zero(t, table.Len())
	assert.Zero(t, rep.RowsOut)
	assert.Contains(t, rep.MemorySummary(), "raw 0 B")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2016-01-01", true},
		{"2016-01-01 00:00:00", true},
		{"01.01.2016", true},
		{"1.1.2016", true},
		{"", false},
		{"2016-13-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), d)
			}
		})
	}
}

func TestFoldTime(t *testing.T) {
	day := time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		hhmm     string
		expected time.Time
	}{
		{"four digits", "1510", time.Date(2018, 6, 1, 15, 10, 0, 0, time.UTC)},
		{"three digits", "910", time.Date(2018, 6, 1, 9, 10, 0, 0, time.UTC)},
		{"unknown marker", "2560", day},
		{"hour 24", "2400", day},
		{"minutes out of range", "1275", day},
		{"empty", "", day},
		{"letters", "ab12", day},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FoldTime(day, tt.hhmm))
		})
	}
}

func TestReportMemorySummary(t *testing.T) {
	rep := Report{RawBytes: 4 << 20, TableBytes: 1 << 20}
	assert.Equal(t, "raw 4.0 MiB, normalized 1.0 MiB (75.0% smaller)", rep.MemorySummary())
}
