package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

func sampleTable(t *testing.T) *domain.Table {
	t.Helper()
	at := time.Date(2021, 11, 30, 17, 45, 0, 0, time.UTC)
	tbl, err := domain.NewTable(domain.TableData{
		IDs:     []string{"190001", "190002", "200001"},
		Regions: []domain.Region{"JHM", "OLK", "JHC"},
		Dates:   []time.Time{at, at.AddDate(0, 0, -1), at.AddDate(-1, 0, 0)},
		Decimals: map[string][]domain.Decimal{
			domain.ColX:          {domain.Known(-565874.56), {}, domain.Known(-750000)},
			domain.ColY:          {domain.Known(-1160000.1), {}, domain.Known(-1150000)},
			domain.ColFatalities: {domain.Known(0), domain.Known(1), {}},
		},
		Categories: map[string]domain.CategoricalData{
			domain.ColRoadClass: {
				Levels: []domain.Level{{Value: "1", Recognized: true}, {Value: "42", Recognized: false}},
				Codes:  []uint32{0, 1, 0},
			},
			domain.ColVisibility: {
				Levels: []domain.Level{{Value: "", Recognized: false}},
				Codes:  []uint32{0, 0, 0},
			},
		},
		Text: map[string][]string{"h": {"Brno", "", "České Budějovice"}},
	})
	require.NoError(t, err)
	return tbl
}

func TestRoundTrip(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	defer domain.SetClock(nil)

	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "accidents.snapshot.zst")
	runID := uuid.New()

	written, err := Write(path, tbl, runID)
	require.NoError(t, err)
	assert.Equal(t, fixed, written.CreatedAt)

	got, h, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, runID, h.RunID)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, 3, h.Rows)
	assert.True(t, fixed.Equal(h.CreatedAt))
	assert.Equal(t, tbl.ColumnNames(), h.Columns)

	if diff := cmp.Diff(tbl.Export(), got.Export()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	l, ok := got.Category(domain.ColRoadClass, 1)
	require.True(t, ok)
	assert.Equal(t, domain.Level{Value: "42", Recognized: false}, l)
	assert.Equal(t, time.Date(2021, 11, 30, 17, 45, 0, 0, time.UTC), got.Date(0))
}

func TestRoundTrip_EmptyTable(t *testing.T) {
	empty, err := domain.NewTable(domain.TableData{})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Encode(&buf, empty, uuid.New())
	require.NoError(t, err)

	got, h, err := Decode(&buf)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	assert.Zero(t, h.Rows)
}

func TestDecode_Rejects(t *testing.T) {
	t.Run("wrong magic", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader([]byte("PK\x03\x04 definitely a zip")))
		require.ErrorIs(t, err, ErrNotSnapshot)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader([]byte("ACC")))
		require.ErrorIs(t, err, ErrNotSnapshot)
	})

	t.Run("future version", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Encode(&buf, sampleTable(t), uuid.New())
		require.NoError(t, err)
		raw := buf.Bytes()
		raw[8] = 99

		_, _, err = Decode(bytes.NewReader(raw))
		require.ErrorIs(t, err, ErrVersion)
	})

	t.Run("corrupt body", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Encode(&buf, sampleTable(t), uuid.New())
		require.NoError(t, err)
		raw := buf.Bytes()[:buf.Len()/2]

		_, _, err = Decode(bytes.NewReader(raw))
		require.Error(t, err)
	})
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.zst")
	_, err := Write(path, sampleTable(t), uuid.New())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s.zst", entries[0].Name())

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Rows)
}

func TestRead_Missing(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
