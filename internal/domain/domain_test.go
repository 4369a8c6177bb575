package domain

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionByCode(t *testing.T) {
	tests := []struct {
		code     string
		expected Region
		ok       bool
	}{
		{"00", "PHA", true},
		{"06", "JHM", true},
		{"14", "OLK", true},
		{"19", "KVK", true},
		{"99", "", false},
		{"08", "", false},
		{"6", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r, ok := RegionByCode(tt.code)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, r)
		})
	}
}

func TestRegionMappingIsBijective(t *testing.T) {
	regions := Regions()
	require.Len(t, regions, 14)

	seen := make(map[string]bool)
	for _, r := range regions {
		code := r.Code()
		require.NotEmpty(t, code, r)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true

		back, ok := RegionByCode(code)
		require.True(t, ok)
		assert.Equal(t, r, back)
	}
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion("JHC")
	require.NoError(t, err)
	assert.Equal(t, Region("JHC"), r)

	_, err = ParseRegion("XYZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown region")
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Decimal
	}{
		{"comma separator", "12,5", Known(12.5)},
		{"dot separator", "12.5", Known(12.5)},
		{"negative coordinate", "-565874,56", Known(-565874.56)},
		{"integer", "3", Known(3)},
		{"padded", "  7,25 ", Known(7.25)},
		{"letters", "abc", Decimal{}},
		{"empty", "", Decimal{}},
		{"two separators", "1,2,3", Decimal{}},
		{"nan", "NaN", Decimal{}},
		{"infinity", "inf", Decimal{}},
		{"negative infinity", "-Infinity", Decimal{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDecimal(tt.input))
		})
	}
}

func TestDecimalString(t *testing.T) {
	assert.Equal(t, "12.5", ParseDecimal("12,5").String())
	assert.Equal(t, Unknown, ParseDecimal("abc").String())
}

func TestCoordinatesValid(t *testing.T) {
	tests := []struct {
		name     string
		c        Coordinates
		expected bool
	}{
		{"both known", Coordinates{X: Known(-750000), Y: Known(-1150000)}, true},
		{"missing x", Coordinates{Y: Known(-1150000)}, false},
		{"nan x", Coordinates{X: Known(math.NaN()), Y: Known(-1150000)}, false},
		{"infinite y", Coordinates{X: Known(-750000), Y: Known(math.Inf(-1))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.c.Valid())
		})
	}
}

func TestVocabularyContains(t *testing.T) {
	vs := DefaultVocabularies()

	tests := []struct {
		name     string
		column   string
		value    string
		expected bool
	}{
		{"visibility in range", ColVisibility, "4", true},
		{"visibility out of range", ColVisibility, "9", false},
		{"cause single code", ColCause, "100", true},
		{"cause range", ColCause, "205", true},
		{"cause gap", ColCause, "250", false},
		{"non numeric", ColRoadClass, "x", false},
		{"open column", "p15", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, vs.For(tt.column).Contains(tt.value))
		})
	}
}

func TestParseVocabularies_Errors(t *testing.T) {
	_, err := ParseVocabularies([]byte("d:\n  codes: [1]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-categorical")

	_, err = ParseVocabularies([]byte("p19:\n  ranges: [[5, 1]]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverted")

	_, err = ParseVocabularies([]byte("p19: [unclosed"))
	require.Error(t, err)
}

func TestNewCategorical(t *testing.T) {
	values := []string{"3", "1", "3", "9", "1"}
	c := NewCategorical(values, DefaultVocabularies().For(ColVisibility))

	levels := c.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, []Level{{"1", true}, {"3", true}, {"9", false}}, levels)
	assert.Equal(t, 1, c.Unrecognized())

	for i, v := range values {
		assert.Equal(t, v, c.Value(i).Value)
	}
	// Equal strings share a code and different strings never do.
	assert.Equal(t, c.Code(0), c.Code(2))
	assert.NotEqual(t, c.Code(0), c.Code(1))
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	day := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	tbl, err := NewTable(TableData{
		IDs:     []string{"a", "b", "c"},
		Regions: []Region{"JHM", "OLK", "JHM"},
		Dates:   []time.Time{day, day.AddDate(0, 1, 0), day.AddDate(1, 0, 0)},
		Decimals: map[string][]Decimal{
			ColX: {Known(1), {}, Known(3)},
			ColY: {Known(1), Known(2), Known(3)},
		},
		Categories: map[string]CategoricalData{
			ColRoadClass: {Levels: []Level{{"1", true}, {"2", true}}, Codes: []uint32{0, 1, 1}},
		},
		Text: map[string][]string{"h": {"x", "y", "z"}},
	})
	require.NoError(t, err)
	return tbl
}

func TestTableAccessors(t *testing.T) {
	tbl := newTestTable(t)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "b", tbl.ID(1))
	assert.Equal(t, Region("OLK"), tbl.Region(1))

	l, ok := tbl.Category(ColRoadClass, 2)
	require.True(t, ok)
	assert.Equal(t, "2", l.Value)

	_, ok = tbl.Category("nope", 0)
	assert.False(t, ok)

	assert.True(t, tbl.Coordinates(0).Valid())
	assert.False(t, tbl.Coordinates(1).Valid())

	rec := tbl.Record(2)
	assert.Equal(t, "c", rec.ID)
	assert.Equal(t, "z", rec.Text["h"])
	rec.Text["h"] = "changed"
	s, _ := tbl.Text("h", 2)
	assert.Equal(t, "z", s, "record copies must not alias table storage")

	assert.Equal(t, []string{ColX, ColY, "h", ColRoadClass}, tbl.ColumnNames())
	assert.Positive(t, tbl.Footprint())
}

func TestNewTable_RejectsInconsistentColumns(t *testing.T) {
	_, err := NewTable(TableData{IDs: []string{"a"}, Regions: []Region{"JHM"}})
	require.Error(t, err)

	_, err = NewTable(TableData{
		IDs:        []string{"a"},
		Regions:    []Region{"JHM"},
		Dates:      []time.Time{{}},
		Categories: map[string]CategoricalData{"p7": {Levels: []Level{{"1", true}}, Codes: []uint32{4}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
}

func TestTableExportIsDeepCopy(t *testing.T) {
	tbl := newTestTable(t)
	d := tbl.Export()
	d.IDs[0] = "mutated"
	d.Categories[ColRoadClass].Codes[0] = 1

	assert.Equal(t, "a", tbl.ID(0))
	l, _ := tbl.Category(ColRoadClass, 0)
	assert.Equal(t, "1", l.Value)
}

func TestViewWhere(t *testing.T) {
	tbl := newTestTable(t)

	v := tbl.Where(InRegions("JHM"))
	require.Equal(t, 2, v.Len())
	assert.Equal(t, 0, v.Row(0))
	assert.Equal(t, 2, v.Row(1))

	v = v.Where(CategoryIn(ColRoadClass, "2"))
	require.Equal(t, 1, v.Len())
	assert.Equal(t, 2, v.Row(0))

	assert.Equal(t, 2, tbl.Where(HasCoordinates()).Len())
	assert.Equal(t, 1, tbl.Where(InYear(2022)).Len())
	assert.Equal(t, 2, tbl.Where(CategoryAtLeast(ColRoadClass, 2)).Len())
	assert.Equal(t, 1, tbl.Where(And(HasCoordinates(), DecimalAbove(ColX, 2))).Len())
}

func TestRawRecordField(t *testing.T) {
	fields := make([]string, len(Columns))
	fields[0] = "190001"
	r := RawRecord{Fields: fields}
	assert.Equal(t, "190001", r.Field(ColID))
	assert.Equal(t, "", r.Field("missing"))
	assert.Equal(t, "", RawRecord{Fields: []string{"x"}}.Field(ColY))
}

func TestSetClock(t *testing.T) {
	t.Run("set custom clock", func(t *testing.T) {
		fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		SetClock(clockwork.NewFakeClockAt(fixedTime))
		defer SetClock(nil)

		assert.Equal(t, fixedTime, Now())
	})

	t.Run("reset to real clock", func(t *testing.T) {
		SetClock(clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
		SetClock(nil)

		assert.True(t, time.Since(Now()) < time.Second)
	})
}
