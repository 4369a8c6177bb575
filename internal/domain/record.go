package domain

import (
	"math"
	"time"
)

// RawRecord is one untyped row of a regional file, tagged with its origin.
type RawRecord struct {
	Region Region
	Year   string // inner archive name without extension
	Source string // "<inner archive>/<file>"
	Fields []string
}

// Field returns the raw value of a named column, or "" if absent.
func (r RawRecord) Field(name string) string {
	i, ok := ColumnIndex(name)
	if !ok || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// RawTable is the unified output of ingestion, in ingestion order.
type RawTable struct {
	Columns []string
	Rows    []RawRecord
}

// Len is the number of rows.
func (t *RawTable) Len() int { return len(t.Rows) }

// Footprint estimates the in-memory size of the raw table in bytes.
func (t *RawTable) Footprint() int {
	n := 0
	for _, r := range t.Rows {
		n += 3*stringHeaderSize + len(r.Region) + len(r.Year) + len(r.Source)
		n += sliceHeaderSize
		for _, f := range r.Fields {
			n += stringHeaderSize + len(f)
		}
	}
	return n
}

// Record is a typed copy of one row of a Table. Mutating it does not touch
// the table.
type Record struct {
	ID          string
	Region      Region
	Date        time.Time
	Decimals    map[string]Decimal
	Categories  map[string]Level
	Text        map[string]string
	Fatalities  Decimal
	Serious     Decimal
	Light       Decimal
	Coordinates Coordinates
}

// Coordinates is the planar location of an accident. Either axis may be unknown.
type Coordinates struct {
	X Decimal
	Y Decimal
}

// Valid reports whether both axes are known and finite.
func (c Coordinates) Valid() bool {
	return finite(c.X) && finite(c.Y)
}

func finite(d Decimal) bool {
	return d.Valid && !math.IsNaN(d.Value) && !math.IsInf(d.Value, 0)
}

const (
	stringHeaderSize = 16
	sliceHeaderSize  = 24
)
