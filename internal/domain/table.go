package domain

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"
)

// Table is the normalized, typed accident dataset. Storage is columnar and
// unexported; callers read through accessors and Views and cannot mutate it.
type Table struct {
	ids        []string
	regions    []Region
	dates      []time.Time
	decimals   map[string][]Decimal
	categories map[string]*Categorical
	text       map[string][]string
}

// TableData is the exported column layout of a Table, used to build one and
// to persist it.
type TableData struct {
	IDs        []string
	Regions    []Region
	Dates      []time.Time
	Decimals   map[string][]Decimal
	Categories map[string]CategoricalData
	Text       map[string][]string
}

// CategoricalData is the exported form of a Categorical column.
type CategoricalData struct {
	Levels []Level
	Codes  []uint32
}

// NewTable validates column lengths and category codes and takes ownership
// of the data.
func NewTable(d TableData) (*Table, error) {
	n := len(d.IDs)
	if len(d.Regions) != n || len(d.Dates) != n {
		return nil, fmt.Errorf("table: key columns differ in length (ids=%d regions=%d dates=%d)",
			n, len(d.Regions), len(d.Dates))
	}
	t := &Table{
		ids:        d.IDs,
		regions:    d.Regions,
		dates:      d.Dates,
		decimals:   make(map[string][]Decimal, len(d.Decimals)),
		categories: make(map[string]*Categorical, len(d.Categories)),
		text:       make(map[string][]string, len(d.Text)),
	}
	for col, vals := range d.Decimals {
		if len(vals) != n {
			return nil, fmt.Errorf("table: column %s has %d rows, want %d", col, len(vals), n)
		}
		t.decimals[col] = vals
	}
	for col, c := range d.Categories {
		if len(c.Codes) != n {
			return nil, fmt.Errorf("table: column %s has %d rows, want %d", col, len(c.Codes), n)
		}
		for _, code := range c.Codes {
			if int(code) >= len(c.Levels) {
				return nil, fmt.Errorf("table: column %s code %d outside %d levels", col, code, len(c.Levels))
			}
		}
		t.categories[col] = &Categorical{levels: c.Levels, codes: c.Codes}
	}
	for col, vals := range d.Text {
		if len(vals) != n {
			return nil, fmt.Errorf("table: column %s has %d rows, want %d", col, len(vals), n)
		}
		t.text[col] = vals
	}
	return t, nil
}

// Export returns a deep copy of the table's columns.
func (t *Table) Export() TableData {
	d := TableData{
		IDs:        slices.Clone(t.ids),
		Regions:    slices.Clone(t.regions),
		Dates:      slices.Clone(t.dates),
		Decimals:   make(map[string][]Decimal, len(t.decimals)),
		Categories: make(map[string]CategoricalData, len(t.categories)),
		Text:       make(map[string][]string, len(t.text)),
	}
	for col, vals := range t.decimals {
		d.Decimals[col] = slices.Clone(vals)
	}
	for col, c := range t.categories {
		d.Categories[col] = CategoricalData{Levels: slices.Clone(c.levels), Codes: slices.Clone(c.codes)}
	}
	for col, vals := range t.text {
		d.Text[col] = slices.Clone(vals)
	}
	return d
}

// Len is the number of records.
func (t *Table) Len() int { return len(t.ids) }

// ID returns the primary key of row i.
func (t *Table) ID(i int) string { return t.ids[i] }

// Region returns the region of row i.
func (t *Table) Region(i int) Region { return t.regions[i] }

// Date returns the report timestamp of row i.
func (t *Table) Date(i int) time.Time { return t.dates[i] }

// Decimal returns a numeric value. ok is false when the column is not numeric.
func (t *Table) Decimal(col string, i int) (Decimal, bool) {
	vals, ok := t.decimals[col]
	if !ok {
		return Decimal{}, false
	}
	return vals[i], true
}

// Category returns a categorical value. ok is false when the column is not categorical.
func (t *Table) Category(col string, i int) (Level, bool) {
	c, ok := t.categories[col]
	if !ok {
		return Level{}, false
	}
	return c.Value(i), true
}

// Categorical returns a read-only categorical column.
func (t *Table) Categorical(col string) (*Categorical, bool) {
	c, ok := t.categories[col]
	return c, ok
}

// Text returns a text value. ok is false when the column is not stored as text.
func (t *Table) Text(col string, i int) (string, bool) {
	vals, ok := t.text[col]
	if !ok {
		return "", false
	}
	return vals[i], true
}

// Coordinates returns the planar location of row i.
func (t *Table) Coordinates(i int) Coordinates {
	x, _ := t.Decimal(ColX, i)
	y, _ := t.Decimal(ColY, i)
	return Coordinates{X: x, Y: y}
}

// Record returns a detached copy of row i.
func (t *Table) Record(i int) Record {
	r := Record{
		ID:          t.ids[i],
		Region:      t.regions[i],
		Date:        t.dates[i],
		Decimals:    make(map[string]Decimal, len(t.decimals)),
		Categories:  make(map[string]Level, len(t.categories)),
		Text:        make(map[string]string, len(t.text)),
		Coordinates: t.Coordinates(i),
	}
	for col, vals := range t.decimals {
		r.Decimals[col] = vals[i]
	}
	for col, c := range t.categories {
		r.Categories[col] = c.Value(i)
	}
	for col, vals := range t.text {
		r.Text[col] = vals[i]
	}
	r.Fatalities = r.Decimals[ColFatalities]
	r.Serious = r.Decimals[ColSerious]
	r.Light = r.Decimals[ColLight]
	return r
}

// ColumnNames lists the typed columns present, sorted.
func (t *Table) ColumnNames() []string {
	names := slices.Collect(maps.Keys(t.decimals))
	names = append(names, slices.Collect(maps.Keys(t.categories))...)
	names = append(names, slices.Collect(maps.Keys(t.text))...)
	sort.Strings(names)
	return names
}

// Footprint estimates the in-memory size of the table in bytes.
func (t *Table) Footprint() int {
	n := 0
	for _, id := range t.ids {
		n += stringHeaderSize + len(id)
	}
	n += len(t.regions) * (stringHeaderSize + 3)
	n += len(t.dates) * 24
	for _, vals := range t.decimals {
		n += len(vals) * 16
	}
	for _, c := range t.categories {
		n += c.footprint()
	}
	for _, vals := range t.text {
		for _, s := range vals {
			n += stringHeaderSize + len(s)
		}
	}
	return n
}

// All returns a view over every row.
func (t *Table) All() View {
	rows := make([]int, t.Len())
	for i := range rows {
		rows[i] = i
	}
	return View{table: t, rows: rows}
}

// Where returns a view of the rows matching pred.
func (t *Table) Where(pred Predicate) View {
	return t.All().Where(pred)
}

// Predicate selects table rows.
type Predicate func(t *Table, i int) bool

// View is an ordered, read-only subset of a Table's rows.
type View struct {
	table *Table
	rows  []int
}

// Table returns the table the view reads from.
func (v View) Table() *Table { return v.table }

// Len is the number of rows in the view.
func (v View) Len() int { return len(v.rows) }

// Row maps a view position to the underlying table row.
func (v View) Row(k int) int { return v.rows[k] }

// Where narrows the view to the rows matching pred.
func (v View) Where(pred Predicate) View {
	out := make([]int, 0, len(v.rows))
	for _, r := range v.rows {
		if pred(v.table, r) {
			out = append(out, r)
		}
	}
	return View{table: v.table, rows: out}
}
