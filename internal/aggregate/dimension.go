package aggregate

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

// KeyValue is one component of a group key. Numeric values order by Num,
// everything else by Label. Null values sort after all non-null values.
type KeyValue struct {
	Label   string
	Num     int64
	Numeric bool
	Null    bool
}

// Text is a non-null textual key.
func Text(s string) KeyValue { return KeyValue{Label: s} }

// Number is a non-null numeric key labelled with its decimal form.
func Number(n int64) KeyValue {
	return KeyValue{Label: strconv.FormatInt(n, 10), Num: n, Numeric: true}
}

// Null is the key of rows that have no value for a dimension.
func Null() KeyValue { return KeyValue{Null: true} }

func (k KeyValue) String() string {
	if k.Null {
		return "null"
	}
	return k.Label
}

// MarshalJSON renders null keys as JSON null and everything else as the label.
func (k KeyValue) MarshalJSON() ([]byte, error) {
	if k.Null {
		return []byte("null"), nil
	}
	return json.Marshal(k.Label)
}

// Compare orders keys ascending with nulls last.
func (k KeyValue) Compare(o KeyValue) int {
	switch {
	case k.Null && o.Null:
		return 0
	case k.Null:
		return 1
	case o.Null:
		return -1
	case k.Numeric && o.Numeric:
		return cmp.Compare(k.Num, o.Num)
	case k.Numeric != o.Numeric:
		// Numbers before text when a dimension mixes both.
		if k.Numeric {
			return -1
		}
		return 1
	default:
		return cmp.Compare(k.Label, o.Label)
	}
}

// Dimension derives a group key from a table row.
type Dimension struct {
	Name string
	key  func(t *domain.Table, i int) KeyValue
}

// Region groups by region abbreviation.
func Region() Dimension {
	return Dimension{Name: "region", key: func(t *domain.Table, i int) KeyValue {
		return Text(t.Region(i).String())
	}}
}

// Year groups by calendar year of the report date.
func Year() Dimension {
	return Dimension{Name: "year", key: func(t *domain.Table, i int) KeyValue {
		return Number(int64(t.Date(i).Year()))
	}}
}

// Month groups by month of year (1-12) regardless of year.
func Month() Dimension {
	return Dimension{Name: "month", key: func(t *domain.Table, i int) KeyValue {
		return Number(int64(t.Date(i).Month()))
	}}
}

// YearMonth groups by "YYYY-MM".
func YearMonth() Dimension {
	return Dimension{Name: "year_month", key: func(t *domain.Table, i int) KeyValue {
		d := t.Date(i)
		return KeyValue{
			Label:   fmt.Sprintf("%04d-%02d", d.Year(), d.Month()),
			Num:     int64(d.Year())*100 + int64(d.Month()),
			Numeric: true,
		}
	}}
}

// Category groups by the value of a categorical column. Integer codes order
// numerically. Empty values and columns absent from the table are null.
func Category(col string) Dimension {
	return Dimension{Name: col, key: func(t *domain.Table, i int) KeyValue {
		l, ok := t.Category(col, i)
		if !ok || l.Value == "" {
			return Null()
		}
		if n, err := strconv.ParseInt(l.Value, 10, 64); err == nil {
			return KeyValue{Label: l.Value, Num: n, Numeric: true}
		}
		return Text(l.Value)
	}}
}

// BucketFunc maps a category level to a bucket. ok=false makes the key null.
type BucketFunc func(l domain.Level) (KeyValue, bool)

// Bucket groups a categorical column through fn.
func Bucket(name, col string, fn BucketFunc) Dimension {
	return Dimension{Name: name, key: func(t *domain.Table, i int) KeyValue {
		l, ok := t.Category(col, i)
		if !ok {
			return Null()
		}
		k, ok := fn(l)
		if !ok {
			return Null()
		}
		return k
	}}
}

// Key evaluates the dimension for row i.
func (d Dimension) Key(t *domain.Table, i int) KeyValue {
	return d.key(t, i)
}

// Measure reduces the rows of a group to a number.
type Measure struct {
	Name string
	col  string // empty for Count
}

// Count counts rows.
func Count() Measure { return Measure{Name: "count"} }

// Sum adds the known values of a numeric column. Unknown values are skipped.
func Sum(col string) Measure { return Measure{Name: "sum_" + col, col: col} }
