// Package aggregate groups table rows by derived keys and reduces each group
// to counts and sums.
package aggregate

import (
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

// Query describes a grouping: one key component per dimension and one value
// per measure.
type Query struct {
	GroupBy  []Dimension
	Measures []Measure
}

// AggregateRow is one group of a query result.
type AggregateRow struct {
	Key    []KeyValue `json:"key"`
	Values []float64  `json:"values"`
}

// Compare orders rows by key tuple.
func (r AggregateRow) Compare(o AggregateRow) int {
	for i := range min(len(r.Key), len(o.Key)) {
		if c := r.Key[i].Compare(o.Key[i]); c != 0 {
			return c
		}
	}
	return len(r.Key) - len(o.Key)
}

type group struct {
	key    []KeyValue
	count  int
	values [][]float64 // per Sum measure, the known values of the group
}

// Aggregate groups the rows of v and evaluates every measure per group.
// Keys are grouped by equality and rows come back sorted ascending by key
// tuple, with null components after non-null ones. An empty view yields no rows.
func Aggregate(v domain.View, q Query) []AggregateRow {
	t := v.Table()
	groups := make(map[string]*group)
	var order []*group

	var b strings.Builder
	for k := 0; k < v.Len(); k++ {
		i := v.Row(k)
		key := make([]KeyValue, len(q.GroupBy))
		b.Reset()
		for d, dim := range q.GroupBy {
			key[d] = dim.Key(t, i)
			b.WriteByte(0)
			if key[d].Null {
				b.WriteByte('N')
			} else {
				b.WriteByte('V')
				b.WriteString(key[d].Label)
			}
		}
		g, ok := groups[b.String()]
		if !ok {
			g = &group{key: key, values: make([][]float64, len(q.Measures))}
			groups[b.String()] = g
			order = append(order, g)
		}
		g.count++
		for m, measure := range q.Measures {
			if measure.col == "" {
				continue
			}
			if d, ok := t.Decimal(measure.col, i); ok && d.Valid {
				g.values[m] = append(g.values[m], d.Value)
			}
		}
	}

	rows := make([]AggregateRow, 0, len(order))
	for _, g := range order {
		vals := make([]float64, len(q.Measures))
		for m, measure := range q.Measures {
			if measure.col == "" {
				vals[m] = float64(g.count)
				continue
			}
			vals[m] = floats.Sum(g.values[m])
		}
		rows = append(rows, AggregateRow{Key: g.key, Values: vals})
	}
	slices.SortStableFunc(rows, AggregateRow.Compare)
	return rows
}

// Summary is a named query result handed to renderers and sinks.
type Summary struct {
	Name       string         `json:"name"`
	Dimensions []string       `json:"dimensions"`
	Measures   []string       `json:"measures"`
	Rows       []AggregateRow `json:"rows"`
}

// Run evaluates q over v and labels the result.
func Run(name string, v domain.View, q Query) Summary {
	s := Summary{Name: name, Rows: Aggregate(v, q)}
	for _, d := range q.GroupBy {
		s.Dimensions = append(s.Dimensions, d.Name)
	}
	for _, m := range q.Measures {
		s.Measures = append(s.Measures, m.Name)
	}
	return s
}
