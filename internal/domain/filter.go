package domain

import (
	"slices"
	"strconv"
)

// InRegions matches rows from any of the given regions.
func InRegions(regions ...Region) Predicate {
	return func(t *Table, i int) bool {
		return slices.Contains(regions, t.Region(i))
	}
}

// InYear matches rows reported in the given calendar year.
func InYear(year int) Predicate {
	return func(t *Table, i int) bool {
		return t.Date(i).Year() == year
	}
}

// CategoryIn matches rows whose categorical value is one of values.
func CategoryIn(col string, values ...string) Predicate {
	return func(t *Table, i int) bool {
		l, ok := t.Category(col, i)
		return ok && slices.Contains(values, l.Value)
	}
}

// CategoryAtLeast matches rows whose categorical value parses as an integer >= min.
func CategoryAtLeast(col string, min int) Predicate {
	return func(t *Table, i int) bool {
		l, ok := t.Category(col, i)
		if !ok {
			return false
		}
		n, err := strconv.Atoi(l.Value)
		return err == nil && n >= min
	}
}

// DecimalAbove matches rows whose numeric value is known and greater than min.
func DecimalAbove(col string, min float64) Predicate {
	return func(t *Table, i int) bool {
		d, ok := t.Decimal(col, i)
		return ok && d.Valid && d.Value > min
	}
}

// HasCoordinates matches rows with both planar axes known.
func HasCoordinates() Predicate {
	return func(t *Table, i int) bool {
		return t.Coordinates(i).Valid()
	}
}

// And combines predicates; all must match.
func And(preds ...Predicate) Predicate {
	return func(t *Table, i int) bool {
		for _, p := range preds {
			if !p(t, i) {
				return false
			}
		}
		return true
	}
}
