package domain

import (
	"slices"
	"sort"
)

// Level is one member of a categorical column's domain.
type Level struct {
	Value      string
	Recognized bool
}

// Categorical is a dictionary-encoded column: each row stores an index into
// Levels. Levels are the sorted distinct observed values, so comparing codes
// within one column is equivalent to comparing the original strings.
type Categorical struct {
	levels []Level
	codes  []uint32
}

// NewCategorical encodes values, checking each distinct value against vocab.
// A nil vocab accepts everything.
func NewCategorical(values []string, vocab *Vocabulary) *Categorical {
	distinct := make(map[string]struct{}, 16)
	for _, v := range values {
		distinct[v] = struct{}{}
	}
	keys := make([]string, 0, len(distinct))
	for v := range distinct {
		keys = append(keys, v)
	}
	sort.Strings(keys)

	index := make(map[string]uint32, len(keys))
	levels := make([]Level, len(keys))
	for i, v := range keys {
		index[v] = uint32(i)
		levels[i] = Level{Value: v, Recognized: vocab.Contains(v)}
	}

	codes := make([]uint32, len(values))
	for i, v := range values {
		codes[i] = index[v]
	}
	return &Categorical{levels: levels, codes: codes}
}

// Len is the number of rows.
func (c *Categorical) Len() int { return len(c.codes) }

// Levels returns a copy of the category domain.
func (c *Categorical) Levels() []Level { return slices.Clone(c.levels) }

// Code returns the level index stored for row i.
func (c *Categorical) Code(i int) uint32 { return c.codes[i] }

// Value returns the level stored for row i.
func (c *Categorical) Value(i int) Level { return c.levels[c.codes[i]] }

// Unrecognized counts rows whose level is outside the column vocabulary.
func (c *Categorical) Unrecognized() int {
	n := 0
	for _, code := range c.codes {
		if !c.levels[code].Recognized {
			n++
		}
	}
	return n
}

func (c *Categorical) footprint() int {
	n := 4 * len(c.codes)
	for _, l := range c.levels {
		n += stringHeaderSize + len(l.Value) + 1
	}
	return n
}

// Data returns a copy of the column in its exported form.
func (c *Categorical) Data() CategoricalData {
	return CategoricalData{Levels: slices.Clone(c.levels), Codes: slices.Clone(c.codes)}
}
