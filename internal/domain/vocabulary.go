package domain

import (
	_ "embed"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var vocabularyYAML []byte

// Vocabulary is the closed set of integer codes a categorical column may take.
// A nil *Vocabulary is open and accepts any value.
type Vocabulary struct {
	Name   string   `yaml:"name"`
	Codes  []int    `yaml:"codes"`
	Ranges [][2]int `yaml:"ranges"`
}

// Contains reports whether v is a code of the vocabulary.
func (v *Vocabulary) Contains(value string) bool {
	if v == nil {
		return true
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	if slices.Contains(v.Codes, n) {
		return true
	}
	for _, r := range v.Ranges {
		if n >= r[0] && n <= r[1] {
			return true
		}
	}
	return false
}

// Vocabularies maps column names to their closed code lists.
type Vocabularies map[string]*Vocabulary

// For returns the vocabulary of a column, or nil when the column is open.
func (vs Vocabularies) For(column string) *Vocabulary {
	return vs[column]
}

// ParseVocabularies decodes a YAML document of column vocabularies.
func ParseVocabularies(data []byte) (Vocabularies, error) {
	var vs Vocabularies
	if err := yaml.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("parse vocabularies: %w", err)
	}
	for col, v := range vs {
		if KindOf(col) != KindCategorical {
			return nil, fmt.Errorf("vocabulary for non-categorical column %q", col)
		}
		for _, r := range v.Ranges {
			if r[0] > r[1] {
				return nil, fmt.Errorf("column %s: inverted range %v", col, r)
			}
		}
	}
	return vs, nil
}

// DefaultVocabularies returns the embedded reporting-form code lists.
func DefaultVocabularies() Vocabularies {
	vs, err := ParseVocabularies(vocabularyYAML)
	if err != nil {
		panic(err)
	}
	return vs
}
