package cluster

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
)

// Linkage selects how the distance between two clusters is derived from
// their members.
type Linkage string

const (
	// Ward merges the pair whose union increases the within-cluster sum of
	// squares the least.
	Ward Linkage = "ward"
	// Average uses the mean pairwise member distance.
	Average Linkage = "average"
	// Complete uses the largest pairwise member distance.
	Complete Linkage = "complete"
	// Single uses the smallest pairwise member distance.
	Single Linkage = "single"
)

// MaxMatrixPoints bounds the input size of the linkages that keep a full
// pairwise distance matrix. Ward works from centroids and has no such limit.
const MaxMatrixPoints = 8000

// ErrTooManyPoints is returned when a matrix linkage is asked to cluster more
// than MaxMatrixPoints points.
var ErrTooManyPoints = errors.New("too many points for matrix linkage")

// ParseLinkage accepts the linkage names case-insensitively.
func ParseLinkage(s string) (Linkage, error) {
	switch l := Linkage(strings.ToLower(strings.TrimSpace(s))); l {
	case Ward, Average, Complete, Single:
		return l, nil
	default:
		return "", fmt.Errorf("unknown linkage %q", s)
	}
}

// state answers inter-cluster distances for clusters identified by their
// smallest member index and folds one cluster into another.
type state interface {
	dist(i, j int) float64
	// merge folds b into a; a < b and both are active.
	merge(a, b int, active []bool)
}

func newState(l Linkage, pts []orb.Point) (state, error) {
	if l == Ward {
		return newWardState(pts), nil
	}
	if len(pts) > MaxMatrixPoints {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPoints, len(pts), MaxMatrixPoints)
	}
	return newMatrixState(l, pts), nil
}

// wardState tracks per-cluster coordinate sums and sizes. The merge cost of
// A and B is nA*nB/(nA+nB) * |cA-cB|^2, the increase in total within-cluster
// variance, evaluated as |nB*SA - nA*SB|^2 / (nA*nB*(nA+nB)). Unlike running
// centroids, integer sums carry no rounding, so pairs that tie exactly also
// tie in floating point and the index order decides.
type wardState struct {
	sum  []r2.Point
	size []float64
}

func newWardState(pts []orb.Point) *wardState {
	s := &wardState{sum: make([]r2.Point, len(pts)), size: make([]float64, len(pts))}
	for i, p := range pts {
		s.sum[i] = r2.Point{X: p.X(), Y: p.Y()}
		s.size[i] = 1
	}
	return s
}

func (s *wardState) dist(i, j int) float64 {
	ni, nj := s.size[i], s.size[j]
	d := s.sum[i].Mul(nj).Sub(s.sum[j].Mul(ni))
	return d.Dot(d) / (ni * nj * (ni + nj))
}

func (s *wardState) merge(a, b int, _ []bool) {
	s.sum[a] = s.sum[a].Add(s.sum[b])
	s.size[a] += s.size[b]
}

// matrixState keeps the condensed upper-triangular distance matrix and
// applies the Lance-Williams update on every merge.
type matrixState struct {
	linkage Linkage
	n       int
	d       []float64
	size    []float64
}

func newMatrixState(l Linkage, pts []orb.Point) *matrixState {
	n := len(pts)
	s := &matrixState{linkage: l, n: n, d: make([]float64, n*(n-1)/2), size: make([]float64, n)}
	for i := range n {
		s.size[i] = 1
		for j := i + 1; j < n; j++ {
			s.d[s.index(i, j)] = math.Hypot(pts[i].X()-pts[j].X(), pts[i].Y()-pts[j].Y())
		}
	}
	return s
}

func (s *matrixState) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return s.n*i - i*(i+1)/2 + (j - i - 1)
}

func (s *matrixState) dist(i, j int) float64 { return s.d[s.index(i, j)] }

func (s *matrixState) merge(a, b int, active []bool) {
	na, nb := s.size[a], s.size[b]
	for k := range s.n {
		if !active[k] || k == a || k == b {
			continue
		}
		da, db := s.dist(k, a), s.dist(k, b)
		var v float64
		switch s.linkage {
		case Single:
			v = math.Min(da, db)
		case Complete:
			v = math.Max(da, db)
		default:
			v = (na*da + nb*db) / (na + nb)
		}
		s.d[s.index(k, a)] = v
	}
	s.size[a] = na + nb
}
