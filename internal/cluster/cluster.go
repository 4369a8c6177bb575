// Package cluster partitions projected accident locations into a fixed number
// of spatial groups by bottom-up agglomerative merging.
//
// Clusters are identified by their smallest member index. At every step the
// pair with the smallest linkage distance merges; among equal distances the
// lexicographically smallest (i, j) with i < j wins, so results depend only
// on the input order.
//
// Each merge scans the cached nearest neighbours for the global minimum and
// rescans rows whose neighbour was absorbed. That is O(n^2) for typical
// layouts and O(n^3) in the worst case. Ward keeps O(n) state; the other
// linkages keep an O(n^2) distance matrix and are capped at MaxMatrixPoints.
package cluster

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/accident-data-etl/internal/geo"
)

// Cluster is one group of the partition.
type Cluster struct {
	Label   int
	Count   int
	Members []int // ascending indices into the clustered points
	// Geometry is the dissolved shape: every distinct member location.
	Geometry orb.MultiPoint
	Bound    orb.Bound
	Centroid orb.Point
}

// Result is a complete partition of the input points.
type Result struct {
	Linkage  Linkage
	K        int
	Clusters []Cluster
	// Labels holds the cluster label of every input point.
	Labels []int
}

// Engine runs agglomerative clustering with a fixed linkage.
type Engine struct {
	linkage Linkage
	logger  *slog.Logger
}

// New creates an Engine. A nil logger falls back to slog.Default().
func New(linkage Linkage, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{linkage: linkage, logger: logger}
}

// Linkage returns the configured linkage.
func (e *Engine) Linkage() Linkage { return e.linkage }

// Cluster partitions points into k groups. k is clamped to the number of
// points and values below 1 mean a single group. No points yield an empty
// result. Labels 0..k-1 follow the order of each cluster's first member.
func (e *Engine) Cluster(ctx context.Context, points []geo.GeoPoint, k int) (Result, error) {
	start := time.Now()
	n := len(points)
	res := Result{Linkage: e.linkage}
	if n == 0 {
		return res, nil
	}
	k = max(1, min(k, n))
	res.K = k

	pts := make([]orb.Point, n)
	for i, p := range points {
		pts[i] = p.Point
	}
	st, err := newState(e.linkage, pts)
	if err != nil {
		return Result{}, err
	}

	parent, err := agglomerate(ctx, st, n, k)
	if err != nil {
		return Result{}, err
	}
	res.Clusters, res.Labels = collect(parent, pts)

	e.logger.Info("clustering complete",
		"points", n,
		"clusters", len(res.Clusters),
		"linkage", e.linkage,
		"duration", time.Since(start),
	)
	return res, nil
}

// agglomerate merges until k clusters remain and returns, for every point,
// the cluster it was folded into (itself for surviving clusters).
//
// nn[i] caches the nearest j > i among active clusters, preferring the
// smallest j on ties; only rows touched by a merge are recomputed.
func agglomerate(ctx context.Context, st state, n, k int) ([]int, error) {
	active := make([]bool, n)
	parent := make([]int, n)
	nn := make([]int, n)
	nnDist := make([]float64, n)
	for i := range n {
		active[i] = true
		parent[i] = i
	}

	scan := func(i int) {
		nn[i], nnDist[i] = -1, math.Inf(1)
		for j := i + 1; j < n; j++ {
			if !active[j] {
				continue
			}
			if d := st.dist(i, j); d < nnDist[i] {
				nn[i], nnDist[i] = j, d
			}
		}
	}
	for i := range n {
		scan(i)
	}

	for remaining := n; remaining > k; remaining-- {
		if remaining%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		a := -1
		for i := range n {
			if !active[i] || nn[i] < 0 {
				continue
			}
			if a < 0 || nnDist[i] < nnDist[a] {
				a = i
			}
		}
		b := nn[a]

		st.merge(a, b, active)
		active[b] = false
		parent[b] = a

		scan(a)
		for i := range b {
			if !active[i] || i == a {
				continue
			}
			switch {
			case nn[i] == a || nn[i] == b:
				scan(i)
			case i < a:
				if d := st.dist(i, a); d < nnDist[i] || (d == nnDist[i] && a < nn[i]) {
					nn[i], nnDist[i] = a, d
				}
			}
		}
	}
	return parent, nil
}

// collect resolves merge parents into clusters labelled by first member.
func collect(parent []int, pts []orb.Point) ([]Cluster, []int) {
	root := func(i int) int {
		r := i
		for parent[r] != r {
			r = parent[r]
		}
		for parent[i] != r {
			parent[i], i = r, parent[i]
		}
		return r
	}

	labels := make([]int, len(pts))
	byRoot := make(map[int]int)
	var clusters []Cluster
	for i := range pts {
		r := root(i)
		label, ok := byRoot[r]
		if !ok {
			label = len(clusters)
			byRoot[r] = label
			clusters = append(clusters, Cluster{Label: label})
		}
		labels[i] = label
		clusters[label].Members = append(clusters[label].Members, i)
	}

	for c := range clusters {
		dissolve(&clusters[c], pts)
	}
	return clusters, labels
}

// dissolve fills the geometry, bound and centroid of a cluster from its members.
func dissolve(c *Cluster, pts []orb.Point) {
	c.Count = len(c.Members)
	xs := make([]float64, c.Count)
	ys := make([]float64, c.Count)
	seen := make(map[orb.Point]bool, c.Count)
	for m, i := range c.Members {
		p := pts[i]
		xs[m], ys[m] = p.X(), p.Y()
		if !seen[p] {
			seen[p] = true
			c.Geometry = append(c.Geometry, p)
		}
	}
	c.Bound = c.Geometry.Bound()
	c.Centroid = orb.Point{stat.Mean(xs, nil), stat.Mean(ys, nil)}
}

// Sizes returns the member count of every cluster in label order.
func (r Result) Sizes() []int {
	out := make([]int, len(r.Clusters))
	for i, c := range r.Clusters {
		out[i] = c.Count
	}
	return out
}

// FeatureCollection encodes every cluster as a MultiPoint feature with its
// label, count and centroid.
func (r Result) FeatureCollection(crs geo.CRS) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"crs": string(crs), "linkage": string(r.Linkage)}
	for _, c := range r.Clusters {
		f := geojson.NewFeature(c.Geometry)
		f.ID = c.Label
		f.Properties["label"] = c.Label
		f.Properties["count"] = c.Count
		f.Properties["centroid"] = []float64{c.Centroid.X(), c.Centroid.Y()}
		f.BBox = geojson.NewBBox(c.Bound)
		fc.Append(f)
	}
	return fc
}
