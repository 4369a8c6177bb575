package cluster

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/accident-data-etl/internal/geo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func points(xy ...[2]float64) []geo.GeoPoint {
	out := make([]geo.GeoPoint, len(xy))
	for i, p := range xy {
		out[i] = geo.GeoPoint{Row: i, Point: orb.Point{p[0], p[1]}, CRS: geo.EPSG5514}
	}
	return out
}

func randomPoints(seed uint64, n int) []geo.GeoPoint {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	xy := make([][2]float64, n)
	for i := range xy {
		xy[i] = [2]float64{-750000 + r.Float64()*20000, -1150000 + r.Float64()*20000}
	}
	return points(xy...)
}

var allLinkages = []Linkage{Ward, Average, Complete, Single}

func TestCluster_PartitionsExactly(t *testing.T) {
	pts := randomPoints(1, 120)
	for _, l := range allLinkages {
		t.Run(string(l), func(t *testing.T) {
			res, err := New(l, testLogger()).Cluster(context.Background(), pts, 20)
			require.NoError(t, err)
			require.Len(t, res.Clusters, 20)
			assert.Equal(t, 20, res.K)

			seen := make([]int, len(pts))
			total := 0
			for label, c := range res.Clusters {
				assert.Equal(t, label, c.Label)
				assert.Equal(t, len(c.Members), c.Count)
				assert.Positive(t, c.Count)
				total += c.Count
				for _, m := range c.Members {
					seen[m]++
					assert.Equal(t, label, res.Labels[m])
				}
			}
			assert.Equal(t, len(pts), total)
			for i, s := range seen {
				assert.Equal(t, 1, s, "point %d", i)
			}
		})
	}
}

func TestCluster_ClampsK(t *testing.T) {
	pts := points([2]float64{0, 0}, [2]float64{5, 5}, [2]float64{9, 1})

	res, err := New(Ward, testLogger()).Cluster(context.Background(), pts, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, res.K)
	assert.Equal(t, []int{1, 1, 1}, res.Sizes())
	assert.Equal(t, []int{0, 1, 2}, res.Labels)

	res, err = New(Ward, testLogger()).Cluster(context.Background(), pts, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, res.Sizes())
}

func TestCluster_Empty(t *testing.T) {
	res, err := New(Ward, testLogger()).Cluster(context.Background(), nil, 20)
	require.NoError(t, err)
	assert.Empty(t, res.Clusters)
	assert.Empty(t, res.Labels)
	assert.Zero(t, res.K)
}

func TestCluster_TieBreak(t *testing.T) {
	line := points([2]float64{0, 0}, [2]float64{1, 0}, [2]float64{2, 0}, [2]float64{3, 0})

	tests := []struct {
		linkage Linkage
		k       int
		labels  []int
	}{
		{Ward, 3, []int{0, 0, 1, 2}},
		{Ward, 2, []int{0, 0, 1, 1}},
		{Single, 3, []int{0, 0, 1, 2}},
		// After {0,1} merges, d({0,1},2) and d(2,3) are both 1; the pair with
		// the smaller first index wins.
		{Single, 2, []int{0, 0, 0, 1}},
		{Complete, 2, []int{0, 0, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(string(tt.linkage), func(t *testing.T) {
			for range 3 {
				res, err := New(tt.linkage, testLogger()).Cluster(context.Background(), line, tt.k)
				require.NoError(t, err)
				assert.Equal(t, tt.labels, res.Labels)
			}
		})
	}
}

func TestCluster_SeparatedGroups(t *testing.T) {
	pts := points(
		[2]float64{100, 100}, [2]float64{-1000, -1000}, [2]float64{101, 99},
		[2]float64{-1001, -999}, [2]float64{99, 101}, [2]float64{-999, -1002},
	)
	for _, l := range allLinkages {
		t.Run(string(l), func(t *testing.T) {
			res, err := New(l, testLogger()).Cluster(context.Background(), pts, 2)
			require.NoError(t, err)
			require.Len(t, res.Clusters, 2)
			assert.Equal(t, []int{0, 2, 4}, res.Clusters[0].Members)
			assert.Equal(t, []int{1, 3, 5}, res.Clusters[1].Members)
			assert.InDelta(t, 100, res.Clusters[0].Centroid.X(), 1e-9)
			assert.InDelta(t, -1000, res.Clusters[1].Centroid.X(), 1e-9)
		})
	}
}

func TestCluster_DissolvesDuplicateLocations(t *testing.T) {
	pts := points([2]float64{1, 1}, [2]float64{1, 1}, [2]float64{3, 1}, [2]float64{1, 1})

	res, err := New(Ward, testLogger()).Cluster(context.Background(), pts, 1)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	c := res.Clusters[0]
	assert.Equal(t, 4, c.Count)
	assert.Equal(t, orb.MultiPoint{{1, 1}, {3, 1}}, c.Geometry)
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{3, 1}}, c.Bound)
	assert.Equal(t, orb.Point{1.5, 1}, c.Centroid)
}

func TestCluster_MatchesNaiveMerging(t *testing.T) {
	pts := randomPoints(7, 60)
	for _, l := range allLinkages {
		t.Run(string(l), func(t *testing.T) {
			for _, k := range []int{1, 4, 17, 59} {
				res, err := New(l, testLogger()).Cluster(context.Background(), pts, k)
				require.NoError(t, err)
				assert.Equal(t, naiveLabels(pts, l, k), res.Labels, "k=%d", k)
			}
		})
	}
}

func TestCluster_WardGridTiesFollowIndexOrder(t *testing.T) {
	// Integer grids produce many exactly equal merge costs.
	for seed := range uint64(200) {
		r := rand.New(rand.NewPCG(seed, 42))
		xy := make([][2]float64, 10)
		for i := range xy {
			xy[i] = [2]float64{float64(r.IntN(6)), float64(r.IntN(6))}
		}
		pts := points(xy...)
		for _, k := range []int{2, 3, 4} {
			res, err := New(Ward, testLogger()).Cluster(context.Background(), pts, k)
			require.NoError(t, err)
			require.Equal(t, exactWardLabels(xy, k), res.Labels, "seed=%d k=%d points=%v", seed, k, xy)
		}
	}
}

func TestCluster_MatrixLimit(t *testing.T) {
	pts := make([]geo.GeoPoint, MaxMatrixPoints+1)
	_, err := New(Average, testLogger()).Cluster(context.Background(), pts, 2)
	require.ErrorIs(t, err, ErrTooManyPoints)
}

func TestCluster_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Ward, testLogger()).Cluster(ctx, randomPoints(3, 600), 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_NilLogger(t *testing.T) {
	e := New(Ward, nil)
	assert.Equal(t, Ward, e.Linkage())

	res, err := e.Cluster(context.Background(), points([2]float64{0, 0}, [2]float64{1, 0}), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Sizes())
}

func TestParseLinkage(t *testing.T) {
	l, err := ParseLinkage(" Ward ")
	require.NoError(t, err)
	assert.Equal(t, Ward, l)

	_, err = ParseLinkage("centroid")
	require.Error(t, err)
}

func TestResult_FeatureCollection(t *testing.T) {
	pts := points([2]float64{0, 0}, [2]float64{10, 0})
	res, err := New(Ward, testLogger()).Cluster(context.Background(), pts, 2)
	require.NoError(t, err)

	fc := res.FeatureCollection(geo.EPSG5514)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "EPSG:5514", fc.ExtraMembers["crs"])
	assert.Equal(t, 1, fc.Features[1].Properties["count"])
	assert.Equal(t, orb.MultiPoint{{10, 0}}, fc.Features[1].Geometry)
}

// naiveLabels recomputes every cluster distance from members at every step.
func naiveLabels(pts []geo.GeoPoint, l Linkage, k int) []int {
	var groups [][]int
	for i := range pts {
		groups = append(groups, []int{i})
	}
	dist := func(a, b []int) float64 {
		switch l {
		case Ward:
			sa, sb := sumOf(pts, a), sumOf(pts, b)
			na, nb := float64(len(a)), float64(len(b))
			dx, dy := nb*sa[0]-na*sb[0], nb*sa[1]-na*sb[1]
			return (dx*dx + dy*dy) / (na * nb * (na + nb))
		}
		best := math.Inf(1)
		if l == Complete {
			best = 0
		}
		sum := 0.0
		for _, i := range a {
			for _, j := range b {
				d := math.Hypot(pts[i].Point.X()-pts[j].Point.X(), pts[i].Point.Y()-pts[j].Point.Y())
				sum += d
				if l == Single {
					best = math.Min(best, d)
				} else if l == Complete {
					best = math.Max(best, d)
				}
			}
		}
		if l == Average {
			return sum / float64(len(a)*len(b))
		}
		return best
	}

	for len(groups) > k {
		// groups stay ordered by first member, so index order is label order.
		bi, bj, bd := -1, -1, math.Inf(1)
		for i := range groups {
			for j := i + 1; j < len(groups); j++ {
				if d := dist(groups[i], groups[j]); d < bd {
					bi, bj, bd = i, j, d
				}
			}
		}
		groups[bi] = append(groups[bi], groups[bj]...)
		groups = append(groups[:bj], groups[bj+1:]...)
	}

	labels := make([]int, len(pts))
	for g, members := range groups {
		for _, m := range members {
			labels[m] = g
		}
	}
	return labels
}

func sumOf(pts []geo.GeoPoint, members []int) [2]float64 {
	var x, y float64
	for _, m := range members {
		x += pts[m].Point.X()
		y += pts[m].Point.Y()
	}
	return [2]float64{x, y}
}

// exactWardLabels merges with rational Ward costs, so equal costs are equal
// and the first pair in (i, j) order wins.
func exactWardLabels(xy [][2]float64, k int) []int {
	type group struct {
		members []int
		sx, sy  *big.Rat
	}
	groups := make([]group, len(xy))
	for i, p := range xy {
		groups[i] = group{members: []int{i}, sx: new(big.Rat).SetFloat64(p[0]), sy: new(big.Rat).SetFloat64(p[1])}
	}
	cost := func(a, b group) *big.Rat {
		na := new(big.Rat).SetInt64(int64(len(a.members)))
		nb := new(big.Rat).SetInt64(int64(len(b.members)))
		dx := new(big.Rat).Sub(new(big.Rat).Mul(nb, a.sx), new(big.Rat).Mul(na, b.sx))
		dy := new(big.Rat).Sub(new(big.Rat).Mul(nb, a.sy), new(big.Rat).Mul(na, b.sy))
		num := new(big.Rat).Add(new(big.Rat).Mul(dx, dx), new(big.Rat).Mul(dy, dy))
		den := new(big.Rat).Mul(new(big.Rat).Mul(na, nb), new(big.Rat).Add(na, nb))
		return num.Quo(num, den)
	}

	for len(groups) > k {
		bi, bj := -1, -1
		var best *big.Rat
		for i := range groups {
			for j := i + 1; j < len(groups); j++ {
				if c := cost(groups[i], groups[j]); best == nil || c.Cmp(best) < 0 {
					bi, bj, best = i, j, c
				}
			}
		}
		g := groups[bi]
		g.members = append(g.members, groups[bj].members...)
		g.sx = new(big.Rat).Add(g.sx, groups[bj].sx)
		g.sy = new(big.Rat).Add(g.sy, groups[bj].sy)
		groups[bi] = g
		groups = append(groups[:bj], groups[bj+1:]...)
	}

	labels := make([]int, len(xy))
	for g, grp := range groups {
		for _, m := range grp.members {
			labels[m] = g
		}
	}
	return labels
}
