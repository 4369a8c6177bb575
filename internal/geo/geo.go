// Package geo places accident rows in a planar reference system.
package geo

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

// CRS names a coordinate reference system.
type CRS string

// EPSG5514 is S-JTSK / Krovak East North, the planar system the source
// coordinates are recorded in. Units are meters.
const EPSG5514 CRS = "EPSG:5514"

var supported = map[CRS]bool{EPSG5514: true}

// ParseCRS accepts "EPSG:5514" in any letter case.
func ParseCRS(s string) (CRS, error) {
	c := CRS(strings.ToUpper(strings.TrimSpace(s)))
	if !supported[c] {
		return "", fmt.Errorf("unsupported CRS %q", s)
	}
	return c, nil
}

// GeoPoint is one projected accident.
type GeoPoint struct {
	Row    int // index into the source table
	ID     string
	Region domain.Region
	Point  orb.Point
	CRS    CRS
}

// Projection is the result of projecting a view.
type Projection struct {
	CRS    CRS
	Points []GeoPoint
	// Excluded counts rows without a known coordinate on either axis.
	Excluded int
}

// Project converts every row of v with known d and e values into a point
// tagged with crs, in view order. Rows missing a coordinate are counted,
// not reported as errors.
func Project(v domain.View, crs CRS) Projection {
	t := v.Table()
	p := Projection{CRS: crs, Points: make([]GeoPoint, 0, v.Len())}
	for k := 0; k < v.Len(); k++ {
		i := v.Row(k)
		c := t.Coordinates(i)
		if !c.Valid() {
			p.Excluded++
			continue
		}
		p.Points = append(p.Points, GeoPoint{
			Row:    i,
			ID:     t.ID(i),
			Region: t.Region(i),
			Point:  orb.Point{c.X.Value, c.Y.Value},
			CRS:    crs,
		})
	}
	return p
}

// Bound is the bounding box of all points. It is empty when there are none.
func (p Projection) Bound() orb.Bound {
	if len(p.Points) == 0 {
		return orb.Bound{}
	}
	mp := make(orb.MultiPoint, len(p.Points))
	for i, gp := range p.Points {
		mp[i] = gp.Point
	}
	return mp.Bound()
}

// FeatureCollection encodes the points as GeoJSON. The CRS is carried as a
// foreign member because GeoJSON assumes WGS84.
func (p Projection) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"crs": string(p.CRS)}
	for _, gp := range p.Points {
		f := geojson.NewFeature(gp.Point)
		f.ID = gp.ID
		f.Properties["region"] = gp.Region.String()
		f.Properties["row"] = gp.Row
		fc.Append(f)
	}
	return fc
}

// UnderInfluence matches accidents where alcohol or drugs were involved
// (p11 of 3 or more).
func UnderInfluence() domain.Predicate {
	return domain.CategoryAtLeast(domain.ColAlcohol, 3)
}

// InfluenceByYear projects the accidents of a region involving alcohol or
// drugs, one projection per requested year.
func InfluenceByYear(t *domain.Table, region domain.Region, crs CRS, years []int) map[int]Projection {
	base := t.Where(domain.And(domain.InRegions(region), UnderInfluence()))
	out := make(map[int]Projection, len(years))
	for _, y := range years {
		out[y] = Project(base.Where(domain.InYear(y)), crs)
	}
	return out
}
