package aggregate

import (
	"strconv"

	"github.com/couchcryptid/accident-data-etl/internal/domain"
)

// Summary names.
const (
	SummaryVisibility   = "visibility_by_region"
	SummaryCollision    = "collision_type_by_month"
	SummaryConsequences = "consequences_by_month"
	SummaryFatalities   = "fatal_accidents_by_region_year"
	SummaryCauseGroups  = "fatal_cause_groups"
	SummaryFatalCauses  = "fatal_causes"
)

// Visibility buckets of p19: daylight and night, each unimpaired or impaired.
const (
	VisibilityDayClear    = "1"
	VisibilityDayImpaired = "2 and 3"
	VisibilityNightClear  = "4 and 6"
	VisibilityNightPoor   = "5 and 7"
)

// VisibilityBucket maps a p19 code to its visibility section.
func VisibilityBucket(l domain.Level) (KeyValue, bool) {
	switch l.Value {
	case "1":
		return Text(VisibilityDayClear), true
	case "2", "3":
		return Text(VisibilityDayImpaired), true
	case "4", "6":
		return Text(VisibilityNightClear), true
	case "5", "7":
		return Text(VisibilityNightPoor), true
	default:
		return KeyValue{}, false
	}
}

var collisionTypes = map[string]string{
	"1": "head-on",
	"2": "side",
	"3": "sideswipe",
	"4": "rear-end",
}

// CollisionBucket maps a p7 code of a collision between moving vehicles to
// its name.
func CollisionBucket(l domain.Level) (KeyValue, bool) {
	name, ok := collisionTypes[l.Value]
	if !ok {
		return KeyValue{}, false
	}
	return Text(name), true
}

// causeGroups are the p12 main-cause ranges of the reporting form.
var causeGroups = []struct {
	lo, hi int
	label  string
}{
	{100, 100, "100"},
	{201, 209, "201-209"},
	{301, 311, "301-311"},
	{401, 414, "401-414"},
	{501, 516, "501-516"},
	{601, 615, "601-615"},
}

// CauseGroup maps a p12 code to its main-cause group. Codes outside every
// group are null.
func CauseGroup(l domain.Level) (KeyValue, bool) {
	n, err := strconv.Atoi(l.Value)
	if err != nil {
		return KeyValue{}, false
	}
	for _, g := range causeGroups {
		if n >= g.lo && n <= g.hi {
			return KeyValue{Label: g.label, Num: int64(g.lo), Numeric: true}, true
		}
	}
	return KeyValue{}, false
}

func inRegions(regions []domain.Region) domain.Predicate {
	if len(regions) == 0 {
		return func(*domain.Table, int) bool { return true }
	}
	return domain.InRegions(regions...)
}

// Fatal matches accidents with at least one death.
func Fatal() domain.Predicate {
	return domain.DecimalAbove(domain.ColFatalities, 0)
}

// VisibilityByRegion counts accidents per region and visibility section.
// An empty region list means every region.
func VisibilityByRegion(t *domain.Table, regions []domain.Region) Summary {
	return Run(SummaryVisibility, t.Where(inRegions(regions)), Query{
		GroupBy:  []Dimension{Region(), Bucket("visibility", domain.ColVisibility, VisibilityBucket)},
		Measures: []Measure{Count()},
	})
}

// CollisionTypeByMonth counts collisions of moving vehicles per region, month
// of year and collision type. Accidents that were not such a collision
// (p7 = 0) are excluded.
func CollisionTypeByMonth(t *domain.Table, regions []domain.Region) Summary {
	movingCollision := func(t *domain.Table, i int) bool {
		l, ok := t.Category(domain.ColCollision, i)
		return ok && l.Value != "" && l.Value != "0"
	}
	return Run(SummaryCollision, t.Where(domain.And(inRegions(regions), movingCollision)), Query{
		GroupBy:  []Dimension{Region(), Month(), Bucket("collision", domain.ColCollision, CollisionBucket)},
		Measures: []Measure{Count()},
	})
}

// ConsequencesByMonth sums deaths, serious and light injuries per region and
// calendar month.
func ConsequencesByMonth(t *domain.Table, regions []domain.Region) Summary {
	return Run(SummaryConsequences, t.Where(inRegions(regions)), Query{
		GroupBy: []Dimension{Region(), YearMonth()},
		Measures: []Measure{
			Sum(domain.ColFatalities),
			Sum(domain.ColSerious),
			Sum(domain.ColLight),
		},
	})
}

// FatalAccidentsByRegionYear counts accidents with a death per region and year
// and totals the deaths.
func FatalAccidentsByRegionYear(t *domain.Table) Summary {
	return Run(SummaryFatalities, t.Where(Fatal()), Query{
		GroupBy:  []Dimension{Region(), Year()},
		Measures: []Measure{Count(), Sum(domain.ColFatalities)},
	})
}

// CauseGroups counts accidents with a death per main-cause group.
func CauseGroups(t *domain.Table) Summary {
	return Run(SummaryCauseGroups, t.Where(Fatal()), Query{
		GroupBy:  []Dimension{Bucket("cause_group", domain.ColCause, CauseGroup)},
		Measures: []Measure{Count()},
	})
}

// FatalCauses counts accidents with a death per individual main cause,
// keeping only causes seen more than minCount times.
func FatalCauses(t *domain.Table, minCount int) Summary {
	s := Run(SummaryFatalCauses, t.Where(Fatal()), Query{
		GroupBy:  []Dimension{Category(domain.ColCause)},
		Measures: []Measure{Count()},
	})
	kept := s.Rows[:0]
	for _, r := range s.Rows {
		if r.Values[0] > float64(minCount) {
			kept = append(kept, r)
		}
	}
	s.Rows = kept
	return s
}
