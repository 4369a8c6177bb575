package domain

// Columns is the fixed, ordered schema of a regional accident file. The files
// carry no header row, so position is the only link between a value and its name.
var Columns = []string{
	"p1", "p36", "p37", "p2a", "weekday(p2a)", "p2b", "p6", "p7", "p8", "p9", "p10", "p11", "p12", "p13a",
	"p13b", "p13c", "p14", "p15", "p16", "p17", "p18", "p19", "p20", "p21", "p22", "p23", "p24", "p27", "p28",
	"p34", "p35", "p39", "p44", "p45a", "p47", "p48a", "p49", "p50a", "p50b", "p51", "p52", "p53", "p55a",
	"p57", "p58", "a", "b", "d", "e", "f", "g", "h", "i", "j", "k", "l", "n", "o", "p", "q", "r", "s", "t", "p5a",
}

// Well-known column names.
const (
	ColID         = "p1"
	ColRoadClass  = "p36"
	ColDate       = "p2a"
	ColTime       = "p2b"
	ColKind       = "p6"
	ColCollision  = "p7"
	ColAlcohol    = "p11"
	ColCause      = "p12"
	ColFatalities = "p13a"
	ColSerious    = "p13b"
	ColLight      = "p13c"
	ColVisibility = "p19"
	ColX          = "d"
	ColY          = "e"
)

// DecimalColumns hold numbers written with a comma decimal separator.
var DecimalColumns = []string{"a", "b", "d", "e", "f", "g"}

// MeasureColumns hold integer counts and amounts.
var MeasureColumns = []string{ColFatalities, ColSerious, ColLight, "p14", "p34", "p53"}

// CategoricalColumns are recoded into dictionary-encoded categories.
var CategoricalColumns = []string{
	"p2a", "p6", "p7", "p8", "p9", "p10", "p11", "p12", "p15", "p16", "p17", "p18", "p19", "p20",
	"p21", "p22", "p23", "p24", "p27", "p28", "p35", "p36", "p39", "p44", "p45a", "p47", "p48a",
	"p49", "p50a", "p50b", "p51", "p52", "p55a", "p57", "p58", "k", "o", "p", "t", "p5a",
}

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(Columns))
	for i, c := range Columns {
		m[c] = i
	}
	return m
}()

// ColumnIndex returns the position of a named column in the raw schema.
func ColumnIndex(name string) (int, bool) {
	i, ok := columnIndex[name]
	return i, ok
}

// ColumnKind classifies how the normalizer types a column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindDecimal
	KindMeasure
	KindCategorical
)

var columnKinds = func() map[string]ColumnKind {
	m := make(map[string]ColumnKind, len(Columns))
	for _, c := range DecimalColumns {
		m[c] = KindDecimal
	}
	for _, c := range MeasureColumns {
		m[c] = KindMeasure
	}
	for _, c := range CategoricalColumns {
		m[c] = KindCategorical
	}
	return m
}()

// KindOf reports the typed representation used for a column.
func KindOf(name string) ColumnKind {
	return columnKinds[name]
}
