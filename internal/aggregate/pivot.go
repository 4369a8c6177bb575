package aggregate

import (
	"fmt"
	"slices"
)

// PivotTable spreads one measure of a two-dimensional result over a grid.
type PivotTable struct {
	RowKeys []KeyValue  `json:"row_keys"`
	ColKeys []KeyValue  `json:"col_keys"`
	Cells   [][]float64 `json:"cells"`
}

// Pivot lays out rows with key component rowDim down the side and colDim
// across the top. Combinations absent from rows hold fill. Row and column
// keys are sorted like aggregate keys.
func Pivot(rows []AggregateRow, rowDim, colDim, measure int, fill float64) (PivotTable, error) {
	var pt PivotTable
	for _, r := range rows {
		if rowDim >= len(r.Key) || colDim >= len(r.Key) || measure >= len(r.Values) {
			return PivotTable{}, fmt.Errorf("pivot: row has %d keys and %d values", len(r.Key), len(r.Values))
		}
		pt.RowKeys = appendKey(pt.RowKeys, r.Key[rowDim])
		pt.ColKeys = appendKey(pt.ColKeys, r.Key[colDim])
	}
	slices.SortFunc(pt.RowKeys, KeyValue.Compare)
	slices.SortFunc(pt.ColKeys, KeyValue.Compare)

	pt.Cells = make([][]float64, len(pt.RowKeys))
	for i := range pt.Cells {
		pt.Cells[i] = make([]float64, len(pt.ColKeys))
		for j := range pt.Cells[i] {
			pt.Cells[i][j] = fill
		}
	}
	// Rows that collapse onto the same cell are summed.
	set := make(map[[2]int]bool, len(rows))
	for _, r := range rows {
		cell := [2]int{indexOf(pt.RowKeys, r.Key[rowDim]), indexOf(pt.ColKeys, r.Key[colDim])}
		if !set[cell] {
			pt.Cells[cell[0]][cell[1]] = 0
			set[cell] = true
		}
		pt.Cells[cell[0]][cell[1]] += r.Values[measure]
	}
	return pt, nil
}

// Cell returns the value at the given keys and whether both keys exist.
func (pt PivotTable) Cell(row, col KeyValue) (float64, bool) {
	i, j := indexOf(pt.RowKeys, row), indexOf(pt.ColKeys, col)
	if i < 0 || j < 0 {
		return 0, false
	}
	return pt.Cells[i][j], true
}

func appendKey(keys []KeyValue, k KeyValue) []KeyValue {
	if indexOf(keys, k) >= 0 {
		return keys
	}
	return append(keys, k)
}

func indexOf(keys []KeyValue, k KeyValue) int {
	return slices.IndexFunc(keys, func(o KeyValue) bool { return o.Compare(k) == 0 && o.Label == k.Label })
}
