package report

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/snowroute/internal/store"
)

// Sheet names written by WriteXLSX.
const (
	SheetRoutes = "Routes"
	SheetLegend = "Legend"
)

// WriteXLSX writes a workbook with the ranked routes and the class legend.
func WriteXLSX(w io.Writer, run *store.Run) error {
	f := xlsx.NewFile()

	routes, err := f.AddSheet(SheetRoutes)
	if err != nil {
		return eris.Wrap(err, "xlsx: add routes sheet")
	}
	addStrings(routes.AddRow(), csvHeader...)
	for _, rs := range run.Routes {
		row := routes.AddRow()
		row.AddCell().SetInt(rs.Rank)
		row.AddCell().SetString(rs.Name)
		row.AddCell().SetFloat(rs.Index)
		row.AddCell().SetBool(rs.Covered)
		row.AddCell().SetBool(rs.IsSafest)
		row.AddCell().SetString(styleColor(rs))
		for _, n := range rs.Histogram {
			row.AddCell().SetInt64(n)
		}
	}

	legendSheet, err := f.AddSheet(SheetLegend)
	if err != nil {
		return eris.Wrap(err, "xlsx: add legend sheet")
	}
	addStrings(legendSheet.AddRow(), "class", "label", "color")
	for _, e := range legend(run) {
		row := legendSheet.AddRow()
		row.AddCell().SetInt(int(e.Class))
		addStrings(row, e.Label, e.Color)
	}

	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
