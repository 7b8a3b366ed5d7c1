// Package report renders run results as a terminal table, CSV, styled
// GeoJSON, a YAML summary, or an xlsx workbook.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/snowroute/internal/danger"
	"github.com/sells-group/snowroute/internal/snow"
	"github.com/sells-group/snowroute/internal/store"
)

// Formats accepted by Write.
const (
	FormatTable   = "table"
	FormatCSV     = "csv"
	FormatGeoJSON = "geojson"
	FormatYAML    = "yaml"
	FormatXLSX    = "xlsx"
)

// Write renders run in the named format.
func Write(w io.Writer, format string, run *store.Run) error {
	switch format {
	case FormatTable, "":
		return WriteTable(w, run)
	case FormatCSV:
		return WriteCSV(w, run)
	case FormatGeoJSON:
		return WriteGeoJSON(w, run)
	case FormatYAML:
		return WriteYAML(w, run)
	case FormatXLSX:
		return WriteXLSX(w, run)
	}
	return eris.Errorf("report: unknown format %q", format)
}

func styleColor(rs store.RouteScore) string {
	if rs.IsSafest {
		return danger.ColorSafest
	}
	return danger.ColorOther
}

// lineStyle is the per-feature style object of the GeoJSON output.
type lineStyle struct {
	Color     string `json:"color"`
	Width     int    `json:"width"`
	FillColor string `json:"fillColor"`
}

// routeStyle draws routes as unfilled lines.
func routeStyle(rs store.RouteScore) lineStyle {
	return lineStyle{Color: styleColor(rs), Width: 3, FillColor: "00000000"}
}

func legend(run *store.Run) []snow.LegendEntry {
	return snow.LegendFor(snow.BreaksOrDefault(run.Params.Breaks))
}

func formatIndex(rs store.RouteScore) string {
	if !rs.Covered {
		return "n/a"
	}
	return strconv.FormatFloat(rs.Index, 'f', 3, 64)
}

// WriteTable writes a ranked, human-readable table.
func WriteTable(w io.Writer, run *store.Run) error {
	fmt.Fprintf(w, "Run %s  %s  scenes=%d\n\n", run.ID, run.CreatedAt.Format(time.RFC3339), run.Scenes)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"RANK", "ROUTE", "INDEX"}
	for _, e := range legend(run) {
		header = append(header, e.Label)
	}
	fmt.Fprintln(tw, strings.Join(append(header, "SAFEST"), "\t"))
	for _, rs := range run.Routes {
		safest := ""
		if rs.IsSafest {
			safest = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			rs.Rank, rs.Name, formatIndex(rs),
			rs.Histogram[0], rs.Histogram[1], rs.Histogram[2], rs.Histogram[3],
			safest,
		)
	}
	return eris.Wrap(tw.Flush(), "report: write table")
}

var csvHeader = []string{
	"rank", "name", "danger_index", "covered", "is_safest", "style_color",
	"class_1", "class_2", "class_3", "class_4",
}

// WriteCSV writes one row per route in rank order.
func WriteCSV(w io.Writer, run *store.Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, rs := range run.Routes {
		row := []string{
			strconv.Itoa(rs.Rank),
			rs.Name,
			strconv.FormatFloat(rs.Index, 'g', -1, 64),
			strconv.FormatBool(rs.Covered),
			strconv.FormatBool(rs.IsSafest),
			styleColor(rs),
			strconv.FormatInt(rs.Histogram[0], 10),
			strconv.FormatInt(rs.Histogram[1], 10),
			strconv.FormatInt(rs.Histogram[2], 10),
			strconv.FormatInt(rs.Histogram[3], 10),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "report: write csv row %q", rs.Name)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// FeatureCollection builds the styled route features. Routes without
// geometry get an empty geometry collection; uncovered routes carry the
// no-coverage sentinel as their danger index.
func FeatureCollection(run *store.Run) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(run.Routes))}
	for _, rs := range run.Routes {
		g := rs.Geometry
		if g == nil {
			g = geom.NewGeometryCollection()
		}
		props := map[string]any{
			"name":        rs.Name,
			"rank":        rs.Rank,
			"covered":     rs.Covered,
			"isSafest":    rs.IsSafest,
			"styleColor":  styleColor(rs),
			"style":       routeStyle(rs),
			"histogram":   rs.Histogram,
			"dangerIndex": rs.Index,
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         rs.Name,
			Geometry:   g,
			Properties: props,
		})
	}
	return fc
}

// WriteGeoJSON writes the routes as a FeatureCollection whose features carry
// styleColor and style properties.
func WriteGeoJSON(w io.Writer, run *store.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(FeatureCollection(run)), "report: write geojson")
}

// Summary is the YAML and JSON view of a run.
type Summary struct {
	RunID     string             `json:"run_id" yaml:"run_id"`
	CreatedAt time.Time          `json:"created_at" yaml:"created_at"`
	Scenes    int                `json:"scenes" yaml:"scenes"`
	MinIndex  float64            `json:"min_index" yaml:"min_index"`
	Safest    []string           `json:"safest" yaml:"safest"`
	Params    store.Params       `json:"params" yaml:"params"`
	Legend    []snow.LegendEntry `json:"legend" yaml:"legend"`
	Routes    []SummaryRoute     `json:"routes" yaml:"routes"`
}

// SummaryRoute is one route in a Summary.
type SummaryRoute struct {
	Rank        int      `json:"rank" yaml:"rank"`
	Name        string   `json:"name" yaml:"name"`
	DangerIndex float64  `json:"danger_index" yaml:"danger_index"`
	Covered     bool     `json:"covered" yaml:"covered"`
	IsSafest    bool     `json:"is_safest" yaml:"is_safest"`
	StyleColor  string   `json:"style_color" yaml:"style_color"`
	Pixels      [4]int64 `json:"pixels" yaml:"pixels,flow"`
}

// NewSummary builds the summary of run.
func NewSummary(run *store.Run) Summary {
	s := Summary{
		RunID:     run.ID,
		CreatedAt: run.CreatedAt,
		Scenes:    run.Scenes,
		MinIndex:  run.MinIndex,
		Safest:    run.Safest(),
		Params:    run.Params,
		Legend:    legend(run),
		Routes:    make([]SummaryRoute, 0, len(run.Routes)),
	}
	for _, rs := range run.Routes {
		s.Routes = append(s.Routes, SummaryRoute{
			Rank:        rs.Rank,
			Name:        rs.Name,
			DangerIndex: rs.Index,
			Covered:     rs.Covered,
			IsSafest:    rs.IsSafest,
			StyleColor:  styleColor(rs),
			Pixels:      rs.Histogram,
		})
	}
	return s
}

// WriteYAML writes the run summary as YAML.
func WriteYAML(w io.Writer, run *store.Run) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewSummary(run)); err != nil {
		return eris.Wrap(err, "report: write yaml")
	}
	return eris.Wrap(enc.Close(), "report: close yaml")
}
