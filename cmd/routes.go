package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/snowroute/internal/geo"
	"github.com/sells-group/snowroute/internal/route"
)

// loadFragments reads route fragments from a shapefile or a GeoJSON
// FeatureCollection, chosen by file extension.
func loadFragments(path, nameField string) ([]route.Fragment, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return route.ReadShapefile(path, nameField)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open routes %s", path)
		}
		defer f.Close() //nolint:errcheck
		return route.ReadGeoJSON(f, nameField)
	default:
		return nil, eris.Errorf("unsupported route file %q (want .shp or .geojson)", path)
	}
}

var routesFile string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the merged routes in a route file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := routesFile
		if path == "" {
			path = cfg.Routes.File
		}
		if path == "" {
			return eris.New("no route file given (--file or routes.file)")
		}

		fragments, err := loadFragments(path, cfg.Routes.NameField)
		if err != nil {
			return err
		}
		merged, err := route.Merge(fragments)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROUTE\tFRAGMENTS\tPARTS\tEXTENT")
		for _, m := range merged {
			b := geo.Bounds(m.Geometry, 0)
			extent := "-"
			if !b.IsEmpty() {
				extent = fmt.Sprintf("%.0f,%.0f %.0f,%.0f", b.Min(0), b.Min(1), b.Max(0), b.Max(1))
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", m.Name, m.Fragments, m.Geometry.NumGeoms(), extent)
		}
		return w.Flush()
	},
}

func init() {
	routesCmd.Flags().StringVar(&routesFile, "file", "", "route file (default from config)")
	rootCmd.AddCommand(routesCmd)
}
