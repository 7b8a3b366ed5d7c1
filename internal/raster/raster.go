// Package raster holds the in-memory grid, band, and scene types shared by the
// masking, compositing, and classification stages.
package raster

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// alignTolerance is the fraction of a pixel two grids may disagree by and
// still be treated as aligned.
const alignTolerance = 1e-6

// Grid is a north-up pixel grid in a projected CRS with linear units.
// X0/Y0 is the upper-left corner of pixel (0, 0).
type Grid struct {
	X0        float64 `msgpack:"x0" json:"x0"`
	Y0        float64 `msgpack:"y0" json:"y0"`
	PixelSize float64 `msgpack:"pixel_size" json:"pixel_size"`
	Cols      int     `msgpack:"cols" json:"cols"`
	Rows      int     `msgpack:"rows" json:"rows"`
}

// GridFor returns the smallest grid of the given pixel size covering bounds,
// with its origin snapped to a multiple of the pixel size.
func GridFor(bounds *geom.Bounds, pixelSize float64) Grid {
	x0 := math.Floor(bounds.Min(0)/pixelSize) * pixelSize
	y0 := math.Ceil(bounds.Max(1)/pixelSize) * pixelSize
	x1 := math.Ceil(bounds.Max(0)/pixelSize) * pixelSize
	y1 := math.Floor(bounds.Min(1)/pixelSize) * pixelSize
	return Grid{
		X0:        x0,
		Y0:        y0,
		PixelSize: pixelSize,
		Cols:      int(math.Round((x1 - x0) / pixelSize)),
		Rows:      int(math.Round((y0 - y1) / pixelSize)),
	}
}

// Len returns the number of pixels in the grid.
func (g Grid) Len() int { return g.Cols * g.Rows }

// Index returns the flat index of pixel (c, r).
func (g Grid) Index(c, r int) int { return r*g.Cols + c }

// Center returns the map coordinate of the centre of pixel (c, r).
func (g Grid) Center(c, r int) (float64, float64) {
	return g.X0 + (float64(c)+0.5)*g.PixelSize, g.Y0 - (float64(r)+0.5)*g.PixelSize
}

// Locate returns the pixel containing the map coordinate (x, y).
func (g Grid) Locate(x, y float64) (int, int, bool) {
	c := int(math.Floor((x - g.X0) / g.PixelSize))
	r := int(math.Floor((g.Y0 - y) / g.PixelSize))
	if c < 0 || r < 0 || c >= g.Cols || r >= g.Rows {
		return 0, 0, false
	}
	return c, r, true
}

// Bounds returns the map extent of the grid.
func (g Grid) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(
		g.X0, g.Y0-float64(g.Rows)*g.PixelSize,
		g.X0+float64(g.Cols)*g.PixelSize, g.Y0,
	)
}

// Offset returns the pixel offset (dc, dr) such that pixel (c, r) of g is
// pixel (c+dc, r+dr) of other. Both grids must share a pixel size and have
// origins a whole number of pixels apart.
func (g Grid) Offset(other Grid) (int, int, error) {
	if math.Abs(g.PixelSize-other.PixelSize) > alignTolerance*g.PixelSize {
		return 0, 0, eris.Errorf("raster: pixel size %g does not match %g", other.PixelSize, g.PixelSize)
	}
	dc := (g.X0 - other.X0) / g.PixelSize
	dr := (other.Y0 - g.Y0) / g.PixelSize
	if math.Abs(dc-math.Round(dc)) > alignTolerance || math.Abs(dr-math.Round(dr)) > alignTolerance {
		return 0, 0, eris.Errorf("raster: grid origin (%g, %g) is not aligned to (%g, %g)", other.X0, other.Y0, g.X0, g.Y0)
	}
	return int(math.Round(dc)), int(math.Round(dr)), nil
}

// Band is a single raster band. A pixel whose Valid entry is false is
// undefined (no data); its value is meaningless.
type Band struct {
	Values []float64 `msgpack:"values"`
	Valid  []bool    `msgpack:"valid"`
}

// NewBand returns a band of n undefined pixels.
func NewBand(n int) *Band {
	return &Band{Values: make([]float64, n), Valid: make([]bool, n)}
}

// NewBandFrom returns a band where every finite pixel is defined. NaN and
// infinite values are no data.
func NewBandFrom(values []float64) *Band {
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	b := &Band{Values: values, Valid: valid}
	b.DropNonFinite()
	return b
}

// DropNonFinite marks NaN and infinite pixels undefined and returns how many
// it dropped.
func (b *Band) DropNonFinite() int {
	n := 0
	for i, v := range b.Values {
		if b.Valid[i] && (math.IsNaN(v) || math.IsInf(v, 0)) {
			b.Unset(i)
			n++
		}
	}
	return n
}

// Len returns the number of pixels.
func (b *Band) Len() int { return len(b.Values) }

// At returns the value at i and whether it is defined.
func (b *Band) At(i int) (float64, bool) {
	return b.Values[i], b.Valid[i]
}

// Set defines pixel i.
func (b *Band) Set(i int, v float64) {
	b.Values[i] = v
	b.Valid[i] = true
}

// Unset marks pixel i undefined.
func (b *Band) Unset(i int) {
	b.Values[i] = 0
	b.Valid[i] = false
}

// ValidCount returns the number of defined pixels.
func (b *Band) ValidCount() int {
	n := 0
	for _, ok := range b.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (b *Band) Clone() *Band {
	out := &Band{
		Values: make([]float64, len(b.Values)),
		Valid:  make([]bool, len(b.Valid)),
	}
	copy(out.Values, b.Values)
	copy(out.Valid, b.Valid)
	return out
}

// Image is a set of named bands on one grid.
type Image struct {
	Grid  Grid             `msgpack:"grid"`
	Bands map[string]*Band `msgpack:"bands"`
}

// NewImage returns an image on grid with the named bands, every pixel undefined.
func NewImage(grid Grid, names ...string) *Image {
	img := &Image{Grid: grid, Bands: make(map[string]*Band, len(names))}
	for _, name := range names {
		img.Bands[name] = NewBand(grid.Len())
	}
	return img
}

// Band returns the named band.
func (img *Image) Band(name string) (*Band, error) {
	b, ok := img.Bands[name]
	if !ok {
		return nil, eris.Errorf("raster: band %q not present", name)
	}
	if b.Len() != img.Grid.Len() {
		return nil, eris.Errorf("raster: band %q has %d pixels, grid has %d", name, b.Len(), img.Grid.Len())
	}
	return b, nil
}

// DropNonFinite applies Band.DropNonFinite to every band and returns the
// total dropped.
func (img *Image) DropNonFinite() int {
	n := 0
	for _, b := range img.Bands {
		if b != nil && len(b.Valid) == len(b.Values) {
			n += b.DropNonFinite()
		}
	}
	return n
}

// Scene is one acquisition: an image tagged with its date and cloud cover.
type Scene struct {
	Image
	ID       string    `msgpack:"id"`
	Acquired time.Time `msgpack:"acquired"`
	CloudPct float64   `msgpack:"cloud_pct"`
}

// Footprint returns the scene's map extent.
func (s *Scene) Footprint() *geom.Bounds { return s.Grid.Bounds() }

// WithImage returns a copy of the scene metadata carrying img.
func (s *Scene) WithImage(img *Image) *Scene {
	return &Scene{Image: *img, ID: s.ID, Acquired: s.Acquired, CloudPct: s.CloudPct}
}

// Align resamples img onto grid by whole-pixel offset. Pixels of grid that
// fall outside img are undefined.
func Align(img *Image, grid Grid) (*Image, error) {
	if img.Grid == grid {
		return img, nil
	}
	dc, dr, err := grid.Offset(img.Grid)
	if err != nil {
		return nil, err
	}
	out := &Image{Grid: grid, Bands: make(map[string]*Band, len(img.Bands))}
	for name, src := range img.Bands {
		dst := NewBand(grid.Len())
		for r := 0; r < grid.Rows; r++ {
			sr := r + dr
			if sr < 0 || sr >= img.Grid.Rows {
				continue
			}
			for c := 0; c < grid.Cols; c++ {
				sc := c + dc
				if sc < 0 || sc >= img.Grid.Cols {
					continue
				}
				if v, ok := src.At(img.Grid.Index(sc, sr)); ok {
					dst.Set(grid.Index(c, r), v)
				}
			}
		}
		out.Bands[name] = dst
	}
	return out, nil
}

// Mask is a per-pixel keep flag on a grid.
type Mask struct {
	Grid Grid
	Keep []bool
}

// Kept returns the number of kept pixels.
func (m Mask) Kept() int {
	n := 0
	for _, k := range m.Keep {
		if k {
			n++
		}
	}
	return n
}
