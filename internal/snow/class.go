package snow

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/snowroute/internal/raster"
)

// Class is a snow-cover fraction bin. Valid classes are 1 through 4.
type Class uint8

// Snow-cover classes, ordered by increasing fraction.
const (
	Sparse    Class = 1 // fraction < 25
	Patchy    Class = 2 // 25 <= fraction < 50
	Extensive Class = 3 // 50 <= fraction < 75
	Full      Class = 4 // fraction >= 75
)

// NumClasses is the number of snow-cover classes.
const NumClasses = 4

// Valid reports whether c is one of the four classes.
func (c Class) Valid() bool { return c >= Sparse && c <= Full }

// Breaks are the three ascending fraction breakpoints separating the classes.
type Breaks [NumClasses - 1]float64

// DefaultBreaks splits the fraction range into quarters.
var DefaultBreaks = Breaks{25, 50, 75}

// NewBreaks validates b as three strictly ascending values inside (0, 100).
func NewBreaks(b []float64) (Breaks, error) {
	var out Breaks
	if len(b) != len(out) {
		return out, eris.Errorf("snow: need %d breakpoints, got %d", len(out), len(b))
	}
	if !sort.Float64sAreSorted(b) {
		return out, eris.Errorf("snow: breakpoints %v are not ascending", b)
	}
	for i, v := range b {
		if v <= 0 || v >= 100 {
			return out, eris.Errorf("snow: breakpoint %g outside (0, 100)", v)
		}
		if i > 0 && v == b[i-1] {
			return out, eris.Errorf("snow: duplicate breakpoint %g", v)
		}
		out[i] = v
	}
	return out, nil
}

// Classify bins a snow fraction. Each breakpoint belongs to the class above it.
func Classify(f float64, breaks Breaks) Class {
	for i, b := range breaks {
		if f < b {
			return Class(i + 1)
		}
	}
	return Full
}

// ClassRaster holds one class per pixel; zero marks an undefined pixel.
type ClassRaster struct {
	Grid    raster.Grid
	Classes []Class
}

// At returns the class of pixel i and whether it is defined.
func (cr *ClassRaster) At(i int) (Class, bool) {
	c := cr.Classes[i]
	return c, c.Valid()
}

// Histogram counts every defined pixel of the raster.
func (cr *ClassRaster) Histogram() Histogram {
	var h Histogram
	for _, c := range cr.Classes {
		h.Add(c, 1)
	}
	return h
}

// ClassifyRaster bins every defined fraction pixel. Undefined stays undefined.
func ClassifyRaster(grid raster.Grid, frac *raster.Band, breaks Breaks) *ClassRaster {
	out := &ClassRaster{Grid: grid, Classes: make([]Class, frac.Len())}
	for i := range out.Classes {
		if f, ok := frac.At(i); ok {
			out.Classes[i] = Classify(f, breaks)
		}
	}
	return out
}

// Histogram is a per-class pixel count. Absent classes count zero.
type Histogram [NumClasses]int64

// Add adds n to class c. Invalid classes are ignored.
func (h *Histogram) Add(c Class, n int64) {
	if c.Valid() {
		h[c-1] += n
	}
}

// Count returns the count for class c.
func (h Histogram) Count(c Class) int64 {
	if !c.Valid() {
		return 0
	}
	return h[c-1]
}

// Total returns the sum over all classes.
func (h Histogram) Total() int64 {
	var n int64
	for _, v := range h {
		n += v
	}
	return n
}

// LegendEntry describes how one class is displayed.
type LegendEntry struct {
	Class Class  `json:"class" yaml:"class"`
	Color string `json:"color" yaml:"color"`
	Label string `json:"label" yaml:"label"`
}

// classColors is the display palette, indexed by class-1.
var classColors = [NumClasses]string{"#D3D3D3", "#CCCCFF", "#4169E1", "#E0FFFF"}

// Labels names each class by its fraction range, e.g. "25-50%".
func (b Breaks) Labels() [NumClasses]string {
	var out [NumClasses]string
	lo := 0.0
	for i := range out {
		hi := 100.0
		if i < len(b) {
			hi = b[i]
		}
		out[i] = fmt.Sprintf("%s-%s%%", formatPct(lo), formatPct(hi))
		lo = hi
	}
	return out
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Legend returns the display palette for the default breaks.
func Legend() []LegendEntry {
	return LegendFor(DefaultBreaks)
}

// LegendFor returns the display palette labelled by b.
func LegendFor(b Breaks) []LegendEntry {
	labels := b.Labels()
	out := make([]LegendEntry, NumClasses)
	for i := range out {
		out[i] = LegendEntry{Class: Class(i + 1), Color: classColors[i], Label: labels[i]}
	}
	return out
}

// BreaksOrDefault validates b, falling back to DefaultBreaks when b is empty
// or malformed.
func BreaksOrDefault(b []float64) Breaks {
	out, err := NewBreaks(b)
	if err != nil {
		return DefaultBreaks
	}
	return out
}
