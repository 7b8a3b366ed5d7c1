// Package cloudmask drops cloud, cloud-shadow, and other unwanted pixels from a
// scene using its categorical scene-classification band.
package cloudmask

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/snowroute/internal/raster"
)

// DefaultBand is the Sentinel-2 scene classification band.
const DefaultBand = "SCL"

// Sentinel-2 SCL codes commonly excluded.
const (
	CodeCloudShadow = 3
	CodeWater       = 6
	CodeCloudMedium = 8
	CodeCloudHigh   = 9
	CodeThinCirrus  = 10
)

// DefaultExclude drops cloud shadow and medium/high probability cloud.
var DefaultExclude = []int{CodeCloudShadow, CodeCloudMedium, CodeCloudHigh}

// Masker builds and applies quality masks.
type Masker struct {
	band    string
	exclude map[int]struct{}
}

// New creates a Masker reading codes from band and dropping every code in exclude.
func New(band string, exclude []int) *Masker {
	m := &Masker{band: band, exclude: make(map[int]struct{}, len(exclude))}
	for _, code := range exclude {
		m.exclude[code] = struct{}{}
	}
	return m
}

// Band returns the quality band name.
func (m *Masker) Band() string { return m.band }

// Excluded returns the dropped codes in ascending order.
func (m *Masker) Excluded() []int {
	codes := make([]int, 0, len(m.exclude))
	for code := range m.exclude {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Mask keeps a pixel only when its quality code is defined and not excluded.
func (m *Masker) Mask(s *raster.Scene) (raster.Mask, error) {
	q, err := s.Band(m.band)
	if err != nil {
		return raster.Mask{}, eris.Wrapf(err, "cloudmask: scene %s", s.ID)
	}
	keep := make([]bool, q.Len())
	for i := range keep {
		v, ok := q.At(i)
		if !ok {
			continue
		}
		_, drop := m.exclude[int(math.Round(v))]
		keep[i] = !drop
	}
	return raster.Mask{Grid: s.Grid, Keep: keep}, nil
}

// Apply returns a copy of s with every band undefined wherever the mask
// drops the pixel. Masked pixels become no data, never zero.
func (m *Masker) Apply(s *raster.Scene) (*raster.Scene, error) {
	mask, err := m.Mask(s)
	if err != nil {
		return nil, err
	}
	img := &raster.Image{Grid: s.Grid, Bands: make(map[string]*raster.Band, len(s.Bands))}
	for name := range s.Bands {
		src, err := s.Band(name)
		if err != nil {
			return nil, eris.Wrapf(err, "cloudmask: scene %s", s.ID)
		}
		dst := src.Clone()
		for i, keep := range mask.Keep {
			if !keep {
				dst.Unset(i)
			}
		}
		img.Bands[name] = dst
	}
	return s.WithImage(img), nil
}

// ApplyAll masks every scene, preserving order.
func (m *Masker) ApplyAll(scenes []*raster.Scene) ([]*raster.Scene, error) {
	out := make([]*raster.Scene, 0, len(scenes))
	for _, s := range scenes {
		masked, err := m.Apply(s)
		if err != nil {
			return nil, err
		}
		out = append(out, masked)
	}
	return out, nil
}
