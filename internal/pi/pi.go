// Package pi computes Picture Info: the once-per-configuration geometry
// (component subsampling, band layout, precinct/slice counts, band
// priorities) that every later stage consumes read-only.
//
// The teacher's tcd.go computes comparable geometry (tile -> resolution
// -> band -> code-block bounds) eagerly at InitTile time; pi.New plays
// the same role for the flatter band/precinct/slice structure a JPEG XS
// frame uses in place of JPEG 2000's tile/resolution/code-block tree.
package pi

import (
	"fmt"

	"github.com/pkg/errors"
)

// GroupSize is the number of coefficients per GCLI group.
const GroupSize = 4

// SignificanceGroupSize is the number of GCLI values per significance
// super-group.
const SignificanceGroupSize = 8

// ColourFormat enumerates the supported component subsampling layouts.
type ColourFormat int

const (
	ColourYUV400 ColourFormat = iota
	ColourYUV420
	ColourYUV422
	ColourYUV444
)

// Config is the subset of encoder configuration pi.New needs to derive
// the Picture Info.
type Config struct {
	Width, Height int
	BitDepth      int
	ColourFormat  ColourFormat
	DecomH        int
	DecomV        int
	SliceHeight   int
}

// Band describes one frequency sub-band of one component.
type Band struct {
	// Width, Height are the band's dimensions in coefficients/lines.
	Width, Height int

	// GcliWidth = ceil(Width / GroupSize).
	GcliWidth int

	// SignificanceWidth = ceil(GcliWidth / SignificanceGroupSize).
	SignificanceWidth int

	// PrecinctHeight is the number of this band's lines populated by a
	// single precinct (b_info[c][b].height in the design).
	PrecinctHeight int

	// Gain and Priority drive quantization bias and weight-table order;
	// lower Priority value means the band is emitted/allocated first.
	Gain     int
	Priority int

	// Vertical marks a band produced by one of the decom_v vertical-only
	// lifting passes, as opposed to one produced by a horizontal pass or
	// the final LL band.
	Vertical bool
}

// Component holds the per-component band list plus subsampling.
type Component struct {
	SubX, SubY int // horizontal/vertical subsampling factors
	Width      int // component width after subsampling
	Height     int // component height after subsampling
	Bands      []Band
}

// BandRef identifies one band by (component, band index), used for the
// global priority-ordered band list the weight table and packer iterate.
type BandRef struct {
	Component int
	Band      int
}

// Info is the Picture Info derived once per configuration and shared,
// read-only, by every frame encoded with it.
type Info struct {
	Width, Height int
	BitDepth      int
	ComponentsNum int
	DecomH, DecomV int

	Components []Component

	SliceHeight       int
	PrecinctsPerSlice int
	PrecinctsLineNum  int
	SliceNum          int

	// BandOrder lists every (component, band) pair in ascending
	// Priority order; the header packer emits WGT entries, and the
	// precinct packer emits band data, in this order.
	BandOrder []BandRef

	UseShortHeader bool
}

// New validates cfg and derives the Picture Info.
func New(cfg Config) (*Info, error) {
	if cfg.Width < 4 || cfg.Height < 1 {
		return nil, errors.Wrapf(errBadParameter, "width/height %dx%d below minimum 4x1", cfg.Width, cfg.Height)
	}
	if cfg.BitDepth < 8 || cfg.BitDepth > 14 {
		return nil, errors.Wrapf(errBadParameter, "bit depth %d outside [8,14]", cfg.BitDepth)
	}
	if cfg.DecomV < 0 || cfg.DecomV > 2 || cfg.DecomH < 0 || cfg.DecomH > 5 {
		return nil, errors.Wrapf(errBadParameter, "decomposition v=%d h=%d out of range", cfg.DecomV, cfg.DecomH)
	}
	if cfg.DecomH < cfg.DecomV {
		return nil, errors.Wrapf(errBadParameter, "decom_h (%d) must be >= decom_v (%d)", cfg.DecomH, cfg.DecomV)
	}
	if cfg.SliceHeight <= 0 || cfg.SliceHeight > cfg.Height {
		return nil, errors.Wrapf(errBadParameter, "slice_height %d invalid for height %d", cfg.SliceHeight, cfg.Height)
	}
	if cfg.SliceHeight%(1<<uint(cfg.DecomV)) != 0 {
		return nil, errors.Wrapf(errBadParameter, "slice_height %d not a multiple of 2^decom_v (%d)", cfg.SliceHeight, 1<<uint(cfg.DecomV))
	}

	subX, subY, numComponents, err := subsampling(cfg.ColourFormat)
	if err != nil {
		return nil, err
	}
	if cfg.ColourFormat == ColourYUV420 {
		if cfg.DecomV < 1 {
			return nil, errors.Wrap(errBadParameter, "yuv420 requires decom_v >= 1")
		}
		if cfg.Width%2 != 0 || cfg.Height%2 != 0 {
			return nil, errors.Wrap(errBadParameter, "yuv420 requires even width and height")
		}
	}

	info := &Info{
		Width:         cfg.Width,
		Height:        cfg.Height,
		BitDepth:      cfg.BitDepth,
		ComponentsNum: numComponents,
		DecomH:        cfg.DecomH,
		DecomV:        cfg.DecomV,
		SliceHeight:   cfg.SliceHeight,
		Components:    make([]Component, numComponents),
	}

	for c := 0; c < numComponents; c++ {
		sx, sy := 1, 1
		if c > 0 { // component 0 (luma/first plane) is never subsampled
			sx, sy = subX, subY
		}
		compWidth := ceilDiv(cfg.Width, sx)
		compHeight := ceilDiv(cfg.Height, sy)
		info.Components[c] = Component{
			SubX:   sx,
			SubY:   sy,
			Width:  compWidth,
			Height: compHeight,
			Bands:  deriveBands(compWidth, compHeight, cfg.DecomH, cfg.DecomV),
		}
	}

	info.PrecinctsLineNum = ceilDiv(cfg.Height, 1<<uint(cfg.DecomV))
	info.PrecinctsPerSlice = cfg.SliceHeight >> uint(cfg.DecomV)
	info.SliceNum = ceilDiv(cfg.Height, cfg.SliceHeight)
	info.BandOrder = globalBandOrder(info.Components)
	info.UseShortHeader = cfg.Width*numComponents < 32768 && cfg.DecomV < 3

	return info, nil
}

// deriveBands runs decom_v vertical-only lifting passes followed by
// decom_h - decom_v horizontal-only passes, recording one high band per
// pass and a final LL band, exactly as the design's PI component
// describes band derivation.
func deriveBands(width, height, decomH, decomV int) []Band {
	w, h := width, height
	var bands []Band

	for i := 0; i < decomV; i++ {
		low := (h + 1) / 2
		high := h / 2
		bands = append(bands, Band{Width: w, Height: high, Vertical: true})
		h = low
	}
	for i := 0; i < decomH-decomV; i++ {
		low := (w + 1) / 2
		high := w / 2
		bands = append(bands, Band{Width: high, Height: h})
		w = low
	}
	bands = append(bands, Band{Width: w, Height: h}) // LL

	llHeight := h
	if llHeight == 0 {
		llHeight = 1
	}
	n := len(bands)
	for i := range bands {
		b := &bands[i]
		b.GcliWidth = ceilDiv(b.Width, GroupSize)
		b.SignificanceWidth = ceilDiv(b.GcliWidth, SignificanceGroupSize)
		b.PrecinctHeight = ceilDiv(b.Height, llHeight)
		if b.PrecinctHeight < 1 {
			b.PrecinctHeight = 1
		}
		distanceFromLL := n - 1 - i
		b.Priority = distanceFromLL
		b.Gain = 1 << uint(min(distanceFromLL, 16))
	}
	return bands
}

// globalBandOrder returns every (component, band) pair ordered by
// ascending Priority (ties broken by component, then band index), the
// order the weight table and precinct packer both use.
func globalBandOrder(components []Component) []BandRef {
	var refs []BandRef
	for c := range components {
		for b := range components[c].Bands {
			refs = append(refs, BandRef{Component: c, Band: b})
		}
	}
	less := func(i, j int) bool {
		bi := components[refs[i].Component].Bands[refs[i].Band]
		bj := components[refs[j].Component].Bands[refs[j].Band]
		if bi.Priority != bj.Priority {
			return bi.Priority < bj.Priority
		}
		if refs[i].Component != refs[j].Component {
			return refs[i].Component < refs[j].Component
		}
		return refs[i].Band < refs[j].Band
	}
	insertionSort(refs, less)
	return refs
}

func insertionSort(refs []BandRef, less func(i, j int) bool) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
}

func subsampling(cf ColourFormat) (subX, subY, numComponents int, err error) {
	switch cf {
	case ColourYUV400:
		return 1, 1, 1, nil
	case ColourYUV420:
		return 2, 2, 3, nil
	case ColourYUV422:
		return 2, 1, 3, nil
	case ColourYUV444:
		return 1, 1, 3, nil
	default:
		return 0, 0, 0, errors.Wrapf(errBadParameter, "unknown colour format %d", cf)
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ErrBadParameter is returned, possibly wrapped with context via
// github.com/pkg/errors, for any invalid Config. Callers compare with
// errors.Is.
var ErrBadParameter = fmt.Errorf("pi: bad parameter")

var errBadParameter = ErrBadParameter
