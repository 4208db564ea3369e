// Package precinct defines the rate-control unit spec.md §3 describes:
// per (component, band) coefficient lines, GCLI lines, optional
// significance flags, and optional vertical-prediction state, together
// with an optional reference to the precinct directly above for
// vertical prediction.
package precinct

import "github.com/mrjoshuak/go-jpegxs/internal/pi"

// Band holds one band's state within a precinct. Coeffs[i] is nil for
// line slots beyond what this precinct populated (the bottom edge of an
// image whose height isn't a multiple of the band's precinct height).
type Band struct {
	Coeffs []([]int32)
	Gclis  [][]uint8

	// Significance[i] is set only when the packer chose significance
	// coding for this band in this precinct.
	Significance [][]bool

	// GTLI is the truncation line index the rate controller chose for
	// this band in this precinct.
	GTLI uint8

	// Method records the coding choices the rate controller picked for
	// this band: whether significance and/or vertical prediction were
	// used, so the packer doesn't have to re-derive them.
	Significant     bool
	VerticalPredict bool
	ZeroCoefficient bool
}

// Component holds every band's state for one picture component.
type Component struct {
	Bands []Band
}

// Precinct is the unit of rate control: every component's band state
// for one vertical strip of 1<<decom_v image rows (or fewer, for the
// one short precinct at the image's bottom edge).
type Precinct struct {
	Index      int
	Components []Component

	// Top references the precinct immediately above this one in the
	// same slice column, for vertical prediction. Nil for the first
	// precinct of a component's column.
	Top *Precinct
}

// New allocates an empty Precinct shaped to match info: one Component
// per picture component, one Band per that component's bands, with
// Coeffs/Gclis/Significance pre-sized to each band's PrecinctHeight.
func New(info *pi.Info, index int) *Precinct {
	p := &Precinct{Index: index, Components: make([]Component, len(info.Components))}
	for ci, c := range info.Components {
		p.Components[ci].Bands = make([]Band, len(c.Bands))
		for bi, b := range c.Bands {
			p.Components[ci].Bands[bi] = Band{
				Coeffs: make([][]int32, 0, b.PrecinctHeight),
				Gclis:  make([][]uint8, 0, b.PrecinctHeight),
			}
		}
	}
	return p
}

// AppendLine appends one coefficient line to component ci, band bi.
func (p *Precinct) AppendLine(ci, bi int, line []int32) {
	b := &p.Components[ci].Bands[bi]
	b.Coeffs = append(b.Coeffs, line)
}

// TopBand returns the matching band of p.Top, or nil if there is no top
// precinct (first precinct in the column).
func (p *Precinct) TopBand(ci, bi int) *Band {
	if p.Top == nil {
		return nil
	}
	return &p.Top.Components[ci].Bands[bi]
}
