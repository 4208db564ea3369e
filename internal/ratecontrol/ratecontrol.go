// Package ratecontrol implements the rate controller spec.md §4.8
// describes: given a precinct (or slice) and a byte budget, it searches
// for the (quantization, refinement) pair that packs as close to the
// budget as possible without exceeding it, picking each band's cheapest
// coding method along the way.
//
// Grounded on the teacher's internal/entropy/mqc.go context-adaptive
// coder in spirit only: both trade an exact-fit search for a coarser,
// much cheaper estimate computed ahead of the real bit-packing pass.
// JPEG 2000's post-compression rate-distortion truncation (PCRD-opt)
// has no direct analogue here since JPEG XS fixes gtli per band before
// packing rather than truncating an already-coded bitstream, so this
// package's search loop is original to the JPEG XS domain, not carried
// over from the teacher.
package ratecontrol

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-jpegxs/internal/gcli"
	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/precinct"
	"github.com/mrjoshuak/go-jpegxs/internal/vpred"
)

// ErrRateControlFailed is returned when no (quantization, refinement)
// pair fits the requested budget.
var ErrRateControlFailed = errors.New("ratecontrol: no feasible quantization/refinement fits budget")

// Mode selects how a slice's byte budget is distributed across its
// precincts.
type Mode int

const (
	PerPrecinct Mode = iota
	PerPrecinctMovePadding
	PerSliceCommonQuant
	PerSliceMaxRate
)

// MaxRatio bounds, in per-slice max-rate mode, how many times larger
// than the smallest precinct's used bytes any one precinct may be.
const MaxRatio = 4

// firstPrecinctBonusNumerator/Denominator implement the 10-20% first-
// precinct budget bonus in move-padding and per-slice modes; fast sign
// handling uses the larger of the two.
const (
	firstPrecinctBonusNumerator   = 10
	firstPrecinctBonusDenominator = 100
	fastSignBonusNumerator        = 20
)

// maxSearchLevel bounds both the quantization and refinement search
// space; gtli values are uint8 so this comfortably covers any bit depth
// spec.md §6 allows (up to 14 bits plus Bw's wavelet-domain headroom).
const maxSearchLevel = 24

// BandMethod is the coding method the search picked for one band in one
// precinct.
type BandMethod int

const (
	MethodPlain BandMethod = iota
	MethodSignificance
	MethodVPredResidual
	MethodVPredZeroCoef
)

// Config carries the per-encoder settings the search needs beyond the
// picture geometry: group sizes, quantization method, sign handling,
// and which optional coding modes are enabled at all (an encoder that
// disabled vertical prediction shouldn't have the search ever pick it,
// even if it would be cheaper).
type Config struct {
	GroupSize              int
	SignificanceGroupSize  int
	QuantMethod            uint8 // markers.QuantDeadzone | markers.QuantUniform
	SignHandling           uint8 // markers.SignOff | SignFast | SignFull
	SignificanceAllowed    bool
	VerticalPredictAllowed bool
}

// Controller runs the search for one encoder configuration. It isn't
// safe for concurrent use by multiple pack workers; spec.md §5 assigns
// one Controller-equivalent ("rate-control caches") to each pack
// worker's thread-local scratch precinct.
type Controller struct {
	cfg    Config
	caches map[bandKey]*sizeRing
}

type bandKey struct {
	component, band int
}

// New constructs a Controller for the given configuration.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, caches: make(map[bandKey]*sizeRing)}
}

// BandResult records the search's chosen coding method and gtli for one
// band of one precinct, along with its estimated packed bit cost
// (excluding the packet header and sign stream, which the caller
// accounts separately).
type BandResult struct {
	GTLI   uint8
	Method BandMethod
	Bits   int
}

// SearchPrecinct finds the (quantization, refinement) pair that packs
// prec as large as possible without exceeding budgetBytes, returning
// the per-band results the packer and quantizer need. info must be the
// PictureInfo used to build prec.
func (c *Controller) SearchPrecinct(prec *precinct.Precinct, info *pi.Info, budgetBytes int) ([][]BandResult, error) {
	budgetBits := budgetBytes * 8

	for q := maxSearchLevel; q >= 0; q-- {
		if bits, _ := c.totalBits(prec, info, q, 0); bits <= budgetBits {
			lo, hi := 0, maxSearchLevel
			var bestResults [][]BandResult
			for lo <= hi {
				mid := (lo + hi) / 2
				bits, results := c.totalBits(prec, info, q, mid)
				if bits <= budgetBits {
					bestResults = results
					lo = mid + 1
				} else {
					hi = mid - 1
				}
			}
			return bestResults, nil
		}
	}
	return nil, errors.Wrapf(ErrRateControlFailed, "precinct %d: budget %d bytes unreachable", prec.Index, budgetBytes)
}

// SearchSlice finds the single (quantization, refinement) pair that,
// applied to every precinct in precincts, fits the whole slice's packed
// size within sliceBudgetBytes, per spec.md §4.8's per-slice-common-quant
// and per-slice-max-rate modes (both share one (q,r) across the slice,
// unlike PerPrecinct's independent per-precinct search). It returns each
// precinct's BandResults from that shared pair, and each precinct's own
// estimated packed byte count (pre-padding), which PrecinctBudgets's
// redistribution and ApplyMaxRatio need.
//
// Each precinct gets its own Controller since a Controller's gtli cache
// is only valid across probes of the same precinct's coefficient data.
func SearchSlice(cfg Config, precincts []*precinct.Precinct, info *pi.Info, sliceBudgetBytes int) ([][][]BandResult, []int, error) {
	if len(precincts) == 0 {
		return nil, nil, nil
	}
	budgetBits := sliceBudgetBytes * 8

	controllers := make([]*Controller, len(precincts))
	for i := range controllers {
		controllers[i] = New(cfg)
	}

	probe := func(q, r int) (int, [][][]BandResult, []int) {
		total := 0
		allResults := make([][][]BandResult, len(precincts))
		usedBytes := make([]int, len(precincts))
		for i, prec := range precincts {
			bits, results := controllers[i].totalBits(prec, info, q, r)
			allResults[i] = results
			usedBytes[i] = (bits + 7) / 8
			total += bits
		}
		return total, allResults, usedBytes
	}

	for q := maxSearchLevel; q >= 0; q-- {
		if bits, _, _ := probe(q, 0); bits <= budgetBits {
			lo, hi := 0, maxSearchLevel
			var bestResults [][][]BandResult
			var bestUsed []int
			for lo <= hi {
				mid := (lo + hi) / 2
				bits, results, used := probe(q, mid)
				if bits <= budgetBits {
					bestResults, bestUsed = results, used
					lo = mid + 1
				} else {
					hi = mid - 1
				}
			}
			return bestResults, bestUsed, nil
		}
	}
	return nil, nil, errors.Wrapf(ErrRateControlFailed, "slice budget %d bytes unreachable across %d precincts", sliceBudgetBytes, len(precincts))
}

// effectiveGTLI derives a band's truncation point from the shared
// quantization level, its priority (distance from the LL band), and the
// refinement level: higher-priority (farther from LL) bands are
// truncated harder as quantization rises, and refinement uniformly
// claws precision back.
func effectiveGTLI(bandPriority, quantization, refinement int) uint8 {
	raw := quantization + bandPriority - refinement
	if raw < 0 {
		raw = 0
	}
	if raw > 255 {
		raw = 255
	}
	return uint8(raw)
}

// totalBits computes the packed-bit total (excluding per-packet-header
// framing bytes, which the caller already knows statically) across
// every band of every component in prec, for the given (quantization,
// refinement) pair. It also returns the per-band results needed to
// drive quantization and packing once a fit is found.
func (c *Controller) totalBits(prec *precinct.Precinct, info *pi.Info, quantization, refinement int) (int, [][]BandResult) {
	total := 0
	results := make([][]BandResult, len(info.Components))
	for ci, comp := range info.Components {
		results[ci] = make([]BandResult, len(comp.Bands))
		for bi, band := range comp.Bands {
			gtli := effectiveGTLI(band.Priority, quantization, refinement)

			key := bandKey{ci, bi}
			ring, ok := c.caches[key]
			if !ok {
				ring = &sizeRing{}
				c.caches[key] = ring
			}

			var method BandMethod
			var bits int
			if cached, ok := ring.get(gtli); ok {
				method, bits = cached.method, cached.bits
			} else {
				pBand := &prec.Components[ci].Bands[bi]
				var top *precinct.Band
				if prec.Top != nil {
					top = prec.TopBand(ci, bi)
				}
				method, bits = c.estimateBand(pBand, top, gtli)
				ring.put(gtli, cachedEntry{method: method, bits: bits})
			}

			magBits := magnitudeBits(prec.Components[ci].Bands[bi].Coeffs, gtli, c.cfg.GroupSize)
			signBits := c.signBits(prec.Components[ci].Bands[bi].Coeffs, gtli)
			headerBits := markers.PacketHeaderBytes(info.UseShortHeader) * 8

			// The packer byte-aligns the gcli/significance stream, the
			// coefficient data stream, and (when enabled) the separate
			// sign stream independently, so each must round up on its
			// own rather than being summed before rounding — otherwise
			// this estimate under-counts by up to 2 bytes per band.
			bandBits := alignToByte(bits) + alignToByte(magBits)
			if c.cfg.SignHandling != markers.SignOff {
				bandBits += alignToByte(signBits)
			}

			results[ci][bi] = BandResult{GTLI: gtli, Method: method, Bits: bits + magBits}
			total += bandBits + headerBits
		}
	}
	return total, results
}

// estimateBand picks the cheapest of the coding methods the Config
// allows for one band, ensuring its GCLI lines are computed.
func (c *Controller) estimateBand(band *precinct.Band, top *precinct.Band, gtli uint8) (BandMethod, int) {
	if band.Gclis == nil {
		band.Gclis = gcli.Band(band.Coeffs, c.cfg.GroupSize)
	}

	best := MethodPlain
	bestBits := plainGCLIBits(band.Gclis)

	if c.cfg.SignificanceAllowed {
		if b := significanceBits(band.Gclis, gtli, c.cfg.SignificanceGroupSize); b < bestBits {
			best, bestBits = MethodSignificance, b
		}
	}

	if c.cfg.VerticalPredictAllowed && top != nil {
		topGclis := top.Gclis
		if topGclis == nil {
			topGclis = gcli.Band(top.Coeffs, c.cfg.GroupSize)
			top.Gclis = topGclis
		}
		if b := vpredResidualBits(band.Gclis, topGclis); b < bestBits {
			best, bestBits = MethodVPredResidual, b
		}
		if b := vpredZeroCoefBits(band.Gclis, topGclis); b < bestBits {
			best, bestBits = MethodVPredZeroCoef, b
		}
	}

	return best, bestBits
}

func plainGCLIBits(lines [][]uint8) int {
	total := 0
	for _, line := range lines {
		for _, v := range line {
			total += gcli.UnaryVLCBits(v)
		}
	}
	return total
}

func significanceBits(lines [][]uint8, gtli uint8, sigGroupSize int) int {
	total := 0
	for _, line := range lines {
		sig := gcli.SignificanceLine(line, gtli, sigGroupSize)
		total += len(sig)
		for g, significant := range sig {
			if !significant {
				continue
			}
			start := g * sigGroupSize
			end := start + sigGroupSize
			if end > len(line) {
				end = len(line)
			}
			for _, v := range line[start:end] {
				total += gcli.UnaryVLCBits(v)
			}
		}
	}
	return total
}

func vpredResidualBits(lines, topLines [][]uint8) int {
	total := 0
	for i, line := range lines {
		var top []uint8
		if i < len(topLines) {
			top = topLines[i]
		}
		total += vpred.EstimateResidualBits(vpred.ResidualLine(line, top))
	}
	return total
}

func vpredZeroCoefBits(lines, topLines [][]uint8) int {
	total := 0
	for i, line := range lines {
		var top []uint8
		if i < len(topLines) {
			top = topLines[i]
		}
		flags := vpred.ZeroCoefLine(line, top)
		total += vpred.EstimateZeroCoefBits(flags)
		for g, dropped := range flags {
			if dropped {
				continue
			}
			total += gcli.UnaryVLCBits(line[g])
		}
	}
	return total
}

// magnitudeBits is the coefficient-data cost spec.md §4.10 item 3
// describes: width × (gcli − gtli) bits per group, for every group
// whose gcli exceeds gtli.
func magnitudeBits(lines [][]int32, gtli uint8, groupSize int) int {
	total := 0
	for _, line := range lines {
		for start := 0; start < len(line); start += groupSize {
			end := start + groupSize
			if end > len(line) {
				end = len(line)
			}
			g := groupGCLI(line[start:end])
			if g > gtli {
				total += (end - start) * int(g-gtli)
			}
		}
	}
	return total
}

func groupGCLI(coeffs []int32) uint8 {
	gclis := gcli.Line(coeffs, len(coeffs))
	if len(gclis) == 0 {
		return 0
	}
	return gclis[0]
}

// signBits estimates the sign stream's cost. Off mode bundles signs
// inline with the data and is already reflected in magnitudeBits
// (a sign bit is the (gtli)th bit of the unshifted coefficient, folded
// into the magnitude count); fast and full modes account one bit per
// coefficient with a nonzero retained magnitude.
func (c *Controller) signBits(lines [][]int32, gtli uint8) int {
	if c.cfg.SignHandling == markers.SignOff {
		return 0
	}
	total := 0
	for _, line := range lines {
		for _, v := range line {
			mag := v
			if mag < 0 {
				mag = -mag
			}
			if bitsLen32(uint32(mag)) > int(gtli) {
				total++
			}
		}
	}
	return total
}

// alignToByte rounds bits up to the next multiple of 8, matching
// bitio.Writer.Align's effect on a sub-stream boundary.
func alignToByte(bits int) int {
	return (bits + 7) / 8 * 8
}

func bitsLen32(v uint32) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}

type cachedEntry struct {
	method BandMethod
	bits   int
}

// sizeRing is the size-2 per-band packed-size cache spec.md §4.8
// describes, keyed by gtli to avoid recomputing estimates across
// quantization probes that happen to land on the same gtli.
type sizeRing struct {
	keys [2]uint8
	vals [2]cachedEntry
	set  [2]bool
	next int
}

func (r *sizeRing) get(gtli uint8) (cachedEntry, bool) {
	for i := 0; i < 2; i++ {
		if r.set[i] && r.keys[i] == gtli {
			return r.vals[i], true
		}
	}
	return cachedEntry{}, false
}

func (r *sizeRing) put(gtli uint8, v cachedEntry) {
	r.keys[r.next] = gtli
	r.vals[r.next] = v
	r.set[r.next] = true
	r.next = (r.next + 1) % 2
}
