// Package vpred implements vertical prediction (spec.md §4.7): coding a
// band line's GCLI values relative to the matching line in the
// precinct directly above, instead of emitting it standalone. Two
// modes are supported, chosen per-band-per-precinct by the rate
// controller: residual coding (zigzag-delta against the predicted
// line) and zero-coefficient signalling (a flag per group marking it
// dropped to zero relative to the prediction).
//
// This generalizes the teacher's MQ-coder context modelling in
// internal/entropy/mqc.go — predicting a symbol from spatially
// adjacent state rather than coding it standalone — to JPEG XS's much
// simpler line-to-line GCLI prediction.
package vpred

import "github.com/mrjoshuak/go-jpegxs/internal/bitio"

// ResidualLine returns, for a band line's GCLI values, the zigzag-coded
// delta from the matching line of the precinct above (top). A missing
// top line (first precinct in a column, no vertical prediction yet
// available) predicts against an all-zero line.
func ResidualLine(current, top []uint8) []int32 {
	out := make([]int32, len(current))
	for i := range current {
		var t int32
		if i < len(top) {
			t = int32(top[i])
		}
		out[i] = zigzagEncode(int32(current[i]) - t)
	}
	return out
}

// ReconstructLine undoes ResidualLine given the same top line.
func ReconstructLine(residual []int32, top []uint8) []uint8 {
	out := make([]uint8, len(residual))
	for i, r := range residual {
		var t int32
		if i < len(top) {
			t = int32(top[i])
		}
		out[i] = uint8(t + zigzagDecode(r))
	}
	return out
}

// ZeroCoefLine returns, per group, whether this precinct's GCLI value
// dropped to zero while the precinct above had a nonzero value there —
// the case the zero-coefficient signalling mode needs to call out
// explicitly, since plain zero-residual coding would otherwise imply no
// change occurred.
func ZeroCoefLine(current, top []uint8) []bool {
	out := make([]bool, len(current))
	for i, c := range current {
		var t uint8
		if i < len(top) {
			t = top[i]
		}
		out[i] = c == 0 && t != 0
	}
	return out
}

// residualBits is the unary-style code length for one zigzag-coded
// residual value: value+1 bits, matching gcli.UnaryVLCBits's scheme so
// the two modes' byte estimates are directly comparable.
func residualBits(v int32) int { return int(v) + 1 }

// EstimateResidualBits sums the packed bit length of a residual line.
func EstimateResidualBits(residual []int32) int {
	total := 0
	for _, v := range residual {
		total += residualBits(v)
	}
	return total
}

// EstimateZeroCoefBits is the packed bit length of a zero-coefficient
// flag line: one bit per group, unconditionally.
func EstimateZeroCoefBits(flags []bool) int { return len(flags) }

// WriteResidualLine bit-packs a residual line using the same
// unary-length code EstimateResidualBits assumes.
func WriteResidualLine(w *bitio.Writer, residual []int32) error {
	for _, v := range residual {
		if err := writeUnary(w, uint32(v)); err != nil {
			return err
		}
	}
	return nil
}

// WriteZeroCoefLine bit-packs a zero-coefficient flag line as one bit
// per group.
func WriteZeroCoefLine(w *bitio.Writer, flags []bool) error {
	for _, f := range flags {
		bit := 0
		if f {
			bit = 1
		}
		if err := w.WriteBit(bit); err != nil {
			return err
		}
	}
	return nil
}

// writeUnary writes v continuation bits followed by a stop bit: the
// same unary length residualBits/gcli.UnaryVLCBits account for.
func writeUnary(w *bitio.Writer, v uint32) error {
	for i := uint32(0); i < v; i++ {
		if err := w.WriteBit(1); err != nil {
			return err
		}
	}
	return w.WriteBit(0)
}

func zigzagEncode(v int32) int32 {
	return (v << 1) ^ (v >> 31)
}

func zigzagDecode(v int32) int32 {
	return (v >> 1) ^ -(v & 1)
}
