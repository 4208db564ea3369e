// Package packer implements the precinct packer spec.md §4.10
// describes: combining a rate controller's chosen per-band (gtli,
// method) with the actual coefficients to emit one precinct's packet
// headers, GCLI, significance, coefficient data, signs, and padding
// into the bitstream window Init stage pre-sliced for it.
//
// Grounded on the teacher's internal/codestream/header.go (the piece
// that walks a computed tile structure and serializes it against a
// pre-sized buffer) generalized from per-tile-part boxes to per-band
// packets within one precinct.
package packer

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-jpegxs/internal/bitio"
	"github.com/mrjoshuak/go-jpegxs/internal/gcli"
	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/precinct"
	"github.com/mrjoshuak/go-jpegxs/internal/quant"
	"github.com/mrjoshuak/go-jpegxs/internal/ratecontrol"
	"github.com/mrjoshuak/go-jpegxs/internal/vpred"
)

// ErrAccounting is returned when the bytes actually written disagree
// with what the rate controller computed; spec.md §4.10 calls this a
// fatal internal error.
var ErrAccounting = errors.New("packer: accounting mismatch between rate control estimate and packed bytes")

// Options carries the encoder-wide coding choices the packer needs
// beyond what the rate controller already decided per band.
type Options struct {
	GroupSize             int
	SignificanceGroupSize int
	QuantMethod           uint8
	SignHandling          uint8
	UseShortHeader        bool
	PadToBytes            int // pack_total_bytes: the budget this precinct must exactly fill
}

// WritePrecinct packs prec into w, applying quantization in place on
// prec's coefficient buffers first, then emitting one packet per band
// in info.BandOrder (spec.md's global priority order), and finally
// padding to opts.PadToBytes.
func WritePrecinct(w *bitio.Writer, info *pi.Info, prec *precinct.Precinct, results [][]ratecontrol.BandResult, opts Options) error {
	start := w.Offset()

	for _, ref := range info.BandOrder {
		ci, bi := ref.Component, ref.Band
		band := &prec.Components[ci].Bands[bi]
		result := results[ci][bi]

		quant.Band(band.Coeffs, result.GTLI, opts.QuantMethod)

		if band.Gclis == nil {
			band.Gclis = gcli.Band(band.Coeffs, opts.GroupSize)
		}

		var top *precinct.Band
		if prec.Top != nil {
			top = prec.TopBand(ci, bi)
		}

		if err := writeBandPacket(w, info, band, top, result, opts); err != nil {
			return errors.Wrapf(err, "component %d band %d", ci, bi)
		}
	}

	if err := w.PadToOffset(start + opts.PadToBytes); err != nil {
		return errors.Wrap(err, "packer: padding precinct to budget")
	}
	if got := w.Offset() - start; got != opts.PadToBytes {
		return errors.Wrapf(ErrAccounting, "wrote %d bytes, budget was %d", got, opts.PadToBytes)
	}
	return nil
}

func writeBandPacket(w *bitio.Writer, info *pi.Info, band *precinct.Band, top *precinct.Band, result ratecontrol.BandResult, opts Options) error {
	gcliBits, dataBits, signBits := bandBits(band, top, result, opts)
	h := markers.PacketHeader{
		DataBytes: (dataBits + 7) / 8,
		GcliBytes: (gcliBits + 7) / 8,
		SignBytes: (signBits + 7) / 8,
	}

	if _, err := markers.WritePacketHeader(w, opts.UseShortHeader, h); err != nil {
		return err
	}

	return writeBandBody(w, band, top, result, opts)
}

// bandBits precomputes the exact bit counts writeBandBody will produce
// — GCLI/significance stream, coefficient magnitude data (plus inline
// signs under Off handling), and the separate sign stream under
// Fast/Full handling — so the packet header's byte counts can be
// written before the body (JPEG XS packet headers precede their
// payload).
func bandBits(band *precinct.Band, top *precinct.Band, result ratecontrol.BandResult, opts Options) (gcliBits, dataBits, signBits int) {
	for _, line := range band.Gclis {
		gcliBits += gcliLineBits(line, top, result, opts)
	}
	for _, line := range band.Coeffs {
		for start := 0; start < len(line); start += opts.GroupSize {
			end := start + opts.GroupSize
			if end > len(line) {
				end = len(line)
			}
			g := lineGroupGCLI(line[start:end])
			if g > result.GTLI {
				width := end - start
				dataBits += width * int(g-result.GTLI)
				for _, v := range line[start:end] {
					if v == 0 {
						continue
					}
					if opts.SignHandling == markers.SignOff {
						dataBits++
					} else {
						signBits++
					}
				}
			}
		}
	}
	return gcliBits, dataBits, signBits
}

func gcliLineBits(line []uint8, top *precinct.Band, result ratecontrol.BandResult, opts Options) int {
	switch result.Method {
	case ratecontrol.MethodSignificance:
		sig := gcli.SignificanceLine(line, result.GTLI, opts.SignificanceGroupSize)
		bits := len(sig)
		for g, significant := range sig {
			if !significant {
				continue
			}
			start := g * opts.SignificanceGroupSize
			end := start + opts.SignificanceGroupSize
			if end > len(line) {
				end = len(line)
			}
			for _, v := range line[start:end] {
				bits += gcli.UnaryVLCBits(v)
			}
		}
		return bits
	case ratecontrol.MethodVPredResidual:
		var topLine []uint8
		if top != nil {
			topLine = lineAt(top.Gclis, 0)
		}
		residual := vpred.ResidualLine(line, topLine)
		return vpred.EstimateResidualBits(residual)
	case ratecontrol.MethodVPredZeroCoef:
		var topLine []uint8
		if top != nil {
			topLine = lineAt(top.Gclis, 0)
		}
		flags := vpred.ZeroCoefLine(line, topLine)
		bits := vpred.EstimateZeroCoefBits(flags)
		for g, dropped := range flags {
			if !dropped {
				bits += gcli.UnaryVLCBits(line[g])
			}
		}
		return bits
	default:
		bits := 0
		for _, v := range line {
			bits += gcli.UnaryVLCBits(v)
		}
		return bits
	}
}

func lineAt(lines [][]uint8, i int) []uint8 {
	if i < 0 || i >= len(lines) {
		return nil
	}
	return lines[i]
}

// writeBandBody writes a band's three sub-streams — GCLI/significance,
// coefficient data, and (when enabled) the separate sign stream — each
// byte-aligned at its end, so the packet header's three byte counts
// (gcli_bytes, data_bytes, sign_bytes) exactly delimit them for a
// reader and so the next band's packet header, which starts on a byte
// boundary, can be written without violating bitio's alignment
// invariant.
func writeBandBody(w *bitio.Writer, band *precinct.Band, top *precinct.Band, result ratecontrol.BandResult, opts Options) error {
	for i, line := range band.Gclis {
		var topLine []uint8
		if top != nil {
			topLine = lineAt(top.Gclis, i)
		}
		if err := writeGCLILine(w, line, topLine, result, opts); err != nil {
			return err
		}
	}
	if err := w.Align(); err != nil {
		return err
	}

	for _, line := range band.Coeffs {
		if err := writeCoeffLine(w, line, result.GTLI, opts); err != nil {
			return err
		}
	}
	if err := w.Align(); err != nil {
		return err
	}

	if opts.SignHandling != markers.SignOff {
		for _, line := range band.Coeffs {
			if err := writeSignLine(w, line, result.GTLI, opts.GroupSize); err != nil {
				return err
			}
		}
		if err := w.Align(); err != nil {
			return err
		}
	}
	return nil
}

// writeSignLine writes the sign stream fast/full sign-handling modes
// collect separately from the magnitude data: one bit per coefficient
// whose retained magnitude (above gtli) is nonzero.
func writeSignLine(w *bitio.Writer, line []int32, gtli uint8, groupSize int) error {
	for start := 0; start < len(line); start += groupSize {
		end := start + groupSize
		if end > len(line) {
			end = len(line)
		}
		g := lineGroupGCLI(line[start:end])
		if g <= gtli {
			continue
		}
		for _, v := range line[start:end] {
			if v == 0 {
				continue
			}
			sign := 0
			if v < 0 {
				sign = 1
			}
			if err := w.WriteBit(sign); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeGCLILine(w *bitio.Writer, line []uint8, top []uint8, result ratecontrol.BandResult, opts Options) error {
	switch result.Method {
	case ratecontrol.MethodSignificance:
		sig := gcli.SignificanceLine(line, result.GTLI, opts.SignificanceGroupSize)
		for _, significant := range sig {
			bit := 0
			if significant {
				bit = 1
			}
			if err := w.WriteBit(bit); err != nil {
				return err
			}
		}
		for g, significant := range sig {
			if !significant {
				continue
			}
			start := g * opts.SignificanceGroupSize
			end := start + opts.SignificanceGroupSize
			if end > len(line) {
				end = len(line)
			}
			for _, v := range line[start:end] {
				if err := writeUnaryGCLI(w, v); err != nil {
					return err
				}
			}
		}
		return nil
	case ratecontrol.MethodVPredResidual:
		return vpred.WriteResidualLine(w, vpred.ResidualLine(line, top))
	case ratecontrol.MethodVPredZeroCoef:
		flags := vpred.ZeroCoefLine(line, top)
		if err := vpred.WriteZeroCoefLine(w, flags); err != nil {
			return err
		}
		for g, dropped := range flags {
			if dropped {
				continue
			}
			if err := writeUnaryGCLI(w, line[g]); err != nil {
				return err
			}
		}
		return nil
	default:
		for _, v := range line {
			if err := writeUnaryGCLI(w, v); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeUnaryGCLI(w *bitio.Writer, v uint8) error {
	for i := uint8(0); i < v; i++ {
		if err := w.WriteBit(1); err != nil {
			return err
		}
	}
	return w.WriteBit(0)
}

func writeCoeffLine(w *bitio.Writer, line []int32, gtli uint8, opts Options) error {
	for start := 0; start < len(line); start += opts.GroupSize {
		end := start + opts.GroupSize
		if end > len(line) {
			end = len(line)
		}
		g := lineGroupGCLI(line[start:end])
		if g <= gtli {
			continue
		}
		bitsAboveGTLI := uint(g - gtli)
		for _, v := range line[start:end] {
			mag := v
			if mag < 0 {
				mag = -mag
			}
			if err := w.WriteBits(uint32(mag), bitsAboveGTLI); err != nil {
				return err
			}
			if opts.SignHandling == markers.SignOff && v != 0 {
				sign := uint32(0)
				if v < 0 {
					sign = 1
				}
				if err := w.WriteBit(int(sign)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func lineGroupGCLI(coeffs []int32) uint8 {
	gclis := gcli.Line(coeffs, len(coeffs))
	if len(gclis) == 0 {
		return 0
	}
	return gclis[0]
}
