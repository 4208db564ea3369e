package markers

import (
	"fmt"

	"github.com/mrjoshuak/go-jpegxs/internal/bitio"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
)

// CapFlags enumerates the CAP marker's capability bits.
type CapFlags uint32

const (
	// CapRawModeSwitch mirrors hdr_Rl: the encoder may fall back to
	// uncompressed per-precinct packets when rate control can't fit a
	// budget any other way.
	CapRawModeSwitch CapFlags = 1 << iota
	CapVerticalPrediction
	CapSignificance
)

// PIHParams carries the PIH marker's dynamic fields that aren't derived
// from pi.Info directly.
type PIHParams struct {
	// Bw is the wavelet-domain input bit depth; fixed at 20 per design.
	Bw uint8
	// Fq is the number of fraction bits; fixed at 8 per design.
	Fq uint8
	// Qpih selects deadzone (QuantDeadzone) or uniform (QuantUniform)
	// quantization.
	Qpih uint8
	// Fs is the sign-handling mode (SignOff/SignFast/SignFull).
	Fs uint8
	// Rm is the vertical-prediction mode (PredictionDisabled/Residual/ZeroCoef).
	Rm uint8
}

// DefaultPIHParams returns the design's fixed Bw/Fq values with
// quantization, sign handling, and prediction left at their simplest
// settings; callers override Qpih/Fs/Rm from the encoder configuration.
func DefaultPIHParams() PIHParams {
	return PIHParams{Bw: 20, Fq: 8, Qpih: QuantDeadzone, Fs: SignOff, Rm: PredictionDisabled}
}

// WriteSOC writes the Start-Of-Codestream marker.
func WriteSOC(w *bitio.Writer) error {
	return w.Write16(uint16(SOC))
}

// WriteCAP writes the CAP marker segment.
func WriteCAP(w *bitio.Writer, flags CapFlags) error {
	const length = 2 + 4 // length field + 4 bytes of flags
	if err := w.Write16(uint16(CAP)); err != nil {
		return err
	}
	if err := w.Write16(length); err != nil {
		return err
	}
	return w.Write32(uint32(flags))
}

// WritePIH writes the Picture Header marker segment.
func WritePIH(w *bitio.Writer, info *pi.Info, p PIHParams) error {
	const fixedLen = 2 + 2 + 2 + 1 + 1 + 1 + 1 + 1 + 1 + 2 // everything below
	if err := w.Write16(uint16(PIH)); err != nil {
		return err
	}
	if err := w.Write16(fixedLen); err != nil {
		return err
	}
	if err := w.Write16(uint16(info.Width)); err != nil {
		return err
	}
	if err := w.Write16(uint16(info.Height)); err != nil {
		return err
	}
	if err := w.Write8(uint8(info.BitDepth)); err != nil {
		return err
	}
	if err := w.Write8(uint8(info.ComponentsNum)); err != nil {
		return err
	}
	if err := w.WritePackedFields(
		bitio.PackedField{Value: uint32(info.DecomH), Bits: 4},
		bitio.PackedField{Value: uint32(info.DecomV), Bits: 4},
	); err != nil {
		return err
	}
	if err := w.Write8(p.Bw); err != nil {
		return err
	}
	if err := w.Write8(p.Fq); err != nil {
		return err
	}
	if err := w.WritePackedFields(
		bitio.PackedField{Value: uint32(p.Qpih), Bits: 1},
		bitio.PackedField{Value: uint32(p.Fs), Bits: 2},
		bitio.PackedField{Value: uint32(p.Rm), Bits: 2},
		bitio.PackedField{Value: 0, Bits: 3}, // reserved
	); err != nil {
		return err
	}
	return w.Write16(uint16(info.SliceHeight))
}

// WriteCDT writes the component table marker segment.
func WriteCDT(w *bitio.Writer, info *pi.Info) error {
	length := 2 + 3*len(info.Components)
	if err := w.Write16(uint16(CDT)); err != nil {
		return err
	}
	if err := w.Write16(uint16(length)); err != nil {
		return err
	}
	for _, c := range info.Components {
		if err := w.Write8(uint8(info.BitDepth)); err != nil {
			return err
		}
		if err := w.Write8(uint8(c.SubX)); err != nil {
			return err
		}
		if err := w.Write8(uint8(c.SubY)); err != nil {
			return err
		}
	}
	return nil
}

// WriteWGT writes the weight-table marker segment: one (gain, priority)
// pair per band, in the global priority order pi.Info already sorted.
func WriteWGT(w *bitio.Writer, info *pi.Info) error {
	length := 2 + 4*len(info.BandOrder)
	if err := w.Write16(uint16(WGT)); err != nil {
		return err
	}
	if err := w.Write16(uint16(length)); err != nil {
		return err
	}
	for _, ref := range info.BandOrder {
		b := info.Components[ref.Component].Bands[ref.Band]
		if err := w.Write16(uint16(b.Gain)); err != nil {
			return err
		}
		if err := w.Write16(uint16(b.Priority)); err != nil {
			return err
		}
	}
	return nil
}

// WriteSLH writes a slice header.
func WriteSLH(w *bitio.Writer, sliceIndex int) error {
	if err := w.Write16(uint16(SLH)); err != nil {
		return err
	}
	return w.Write16(uint16(sliceIndex))
}

// WriteEOC writes the End-Of-Codestream marker.
func WriteEOC(w *bitio.Writer) error {
	return w.Write16(uint16(EOC))
}

// PacketHeader is one precinct/band packet header's accounted byte
// counts. RawCoding marks a precinct emitted uncompressed, the raw-mode
// fallback CapRawModeSwitch advertises.
type PacketHeader struct {
	DataBytes  int
	GcliBytes  int
	SignBytes  int
	RawCoding  bool
}

// WritePacketHeader writes a long or short packet header depending on
// useShort, returning the bit offset of the sign_bytes field so the
// packer can back-patch it once fast/full sign handling has finished
// retrieving or relocating bytes at precinct end.
func WritePacketHeader(w *bitio.Writer, useShort bool, h PacketHeader) (signBytesOffsetBits int, err error) {
	if useShort {
		if h.DataBytes >= 1<<16 || h.GcliBytes >= 1<<12 || h.SignBytes >= 1<<11 {
			return 0, fmt.Errorf("markers: packet header fields exceed short-header widths: %+v", h)
		}
		if err := w.Write16(uint16(h.DataBytes)); err != nil {
			return 0, err
		}
		signBytesOffsetBits = w.OffsetBits() + 12
		raw := uint32(0)
		if h.RawCoding {
			raw = 1
		}
		return signBytesOffsetBits, w.WritePackedFields(
			bitio.PackedField{Value: uint32(h.GcliBytes), Bits: 12},
			bitio.PackedField{Value: uint32(h.SignBytes), Bits: 11},
			bitio.PackedField{Value: raw, Bits: 1},
		)
	}

	if h.DataBytes >= 1<<24 || h.GcliBytes >= 1<<16 || h.SignBytes >= 1<<15 {
		return 0, fmt.Errorf("markers: packet header fields exceed long-header widths: %+v", h)
	}
	if err := w.Write24(uint32(h.DataBytes)); err != nil {
		return 0, err
	}
	signBytesOffsetBits = w.OffsetBits() + 16
	raw := uint32(0)
	if h.RawCoding {
		raw = 1
	}
	return signBytesOffsetBits, w.WritePackedFields(
		bitio.PackedField{Value: uint32(h.GcliBytes), Bits: 16},
		bitio.PackedField{Value: uint32(h.SignBytes), Bits: 15},
		bitio.PackedField{Value: raw, Bits: 1},
	)
}

// PacketHeaderBytes returns the on-wire size of a packet header for the
// given use-short-header setting.
func PacketHeaderBytes(useShort bool) int {
	if useShort {
		return PacketHeaderShortBytes
	}
	return PacketHeaderLongBytes
}

// FrameHeaderLength returns the byte length of SOC..WGT (the first
// emitted packet's payload in per-slice packetization mode), by writing
// the prologue into a scratch buffer sized generously for any PictureInfo.
func FrameHeaderLength(info *pi.Info, p PIHParams, flags CapFlags) (int, error) {
	scratch := make([]byte, 64+8*len(info.BandOrder)+3*len(info.Components))
	w := bitio.New(scratch)
	if err := WriteSOC(w); err != nil {
		return 0, err
	}
	if err := WriteCAP(w, flags); err != nil {
		return 0, err
	}
	if err := WritePIH(w, info, p); err != nil {
		return 0, err
	}
	if err := WriteCDT(w, info); err != nil {
		return 0, err
	}
	if err := WriteWGT(w, info); err != nil {
		return 0, err
	}
	return w.Offset(), nil
}
