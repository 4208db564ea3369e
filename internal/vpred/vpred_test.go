package vpred

import (
	"reflect"
	"testing"

	"github.com/mrjoshuak/go-jpegxs/internal/bitio"
)

func TestResidualLine_ReconstructRoundTrip(t *testing.T) {
	top := []uint8{5, 2, 0, 9}
	current := []uint8{5, 0, 3, 1}

	residual := ResidualLine(current, top)
	got := ReconstructLine(residual, top)
	if !reflect.DeepEqual(got, current) {
		t.Errorf("ReconstructLine(ResidualLine(current, top), top) = %v, want %v", got, current)
	}
}

func TestResidualLine_NoTopPredictsZero(t *testing.T) {
	current := []uint8{3}
	residual := ResidualLine(current, nil)
	if residual[0] != zigzagEncode(3) {
		t.Errorf("residual = %d, want zigzag(3) = %d", residual[0], zigzagEncode(3))
	}
}

func TestZeroCoefLine_FlagsOnlyDropToZero(t *testing.T) {
	top := []uint8{4, 0, 2}
	current := []uint8{0, 0, 2}
	got := ZeroCoefLine(current, top)
	want := []bool{true, false, false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ZeroCoefLine = %v, want %v", got, want)
	}
}

func TestWriteResidualLine_MatchesEstimatedBits(t *testing.T) {
	residual := []int32{0, 1, 2, 3}
	want := EstimateResidualBits(residual)

	buf := make([]byte, 8)
	w := bitio.New(buf)
	if err := WriteResidualLine(w, residual); err != nil {
		t.Fatalf("WriteResidualLine: %v", err)
	}
	if w.OffsetBits() != want {
		t.Errorf("wrote %d bits, want %d from EstimateResidualBits", w.OffsetBits(), want)
	}
}

func TestWriteZeroCoefLine_OneBitPerGroup(t *testing.T) {
	flags := []bool{true, false, true, true}
	buf := make([]byte, 1)
	w := bitio.New(buf)
	if err := WriteZeroCoefLine(w, flags); err != nil {
		t.Fatalf("WriteZeroCoefLine: %v", err)
	}
	if w.OffsetBits() != len(flags) {
		t.Errorf("wrote %d bits, want %d", w.OffsetBits(), len(flags))
	}
	if buf[0] != 0b1011_0000 {
		t.Errorf("buf[0] = %08b, want %08b", buf[0], 0b1011_0000)
	}
}

func TestZigzag_RoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 42, -42, 127, -128} {
		got := zigzagDecode(zigzagEncode(v))
		if got != v {
			t.Errorf("zigzagDecode(zigzagEncode(%d)) = %d", v, got)
		}
	}
}
