package quant

import (
	"reflect"
	"testing"

	"github.com/mrjoshuak/go-jpegxs/internal/markers"
)

func TestLine_ZeroGTLIIsNoop(t *testing.T) {
	line := []int32{1, -2, 3, -4}
	orig := append([]int32(nil), line...)
	Line(line, 0, markers.QuantDeadzone)
	if !reflect.DeepEqual(line, orig) {
		t.Errorf("Line with gtli=0 mutated data: got %v, want %v", line, orig)
	}
}

func TestLine_DeadzoneTruncatesTowardZero(t *testing.T) {
	line := []int32{7, -7, 8, -8}
	Line(line, 2, markers.QuantDeadzone)
	want := []int32{4, -4, 8, -8}
	if !reflect.DeepEqual(line, want) {
		t.Errorf("deadzone quantize = %v, want %v", line, want)
	}
}

func TestLine_UniformRoundsToNearestStep(t *testing.T) {
	line := []int32{7, -7}
	Line(line, 2, markers.QuantUniform)
	want := []int32{8, -8}
	if !reflect.DeepEqual(line, want) {
		t.Errorf("uniform quantize = %v, want %v", line, want)
	}
}

func TestBand_AppliesLinePerRow(t *testing.T) {
	lines := [][]int32{{7, -7}, {3, -3}}
	Band(lines, 2, markers.QuantDeadzone)
	want := [][]int32{{4, -4}, {0, 0}}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("Band quantize = %v, want %v", lines, want)
	}
}
