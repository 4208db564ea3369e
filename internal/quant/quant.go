// Package quant implements the in-place coefficient quantizer spec.md
// §4.9 describes: dead-zone or uniform quantization of a band's 16-bit
// coefficients down to a chosen gtli (global truncation line index),
// selected by the picture header's hdr_Qpih field.
//
// Grounded on the teacher's internal/dwt rounding helpers — both are
// small, branch-light, in-place numeric transforms over []int32
// coefficient buffers — generalized here from irreversible-transform
// rounding to truncation-driven quantization.
package quant

import "github.com/mrjoshuak/go-jpegxs/internal/markers"

// Method selects the quantizer variant; values match markers.QuantDeadzone
// and markers.QuantUniform so callers can pass hdr_Qpih directly.
type Method = uint8

// Line quantizes one band line in place to the given gtli using method.
// gtli == 0 is a no-op: nothing is truncated.
func Line(line []int32, gtli uint8, method Method) {
	if gtli == 0 {
		return
	}
	switch method {
	case markers.QuantUniform:
		uniform(line, gtli)
	default:
		deadzone(line, gtli)
	}
}

// deadzone quantizes by truncating gtli low-order magnitude bits and
// rounding toward zero, widening the reconstruction dead-zone around 0 —
// the JPEG-family default, trading a slightly larger zero region for
// not needing a rounding offset at encode time.
func deadzone(line []int32, gtli uint8) {
	shift := uint(gtli)
	for i, v := range line {
		if v < 0 {
			line[i] = -((-v) >> shift << shift)
		} else {
			line[i] = v >> shift << shift
		}
	}
}

// uniform quantizes with a rounding offset of half a step before
// truncating, centering reconstruction on each step instead of
// widening the zero bin.
func uniform(line []int32, gtli uint8) {
	shift := uint(gtli)
	half := int32(1) << (shift - 1)
	for i, v := range line {
		if v < 0 {
			mag := -v
			mag = (mag + half) >> shift << shift
			line[i] = -mag
		} else {
			line[i] = (v + half) >> shift << shift
		}
	}
}

// Band quantizes every line of a band in place.
func Band(lines [][]int32, gtli uint8, method Method) {
	for _, line := range lines {
		Line(line, gtli, method)
	}
}
