// Package dwt provides the 5-3 reversible lifting kernel JPEG XS uses
// for its wavelet decomposition, and the precinct-oriented driver
// (Stage) that feeds component rows through it in the order and
// buffering scheme spec.md §4.5 describes.
//
// The lifting steps themselves are the teacher's Forward53/Inverse53
// from internal/dwt/dwt.go, carried over nearly verbatim: JPEG XS's 5-3
// reversible kernel is numerically identical to JPEG 2000's, and its
// exact coefficient arithmetic is normative elsewhere (ISO/IEC 21122-1),
// not part of this design — only the invocation order changes, which is
// Stage's job, not the kernel's.
package dwt

// Forward53 performs the forward 5-3 reversible wavelet transform
// in-place over data[:length]. After transformation the first half of
// data[:length] holds low-pass (L) coefficients and the second half
// holds high-pass (H) coefficients.
func Forward53(data []int32, length int) {
	if length < 2 {
		return
	}

	// Step 1: update odd samples (high-pass).
	// H[n] = X[2n+1] - floor((X[2n] + X[2n+2]) / 2)
	for i := 1; i < length-1; i += 2 {
		data[i] -= (data[i-1] + data[i+1]) >> 1
	}
	if length&1 == 0 {
		data[length-1] -= data[length-2]
	}

	// Step 2: update even samples (low-pass).
	// L[n] = X[2n] + floor((H[n-1] + H[n] + 2) / 4)
	data[0] += (data[1] + data[1] + 2) >> 2
	for i := 2; i < length-1; i += 2 {
		data[i] += (data[i-1] + data[i+1] + 2) >> 2
	}
	if length&1 != 0 {
		data[length-1] += (data[length-2] + data[length-2] + 2) >> 2
	}

	deinterleave(data, length)
}

// Inverse53 performs the inverse 5-3 reversible wavelet transform.
func Inverse53(data []int32, length int) {
	if length < 2 {
		return
	}

	interleave(data, length)

	data[0] -= (data[1] + data[1] + 2) >> 2
	for i := 2; i < length-1; i += 2 {
		data[i] -= (data[i-1] + data[i+1] + 2) >> 2
	}
	if length&1 != 0 {
		data[length-1] -= (data[length-2] + data[length-2] + 2) >> 2
	}

	for i := 1; i < length-1; i += 2 {
		data[i] += (data[i-1] + data[i+1]) >> 1
	}
	if length&1 == 0 {
		data[length-1] += data[length-2]
	}
}

func deinterleave(data []int32, length int) {
	if length < 2 {
		return
	}
	temp := make([]int32, length)
	halfLen := (length + 1) / 2
	for i, j := 0, 0; i < length; i, j = i+2, j+1 {
		temp[j] = data[i]
	}
	for i, j := 1, halfLen; i < length; i, j = i+2, j+1 {
		temp[j] = data[i]
	}
	copy(data[:length], temp)
}

func interleave(data []int32, length int) {
	if length < 2 {
		return
	}
	temp := make([]int32, length)
	copy(temp, data[:length])
	halfLen := (length + 1) / 2
	for i, j := 0, 0; j < halfLen; i, j = i+2, j+1 {
		data[i] = temp[j]
	}
	for i, j := 1, halfLen; j < length; i, j = i+2, j+1 {
		data[i] = temp[j]
	}
}

// PointTransform applies the non-linear input scaling that lifts a
// bitDepth-bit sample into the Bw-bit/Fq-fraction-bit wavelet domain the
// header's hdr_Bw/hdr_Fq fields describe. The exact non-linear scaling
// curve is part of the normative bitstream definition and out of scope
// here; this applies the fixed-point scale the design calls for.
func PointTransform(sample int32, fq uint8) int32 {
	return sample << fq
}

// InversePointTransform undoes PointTransform.
func InversePointTransform(coef int32, fq uint8) int32 {
	return coef >> fq
}
