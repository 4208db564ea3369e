package dwt

import "testing"

func TestForwardInverse53_RoundTrip_EvenLength(t *testing.T) {
	orig := []int32{10, 20, 30, 40, 50, 60, 70, 80}
	data := append([]int32(nil), orig...)

	Forward53(data, len(data))
	Inverse53(data, len(data))

	for i := range orig {
		if data[i] != orig[i] {
			t.Errorf("data[%d] = %d, want %d (round-trip mismatch)", i, data[i], orig[i])
		}
	}
}

func TestForwardInverse53_RoundTrip_OddLength(t *testing.T) {
	orig := []int32{5, 15, 25, 35, 45}
	data := append([]int32(nil), orig...)

	Forward53(data, len(data))
	Inverse53(data, len(data))

	for i := range orig {
		if data[i] != orig[i] {
			t.Errorf("data[%d] = %d, want %d (round-trip mismatch)", i, data[i], orig[i])
		}
	}
}

func TestForward53_ConstantSignalCollapsesHighBand(t *testing.T) {
	data := []int32{7, 7, 7, 7, 7, 7}
	Forward53(data, len(data))

	half := len(data) / 2
	for i := half; i < len(data); i++ {
		if data[i] != 0 {
			t.Errorf("high band[%d] = %d, want 0 for constant input", i-half, data[i])
		}
	}
}

func TestForward53_ShortLengthIsNoop(t *testing.T) {
	data := []int32{42}
	Forward53(data, 1)
	if data[0] != 42 {
		t.Errorf("data[0] = %d, want unchanged 42", data[0])
	}
}

func TestPointTransform_RoundTrip(t *testing.T) {
	const fq = 8
	for _, v := range []int32{0, 1, -1, 255, -255} {
		coef := PointTransform(v, fq)
		if got := InversePointTransform(coef, fq); got != v {
			t.Errorf("InversePointTransform(PointTransform(%d)) = %d", v, got)
		}
	}
}
