package packer

import (
	"testing"

	"github.com/mrjoshuak/go-jpegxs/internal/bitio"
	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/precinct"
	"github.com/mrjoshuak/go-jpegxs/internal/ratecontrol"
)

func testInfo(t *testing.T) *pi.Info {
	t.Helper()
	info, err := pi.New(pi.Config{
		Width: 16, Height: 16, BitDepth: 8,
		ColourFormat: pi.ColourYUV422,
		DecomH:       1, DecomV: 0,
		SliceHeight: 16,
	})
	if err != nil {
		t.Fatalf("pi.New: %v", err)
	}
	return info
}

func fillPrecinct(info *pi.Info) *precinct.Precinct {
	p := precinct.New(info, 0)
	for ci, comp := range info.Components {
		for bi, band := range comp.Bands {
			for line := 0; line < band.PrecinctHeight; line++ {
				coeffs := make([]int32, band.Width)
				for x := range coeffs {
					coeffs[x] = int32((x*3 + bi*5 + ci*7) % 40)
				}
				p.AppendLine(ci, bi, coeffs)
			}
		}
	}
	return p
}

func TestWritePrecinct_FillsExactlyPadToBytes(t *testing.T) {
	info := testInfo(t)
	prec := fillPrecinct(info)

	rc := ratecontrol.New(ratecontrol.Config{
		GroupSize: 4, SignificanceGroupSize: 8,
		QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff,
	})
	budget := 256
	results, err := rc.SearchPrecinct(prec, info, budget)
	if err != nil {
		t.Fatalf("SearchPrecinct: %v", err)
	}

	buf := make([]byte, budget+64)
	w := bitio.New(buf)
	opts := Options{
		GroupSize: 4, SignificanceGroupSize: 8,
		QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff,
		UseShortHeader: info.UseShortHeader, PadToBytes: budget,
	}
	if err := WritePrecinct(w, info, prec, results, opts); err != nil {
		t.Fatalf("WritePrecinct: %v", err)
	}
	if w.Offset() != budget {
		t.Errorf("wrote %d bytes, want exactly %d (the padded budget)", w.Offset(), budget)
	}
}

func TestWritePrecinct_SignificanceMode(t *testing.T) {
	info := testInfo(t)
	prec := fillPrecinct(info)

	rc := ratecontrol.New(ratecontrol.Config{
		GroupSize: 4, SignificanceGroupSize: 8,
		QuantMethod: markers.QuantUniform, SignHandling: markers.SignFull,
		SignificanceAllowed: true,
	})
	budget := 256
	results, err := rc.SearchPrecinct(prec, info, budget)
	if err != nil {
		t.Fatalf("SearchPrecinct: %v", err)
	}

	buf := make([]byte, budget+64)
	w := bitio.New(buf)
	opts := Options{
		GroupSize: 4, SignificanceGroupSize: 8,
		QuantMethod: markers.QuantUniform, SignHandling: markers.SignFull,
		UseShortHeader: info.UseShortHeader, PadToBytes: budget,
	}
	if err := WritePrecinct(w, info, prec, results, opts); err != nil {
		t.Fatalf("WritePrecinct: %v", err)
	}
	if w.Offset() != budget {
		t.Errorf("wrote %d bytes, want %d", w.Offset(), budget)
	}
}
