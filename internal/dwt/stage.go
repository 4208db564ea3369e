package dwt

import "fmt"

// PrecinctTile holds one precinct's worth of coefficients for a single
// component: BandLines[b] is the list of lines populated for band b,
// exactly p_info.b_info[c][b].height of them, each width-sized per that
// band's Width.
type PrecinctTile struct {
	BandLines [][][]int32
}

// Stage is the per-component DWT driver described in spec.md §4.5: it
// buffers input rows and, once enough have arrived, runs decom_v
// vertical-only lifting passes followed by decom_h - decom_v
// horizontal-only passes, emitting one precinct tile per RowsPerPrecinct
// input rows. Buffer sizing matches the design's guidance: the low-pass
// carry-over is exactly 1<<decom_v rows, the minimum that makes a
// complete precinct.
type Stage struct {
	width  int
	decomH int
	decomV int
	fq     uint8

	bandWidths  []int
	bandHeights []int

	rowBuf [][]int32
}

// NewStage constructs a Stage for one component. fq is the PIH's Fq
// fraction-bit count used by PointTransform when rows are ingested.
func NewStage(width, decomH, decomV int, fq uint8) (*Stage, error) {
	if decomH < decomV {
		return nil, fmt.Errorf("dwt: decom_h (%d) must be >= decom_v (%d)", decomH, decomV)
	}
	s := &Stage{width: width, decomH: decomH, decomV: decomV, fq: fq}

	n := decomH + 1
	s.bandWidths = make([]int, n)
	s.bandHeights = make([]int, n)
	for i := 0; i < decomV; i++ {
		s.bandWidths[i] = width
		s.bandHeights[i] = 1 << uint(decomV-i-1)
	}
	w := width
	for i := decomV; i < decomH; i++ {
		low := (w + 1) / 2
		high := w / 2
		s.bandWidths[i] = high
		s.bandHeights[i] = 1
		w = low
	}
	s.bandWidths[decomH] = w
	s.bandHeights[decomH] = 1
	return s, nil
}

// RowsPerPrecinct returns how many input rows PushRow must accumulate
// before it emits a precinct tile: 1<<decom_v.
func (s *Stage) RowsPerPrecinct() int { return 1 << uint(s.decomV) }

// BandWidths returns each band's coefficient width, matching pi.Band.Width.
func (s *Stage) BandWidths() []int { return s.bandWidths }

// BandHeights returns each band's per-precinct line count, matching
// pi.Band.PrecinctHeight.
func (s *Stage) BandHeights() []int { return s.bandHeights }

// PushRow feeds one input row (already extracted from the frame plane,
// not yet scaled). It returns a completed PrecinctTile and ok=true once
// RowsPerPrecinct rows have been pushed since the last tile, resetting
// the internal buffer.
func (s *Stage) PushRow(row []int32) (tile *PrecinctTile, ok bool, err error) {
	if len(row) != s.width {
		return nil, false, fmt.Errorf("dwt: row length %d != component width %d", len(row), s.width)
	}
	scaled := make([]int32, s.width)
	for i, v := range row {
		scaled[i] = PointTransform(v, s.fq)
	}
	s.rowBuf = append(s.rowBuf, scaled)
	if len(s.rowBuf) < s.RowsPerPrecinct() {
		return nil, false, nil
	}

	tile, err = s.transform(s.rowBuf)
	s.rowBuf = nil
	if err != nil {
		return nil, false, err
	}
	return tile, true, nil
}

// Flush reports whether a partial precinct is pending; in well-formed
// configurations (component height a multiple of RowsPerPrecinct) it
// never should be, since PI's invariants guarantee slice_height and
// hence the final precinct line up exactly.
func (s *Stage) Flush() bool { return len(s.rowBuf) > 0 }

func (s *Stage) transform(rows [][]int32) (*PrecinctTile, error) {
	tile := &PrecinctTile{BandLines: make([][][]int32, s.decomH+1)}

	cur := rows
	for i := 0; i < s.decomV; i++ {
		bufLen := len(cur)
		half := bufLen / 2
		lowRows := make([][]int32, half)
		highRows := make([][]int32, half)
		for r := range lowRows {
			lowRows[r] = make([]int32, s.width)
			highRows[r] = make([]int32, s.width)
		}

		col := make([]int32, bufLen)
		for x := 0; x < s.width; x++ {
			for r := 0; r < bufLen; r++ {
				col[r] = cur[r][x]
			}
			Forward53(col, bufLen)
			for r := 0; r < half; r++ {
				lowRows[r][x] = col[r]
				highRows[r][x] = col[half+r]
			}
		}

		tile.BandLines[i] = highRows
		cur = lowRows
	}

	row := append([]int32(nil), cur[0]...)
	curWidth := s.width
	bandIdx := s.decomV
	for i := 0; i < s.decomH-s.decomV; i++ {
		Forward53(row[:curWidth], curWidth)
		low := (curWidth + 1) / 2
		high := curWidth / 2
		highLine := append([]int32(nil), row[low:low+high]...)
		tile.BandLines[bandIdx] = [][]int32{highLine}
		bandIdx++
		curWidth = low
	}
	tile.BandLines[s.decomH] = [][]int32{append([]int32(nil), row[:curWidth]...)}

	return tile, nil
}
