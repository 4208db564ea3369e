package ratecontrol

import (
	"testing"

	"github.com/mrjoshuak/go-jpegxs/internal/markers"
	"github.com/mrjoshuak/go-jpegxs/internal/pi"
	"github.com/mrjoshuak/go-jpegxs/internal/precinct"
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

func fillPrecinct(info *pi.Info, fill func(ci, bi, line int, width int) []int32) *precinct.Precinct {
	p := precinct.New(info, 0)
	for ci, comp := range info.Components {
		for bi, band := range comp.Bands {
			for line := 0; line < band.PrecinctHeight; line++ {
				p.AppendLine(ci, bi, fill(ci, bi, line, band.Width))
			}
		}
	}
	return p
}

func randomish(ci, bi, line, width int) []int32 {
	out := make([]int32, width)
	for x := range out {
		out[x] = int32((x*7 + bi*3 + line*5 + ci) % 64)
	}
	return out
}

func TestSearchPrecinct_FindsFeasibleQuantization(t *testing.T) {
	info := testInfo(t)
	prec := fillPrecinct(info, randomish)

	c := New(Config{GroupSize: 4, SignificanceGroupSize: 8, QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff})
	results, err := c.SearchPrecinct(prec, info, 1000)
	if err != nil {
		t.Fatalf("SearchPrecinct: %v", err)
	}
	if len(results) != len(info.Components) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(info.Components))
	}
}

func TestSearchPrecinct_TinyBudgetFails(t *testing.T) {
	info := testInfo(t)
	prec := fillPrecinct(info, randomish)

	c := New(Config{GroupSize: 4, SignificanceGroupSize: 8, QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff})
	// Budget of 0 bytes can never be reached since packet headers alone
	// cost PacketHeaderBytes per band.
	if _, err := c.SearchPrecinct(prec, info, 0); err == nil {
		t.Fatal("expected ErrRateControlFailed for a zero-byte budget")
	}
}

func TestSearchPrecinct_LargerBudgetNeverCostsMoreBits(t *testing.T) {
	info := testInfo(t)
	prec := fillPrecinct(info, randomish)

	c := New(Config{GroupSize: 4, SignificanceGroupSize: 8, QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff})
	small, err := c.totalBitsForBudget(prec, info, 600)
	if err != nil {
		t.Fatalf("small budget: %v", err)
	}
	large, err := c.totalBitsForBudget(prec, info, 6000)
	if err != nil {
		t.Fatalf("large budget: %v", err)
	}
	if large < small {
		t.Errorf("larger budget produced smaller packed size: %d < %d", large, small)
	}
}

// totalBitsForBudget is a test helper summing the Bits the search chose
// at the budget it settled on.
func (c *Controller) totalBitsForBudget(prec *precinct.Precinct, info *pi.Info, budget int) (int, error) {
	results, err := c.SearchPrecinct(prec, info, budget)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, comp := range results {
		for _, r := range comp {
			total += r.Bits
		}
	}
	return total, nil
}

func TestEffectiveGTLI_MonotonicInQuantizationAndRefinement(t *testing.T) {
	a := effectiveGTLI(2, 5, 0)
	b := effectiveGTLI(2, 10, 0)
	if b <= a {
		t.Errorf("higher quantization should raise gtli: q=5 -> %d, q=10 -> %d", a, b)
	}
	c := effectiveGTLI(2, 10, 5)
	if c >= b {
		t.Errorf("higher refinement should lower gtli: r=0 -> %d, r=5 -> %d", b, c)
	}
}

func TestPrecinctBudgets_EvenSplitSumsToSliceBudget(t *testing.T) {
	budgets := PrecinctBudgets(PerPrecinct, 100, 3, nil)
	sum := 0
	for _, b := range budgets {
		sum += b
	}
	if sum != 100 {
		t.Errorf("sum of budgets = %d, want 100", sum)
	}
}

func TestPrecinctBudgets_MovePaddingCarriesForward(t *testing.T) {
	used := []int{20, 30, 40}
	budgets := PrecinctBudgets(PerPrecinctMovePadding, 150, 3, used)
	if len(budgets) != 3 {
		t.Fatalf("len(budgets) = %d, want 3", len(budgets))
	}
	// the first precinct's bonus should make it larger than an even split
	even := 150 / 3
	if budgets[0] <= even {
		t.Errorf("first precinct budget %d should exceed even split %d (bonus)", budgets[0], even)
	}
}

func TestApplyMaxRatio_CapsOverBudgetPrecincts(t *testing.T) {
	budgets := []int{100, 100, 100}
	used := []int{10, 41, 10} // precinct 1's 41 > 4*min(10) = 40
	out := ApplyMaxRatio(budgets, used)
	if out[1] >= budgets[1] {
		t.Errorf("expected precinct 1's budget reduced for exceeding MaxRatio, got %d", out[1])
	}
	if out[2] <= budgets[2] {
		t.Errorf("expected the last precinct to absorb the freed budget, got %d", out[2])
	}

	sum, want := 0, 0
	for i := range budgets {
		sum += out[i]
		want += budgets[i]
	}
	if sum != want {
		t.Errorf("ApplyMaxRatio changed the total budget: got %d, want %d", sum, want)
	}
}

func TestPrecinctBudgets_PerSliceModesSumToSliceBudget(t *testing.T) {
	for _, mode := range []Mode{PerSliceCommonQuant, PerSliceMaxRate} {
		budgets := PrecinctBudgets(mode, 100, 3, nil)
		sum := 0
		for _, b := range budgets {
			sum += b
		}
		if sum != 100 {
			t.Errorf("mode %v: sum of budgets = %d, want 100", mode, sum)
		}
	}
}

func TestSearchSlice_SharesOneQuantAcrossPrecincts(t *testing.T) {
	info := testInfo(t)
	precincts := []*precinct.Precinct{
		fillPrecinct(info, randomish),
		fillPrecinct(info, randomish),
	}

	cfg := Config{GroupSize: 4, SignificanceGroupSize: 8, QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff}
	results, used, err := SearchSlice(cfg, precincts, info, 2000)
	if err != nil {
		t.Fatalf("SearchSlice: %v", err)
	}
	if len(results) != len(precincts) || len(used) != len(precincts) {
		t.Fatalf("len(results)=%d len(used)=%d, want %d each", len(results), len(used), len(precincts))
	}

	// The shared (q,r) pair should pick the same gtli per band across
	// both precincts, since both share the same Config and band priority.
	for bi := range results[0][0] {
		if results[0][0][bi].GTLI != results[1][0][bi].GTLI {
			t.Errorf("band %d: GTLI diverged across precincts sharing one search: %d vs %d",
				bi, results[0][0][bi].GTLI, results[1][0][bi].GTLI)
		}
	}
}

func TestSearchSlice_TinyBudgetFails(t *testing.T) {
	info := testInfo(t)
	precincts := []*precinct.Precinct{fillPrecinct(info, randomish)}

	cfg := Config{GroupSize: 4, SignificanceGroupSize: 8, QuantMethod: markers.QuantDeadzone, SignHandling: markers.SignOff}
	if _, _, err := SearchSlice(cfg, precincts, info, 0); err == nil {
		t.Fatal("expected ErrRateControlFailed for a zero-byte slice budget")
	}
}
