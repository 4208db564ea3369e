package ratecontrol

// PrecinctBudgets distributes a slice's total byte budget across
// precCount precincts according to mode, matching spec.md §4.8's four
// RC modes. usedBytes (one entry per precinct, in order) is only
// consulted by modes that redistribute padding or enforce a spread
// cap; pass nil before any precinct in the slice has actually been
// packed, in which case those modes fall back to an even split.
func PrecinctBudgets(mode Mode, sliceBudget, precCount int, usedBytes []int) []int {
	if precCount <= 0 {
		return nil
	}

	switch mode {
	case PerPrecinctMovePadding:
		return movePaddingBudgets(sliceBudget, precCount, usedBytes)
	case PerSliceCommonQuant, PerSliceMaxRate:
		// Both share-one-(q,r) modes pack every precinct against the
		// single (quantization, refinement) pair SearchSlice finds, so
		// the per-precinct split here only fixes each precinct's pad
		// window; it starts even plus the first-precinct bonus, and
		// PerSliceMaxRate further reshapes it via ApplyMaxRatio once the
		// actual used bytes are known.
		return evenBudgetsWithBonus(sliceBudget, precCount)
	default: // PerPrecinct
		return evenBudgets(sliceBudget, precCount)
	}
}

func evenBudgets(sliceBudget, precCount int) []int {
	base := sliceBudget / precCount
	remainder := sliceBudget - base*precCount
	out := make([]int, precCount)
	for i := range out {
		out[i] = base
		if i < remainder {
			out[i]++
		}
	}
	return out
}

// evenBudgetsWithBonus applies the first-precinct bonus spec.md §4.8
// describes (10-20% depending on sign-handling mode) by taking it off
// the remaining precincts' even split, distributing the remainder of
// that division so the result still sums to exactly sliceBudget.
func evenBudgetsWithBonus(sliceBudget, precCount int) []int {
	out := evenBudgets(sliceBudget, precCount)
	if precCount < 2 {
		return out
	}
	bonus := out[0] * firstPrecinctBonusNumerator / firstPrecinctBonusDenominator
	out[0] += bonus

	remaining := precCount - 1
	perOther := bonus / remaining
	extra := bonus - perOther*remaining
	for i := 1; i < precCount; i++ {
		take := perOther
		if i-1 < extra {
			take++
		}
		out[i] -= take
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}

// movePaddingBudgets carries each precinct's unused bytes (sliceBudget
// slice minus usedBytes, when known) forward into the next precinct's
// budget, except the last precinct which keeps its own pad.
func movePaddingBudgets(sliceBudget, precCount int, usedBytes []int) []int {
	budgets := evenBudgetsWithBonus(sliceBudget, precCount)
	if len(usedBytes) != precCount {
		return budgets
	}
	carry := 0
	for i := 0; i < precCount; i++ {
		budgets[i] += carry
		pad := budgets[i] - usedBytes[i]
		if pad < 0 {
			pad = 0
		}
		if i < precCount-1 {
			carry = pad
		}
	}
	return budgets
}

// ApplyMaxRatio enforces per-slice max-rate mode's spread cap: no
// precinct's used bytes may exceed MaxRatio times the smallest
// precinct's used bytes. A precinct over the cap has its own budget
// shrunk down to the cap; the bytes freed that way move to the slice's
// last precinct as extra padding, so the total across budgets is
// unchanged.
func ApplyMaxRatio(budgets []int, usedBytes []int) []int {
	if len(usedBytes) == 0 {
		return budgets
	}
	minUsed := usedBytes[0]
	for _, u := range usedBytes[1:] {
		if u < minUsed {
			minUsed = u
		}
	}
	if minUsed == 0 {
		return budgets
	}
	capBytes := minUsed * MaxRatio

	out := append([]int(nil), budgets...)
	lastIdx := len(out) - 1
	for i, u := range usedBytes {
		if i == lastIdx || u <= capBytes {
			continue
		}
		overage := u - capBytes
		if overage > out[i] {
			overage = out[i]
		}
		out[i] -= overage
		out[lastIdx] += overage
	}
	return out
}
