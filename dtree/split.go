// SPDX-License-Identifier: MIT

package dtree

import (
	"math"
	"sort"

	"github.com/katalvlaran/grove/histo"
)

// accum is a running {weight, wy, wyy} triple for one split arm.
type accum struct {
	w, wy, wyy float64
}

func (a *accum) add(w, wy, wyy float64) {
	a.w += w
	a.wy += wy
	a.wyy += wyy
}

// se returns the weighted squared-error of the arm around its own mean.
func (a accum) se() float64 {
	if a.w <= 0 {
		return 0
	}
	s := a.wyy - a.wy*a.wy/a.w
	if s < 0 {
		// Guard tiny negative values from float cancellation.
		return 0
	}
	return s
}

// FindBestSplit sweeps one (node, feature) histogram for the boundary that
// maximizes squared-error reduction.
//
// The sweep walks occupied bins left-to-right (numeric: bin index order;
// categorical: bins ordered by mean residual, yielding a bitset predicate)
// accumulating prefix sums. At every boundary both NA placements are scored
// (with-left and with-right; identical when the node has no NA rows, in
// which case the tie resolves to NALeft). The NA-vs-rest arm is scored once
// after the sweep. Ties between boundaries break toward the lower bin index
// via strict comparison.
//
// No split is returned when the best improvement does not exceed minImprove
// or any resulting child would hold less than minRows weight.
func FindBestSplit(h *histo.Histogram, col int, minRows, minImprove float64) (Split, bool) {
	nbins := len(h.W)

	// 1) Totals over every bin plus the NA bucket.
	var bins, na accum
	for b := 0; b < nbins; b++ {
		bins.add(h.W[b], h.WY[b], h.WYY[b])
	}
	na = accum{w: h.NAW, wy: h.NAWY, wyy: h.NAWYY}

	all := bins
	all.add(na.w, na.wy, na.wyy)
	if all.w < 2*minRows {
		return Split{}, false
	}
	seBefore := all.se()

	// 2) Occupied bins in sweep order.
	order := make([]int, 0, nbins)
	for b := 0; b < nbins; b++ {
		if h.W[b] > 0 {
			order = append(order, b)
		}
	}
	if len(order) < 2 && na.w == 0 {
		return Split{}, false
	}
	categorical := h.Layout.Categorical
	if categorical {
		sort.SliceStable(order, func(i, j int) bool {
			return h.WY[order[i]]/h.W[order[i]] < h.WY[order[j]]/h.W[order[j]]
		})
	}

	// 3) Suffix minima of observed values, for numeric threshold placement.
	var suffixMin []float64
	if !categorical {
		suffixMin = make([]float64, len(order)+1)
		suffixMin[len(order)] = math.Inf(1)
		for i := len(order) - 1; i >= 0; i-- {
			suffixMin[i] = math.Min(h.Min[order[i]], suffixMin[i+1])
		}
	}

	// 4) Prefix sweep over boundaries.
	var (
		best    Split
		bestImp = minImprove
		found   bool
		left    accum
		maxLeft = math.Inf(-1)
	)
	for i := 0; i+1 <= len(order)-1; i++ {
		b := order[i]
		left.add(h.W[b], h.WY[b], h.WYY[b])
		if v := h.Max[b]; v > maxLeft {
			maxLeft = v
		}

		right := bins
		right.w -= left.w
		right.wy -= left.wy
		right.wyy -= left.wyy

		// 4.1) Score both NA placements at this boundary.
		for _, naLeft := range [2]bool{true, false} {
			l, r := left, right
			if naLeft {
				l.add(na.w, na.wy, na.wyy)
			} else {
				r.add(na.w, na.wy, na.wyy)
			}
			if l.w < minRows || r.w < minRows {
				continue
			}
			imp := seBefore - l.se() - r.se()
			if imp <= bestImp {
				continue
			}
			bestImp = imp
			found = true
			best = buildSplit(h, col, order, i, naLeft, categorical, maxLeft, suffixMin)
			best.Improvement = imp
			if na.w == 0 {
				// Placements are identical without NA rows; keep NALeft.
				break
			}
		}
	}

	// 5) NA as its own arm.
	if na.w >= minRows && bins.w >= minRows {
		imp := seBefore - bins.se() - na.se()
		if imp > bestImp {
			bestImp = imp
			found = true
			best = Split{Col: col, NADir: NAVsRest, Improvement: imp}
		}
	}

	return best, found
}

// buildSplit materializes the predicate for the boundary after sweep
// position i.
func buildSplit(h *histo.Histogram, col int, order []int, i int, naLeft bool, categorical bool, maxLeft float64, suffixMin []float64) Split {
	dir := NARight
	if naLeft {
		dir = NALeft
	}

	if categorical {
		if i == 0 {
			// Single level on the left: equal-mode predicate.
			return Split{Col: col, Threshold: float64(order[0]), Equal: true, NADir: dir}
		}
		bits := NewBitset(len(h.W))
		for j := 0; j <= i; j++ {
			BitsetSet(bits, order[j])
		}
		return Split{Col: col, Bitset: bits, NADir: dir}
	}

	// Numeric: threshold halfway between the largest value observed left of
	// the boundary and the smallest observed right of it.
	minRight := suffixMin[i+1]
	return Split{Col: col, Threshold: (maxLeft + minRight) / 2, NADir: dir}
}
