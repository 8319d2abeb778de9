// SPDX-License-Identifier: MIT

// Package binning turns raw feature columns into histogram bin layouts.
//
// Numeric features get monotone float64 edges: either equal-width between
// the observed min and max, or population quantiles so every bin holds
// roughly the same row mass. Categorical features get one bin per level up
// to a configured cap; levels at or beyond the cap share the last bin.
//
// The package is deliberately stateless: a Layout is a value computed once
// per feature and shared read-only by every histogram that buckets with it.
package binning

import (
	"errors"
	"math"
	"sort"
)

// Sentinel errors.
var (
	// ErrBadBinCount indicates a requested bin count below 1.
	ErrBadBinCount = errors.New("binning: bin count must be at least 1")

	// ErrNoFiniteValues indicates a numeric feature with no finite values
	// to derive a range from.
	ErrNoFiniteValues = errors.New("binning: no finite values in feature")
)

// Layout describes how one feature's values map to histogram bins.
//
// For numeric layouts, Edges holds nbins+1 monotone thresholds; value v lands
// in bin i iff Edges[i] <= v < Edges[i+1] (the last bin is closed on the
// right). For categorical layouts Edges is nil and level codes map to bins
// directly, clamped to the level cap.
type Layout struct {
	Categorical bool
	Edges       []float64 // nil for categorical layouts
	bins        int
}

// NumBins returns the number of bins in the layout.
func (l *Layout) NumBins() int { return l.bins }

// Bin maps a value to its bin index, or -1 for NA (NaN), for numeric values
// outside [Edges[0], Edges[last]] (including ±Inf), and for negative
// categorical codes. Categorical codes at or above NumBins clamp to the
// last bin.
//
// Complexity: O(log bins) numeric, O(1) categorical.
func (l *Layout) Bin(v float64) int {
	if math.IsNaN(v) {
		return -1
	}
	if l.Categorical {
		b := int(v)
		if b < 0 {
			return -1
		}
		if b >= l.bins {
			b = l.bins - 1
		}
		return b
	}

	edges := l.Edges
	if v < edges[0] || v > edges[len(edges)-1] {
		return -1
	}
	// Rightmost edge belongs to the last bin.
	if v == edges[len(edges)-1] {
		return l.bins - 1
	}
	// Binary search for the bin with edges[i] <= v < edges[i+1].
	i := sort.SearchFloat64s(edges, v)
	if i < len(edges) && edges[i] == v {
		return i
	}
	return i - 1
}

// EqualWidth builds a numeric layout of nbins equal-width bins spanning
// [min, max]. A degenerate range (min == max) still yields one usable bin.
func EqualWidth(min, max float64, nbins int) (*Layout, error) {
	if nbins < 1 {
		return nil, ErrBadBinCount
	}
	if math.IsNaN(min) || math.IsNaN(max) || min > max {
		return nil, ErrNoFiniteValues
	}
	if min == max {
		// Single point: one bin wide enough to accept it.
		return &Layout{Edges: []float64{min, math.Nextafter(max, math.Inf(1))}, bins: 1}, nil
	}

	edges := make([]float64, nbins+1)
	width := (max - min) / float64(nbins)
	for i := 0; i <= nbins; i++ {
		edges[i] = min + width*float64(i)
	}
	edges[0] = min
	edges[nbins] = max
	return &Layout{Edges: edges, bins: nbins}, nil
}

// Quantile builds a numeric layout whose edges are population quantiles of
// values (weights ignored for edge placement; NaNs skipped). Duplicate edges
// from heavy ties are collapsed, so the returned layout may hold fewer than
// nbins bins: never zero.
func Quantile(values []float64, nbins int) (*Layout, error) {
	if nbins < 1 {
		return nil, ErrBadBinCount
	}

	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return nil, ErrNoFiniteValues
	}
	sort.Float64s(finite)

	edges := make([]float64, 0, nbins+1)
	edges = append(edges, finite[0])
	for i := 1; i < nbins; i++ {
		pos := float64(i) / float64(nbins) * float64(len(finite)-1)
		e := finite[int(pos)]
		if e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	last := finite[len(finite)-1]
	if last > edges[len(edges)-1] {
		edges = append(edges, last)
	} else {
		// All values equal: widen the single bin as EqualWidth does.
		edges = append(edges, math.Nextafter(last, math.Inf(1)))
	}

	return &Layout{Edges: edges, bins: len(edges) - 1}, nil
}

// CategoricalLayout builds a one-bin-per-level layout over nlevels levels,
// capped at maxBins. Levels at or beyond the cap fold into the last bin.
func CategoricalLayout(nlevels, maxBins int) (*Layout, error) {
	if nlevels < 1 || maxBins < 1 {
		return nil, ErrBadBinCount
	}
	bins := nlevels
	if bins > maxBins {
		bins = maxBins
	}
	return &Layout{Categorical: true, bins: bins}, nil
}

// ColumnRange scans a column's values for the finite min and max, skipping
// NaN and ±Inf. ok is false when nothing finite was seen.
func ColumnRange(values []float64) (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, min <= max
}
