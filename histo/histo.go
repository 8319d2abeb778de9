// SPDX-License-Identifier: MIT

// Package histo implements the per-(node, feature) weighted histogram that
// split search consumes.
//
// Each bin accumulates {w, wy, wyy, count, min, max} over the rows routed to
// one tree node, where y is the row's current residual. Rows whose feature
// value is NA are accumulated into a separate NA bucket so split search can
// weigh the three NA routing policies.
//
// Two update disciplines are supported, matching the two concurrency modes
// of the aggregation pass:
//
//   - Private: Add on a histogram owned by exactly one worker; workers'
//     copies are folded together pairwise with Merge at task join.
//   - Shared: many workers update one histogram through AddAtomic or, far
//     cheaper, by batching into a private scratch histogram and draining it
//     with FlushAtomic (one CAS per touched bin field instead of one per row).
package histo

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/katalvlaran/grove/binning"
)

// Histogram accumulates weighted residual moments per bin for one
// (node, feature) pair. Field slices all have length Layout.NumBins().
type Histogram struct {
	Layout *binning.Layout

	W     []float64 // sum of row weights
	WY    []float64 // sum of weight*residual
	WYY   []float64 // sum of weight*residual^2
	Count []int64   // plain row count
	Min   []float64 // smallest feature value observed in the bin
	Max   []float64 // largest feature value observed in the bin

	// NA bucket: rows whose feature value is NaN.
	NAW     float64
	NAWY    float64
	NAWYY   float64
	NACount int64
}

// New returns a zeroed histogram over the given bin layout.
func New(layout *binning.Layout) *Histogram {
	n := layout.NumBins()
	h := &Histogram{
		Layout: layout,
		W:      make([]float64, n),
		WY:     make([]float64, n),
		WYY:    make([]float64, n),
		Count:  make([]int64, n),
		Min:    make([]float64, n),
		Max:    make([]float64, n),
	}
	h.Reset()
	return h
}

// Reset zeroes every accumulator; Min/Max return to ±Inf guards.
func (h *Histogram) Reset() {
	for i := range h.W {
		h.W[i] = 0
		h.WY[i] = 0
		h.WYY[i] = 0
		h.Count[i] = 0
		h.Min[i] = math.Inf(1)
		h.Max[i] = math.Inf(-1)
	}
	h.NAW, h.NAWY, h.NAWYY, h.NACount = 0, 0, 0, 0
}

// Add accumulates one row: feature value v, weight w, residual y.
// NA feature values land in the NA bucket. Not safe for concurrent use.
func (h *Histogram) Add(v, w, y float64) {
	b := h.Layout.Bin(v)
	if b < 0 {
		h.NAW += w
		h.NAWY += w * y
		h.NAWYY += w * y * y
		h.NACount++
		return
	}
	h.W[b] += w
	h.WY[b] += w * y
	h.WYY[b] += w * y * y
	h.Count[b]++
	if v < h.Min[b] {
		h.Min[b] = v
	}
	if v > h.Max[b] {
		h.Max[b] = v
	}
}

// Merge folds other into h bin-by-bin. The two histograms must share a
// layout. Not safe for concurrent use on h.
func (h *Histogram) Merge(other *Histogram) {
	for i := range h.W {
		h.W[i] += other.W[i]
		h.WY[i] += other.WY[i]
		h.WYY[i] += other.WYY[i]
		h.Count[i] += other.Count[i]
		if other.Min[i] < h.Min[i] {
			h.Min[i] = other.Min[i]
		}
		if other.Max[i] > h.Max[i] {
			h.Max[i] = other.Max[i]
		}
	}
	h.NAW += other.NAW
	h.NAWY += other.NAWY
	h.NAWYY += other.NAWYY
	h.NACount += other.NACount
}

// AddAtomic accumulates one row into a shared histogram with atomic
// operations. Far costlier per row than Add+FlushAtomic batching; used by
// the unordered aggregation mode where rows of many nodes interleave and no
// per-node batch can form.
func (h *Histogram) AddAtomic(v, w, y float64) {
	b := h.Layout.Bin(v)
	if b < 0 {
		AtomicAddFloat64(&h.NAW, w)
		AtomicAddFloat64(&h.NAWY, w*y)
		AtomicAddFloat64(&h.NAWYY, w*y*y)
		atomic.AddInt64(&h.NACount, 1)
		return
	}
	AtomicAddFloat64(&h.W[b], w)
	AtomicAddFloat64(&h.WY[b], w*y)
	AtomicAddFloat64(&h.WYY[b], w*y*y)
	atomic.AddInt64(&h.Count[b], 1)
	atomicMinFloat64(&h.Min[b], v)
	atomicMaxFloat64(&h.Max[b], v)
}

// FlushAtomic drains src (a worker-private scratch histogram) into h using
// atomic operations, then resets src. Safe for concurrent callers on h.
// This is the batched update path of the shared-histogram mode.
func (h *Histogram) FlushAtomic(src *Histogram) {
	for i := range src.W {
		if src.Count[i] == 0 {
			continue
		}
		AtomicAddFloat64(&h.W[i], src.W[i])
		AtomicAddFloat64(&h.WY[i], src.WY[i])
		AtomicAddFloat64(&h.WYY[i], src.WYY[i])
		atomic.AddInt64(&h.Count[i], src.Count[i])
		atomicMinFloat64(&h.Min[i], src.Min[i])
		atomicMaxFloat64(&h.Max[i], src.Max[i])
	}
	if src.NACount != 0 {
		AtomicAddFloat64(&h.NAW, src.NAW)
		AtomicAddFloat64(&h.NAWY, src.NAWY)
		AtomicAddFloat64(&h.NAWYY, src.NAWYY)
		atomic.AddInt64(&h.NACount, src.NACount)
	}
	src.Reset()
}

// Clone returns a zeroed histogram with the same layout, for the deep-clone
// aggregation mode.
func (h *Histogram) Clone() *Histogram { return New(h.Layout) }

// TotalW returns the summed bin weights plus the NA bucket: the total
// active weight routed through this histogram.
func (h *Histogram) TotalW() float64 {
	t := h.NAW
	for _, w := range h.W {
		t += w
	}
	return t
}

// AtomicAddFloat64 adds delta to *addr with a compare-and-swap loop.
func AtomicAddFloat64(addr *float64, delta float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(p, old, next) {
			return
		}
	}
}

func atomicMinFloat64(addr *float64, v float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		if math.Float64frombits(old) <= v {
			return
		}
		if atomic.CompareAndSwapUint64(p, old, math.Float64bits(v)) {
			return
		}
	}
}

func atomicMaxFloat64(addr *float64, v float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		if math.Float64frombits(old) >= v {
			return
		}
		if atomic.CompareAndSwapUint64(p, old, math.Float64bits(v)) {
			return
		}
	}
}
