// SPDX-License-Identifier: MIT

package boost

import (
	"math"

	"github.com/katalvlaran/grove/par"
	"github.com/katalvlaran/grove/quantile"
)

// residualPass overwrites Work[k] for every class with the loss's negative
// half-gradient at the current prediction Tree[k] (+ offset). Rows with
// zero weight or NA response get residual 0 and are skipped downstream.
//
// Chunk-parallel; barrier on return.
func (t *trainer) residualPass() error {
	if t.nclass > 1 {
		return par.ForEach(t.newCanceler(), t.f.NumChunks(), t.pool.Size(), func(_, ci int) error {
			t.multinomialResiduals(ci)
			return nil
		})
	}
	return par.ForEach(t.newCanceler(), t.f.NumChunks(), t.pool.Size(), func(_, ci int) error {
		t.singleResiduals(ci)
		return nil
	})
}

// singleResiduals handles every one-tree-per-round family.
func (t *trainer) singleResiduals(ci int) {
	resp := t.f.Chunk(t.respCol, ci)
	pred := t.a.TreeChunk(0, ci)
	work := t.a.WorkChunk(0, ci)
	ws := t.weightChunk(ci)
	off := t.offsetChunk(ci)

	for i, y := range resp {
		if math.IsNaN(y) || rowWeight(ws, i) == 0 {
			work[i] = 0
			continue
		}
		fv := pred[i]
		if off != nil {
			fv += off[i]
		}
		work[i] = t.d.NegHalfGradient(y, fv)
	}
}

// multinomialResiduals writes 1{y==k} − p_k into Work[k] for every class,
// with p the softmax over the K running sums. If any logit is +Inf the
// saturating vector is used: mass splits evenly over the infinite logits.
func (t *trainer) multinomialResiduals(ci int) {
	resp := t.f.Chunk(t.respCol, ci)
	ws := t.weightChunk(ci)

	preds := make([][]float64, t.nclass)
	works := make([][]float64, t.nclass)
	for k := 0; k < t.nclass; k++ {
		preds[k] = t.a.TreeChunk(k, ci)
		works[k] = t.a.WorkChunk(k, ci)
	}

	p := make([]float64, t.nclass)
	for i, y := range resp {
		if math.IsNaN(y) || rowWeight(ws, i) == 0 {
			for k := 0; k < t.nclass; k++ {
				works[k][i] = 0
			}
			continue
		}

		softmaxInto(p, preds, i)
		yk := int(y)
		for k := 0; k < t.nclass; k++ {
			ind := 0.0
			if k == yk {
				ind = 1.0
			}
			works[k][i] = ind - p[k]
		}
	}
}

// softmaxInto fills p with the stable softmax of preds[·][row].
func softmaxInto(p []float64, preds [][]float64, row int) {
	maxf := math.Inf(-1)
	for k := range p {
		if preds[k][row] > maxf {
			maxf = preds[k][row]
		}
	}

	if math.IsInf(maxf, 1) {
		// Overflow path: all probability mass on the saturated logits.
		n := 0.0
		for k := range p {
			if math.IsInf(preds[k][row], 1) {
				n++
			}
		}
		for k := range p {
			if math.IsInf(preds[k][row], 1) {
				p[k] = 1 / n
			} else {
				p[k] = 0
			}
		}
		return
	}

	var sum float64
	for k := range p {
		p[k] = math.Exp(preds[k][row] - maxf)
		sum += p[k]
	}
	for k := range p {
		p[k] /= sum
	}
}

// huberDelta derives the round's Huber cutoff: the huber_alpha-quantile of
// weighted absolute residuals |y − (f+o)| over all usable rows.
func (t *trainer) huberDelta() (float64, error) {
	n := t.f.NumRows()
	absr := make([]float64, n)
	var wsAll []float64
	if t.weightCol >= 0 {
		wsAll = make([]float64, n)
	}

	err := par.ForEach(t.newCanceler(), t.f.NumChunks(), t.pool.Size(), func(_, ci int) error {
		resp := t.f.Chunk(t.respCol, ci)
		pred := t.a.TreeChunk(0, ci)
		ws := t.weightChunk(ci)
		off := t.offsetChunk(ci)
		base := t.f.ChunkStart(ci)

		for i, y := range resp {
			fv := pred[i]
			if off != nil {
				fv += off[i]
			}
			absr[base+i] = math.Abs(y - fv) // NaN y propagates and is skipped below
			if wsAll != nil {
				wsAll[base+i] = ws[i]
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	delta, err := quantile.Weighted(absr, wsAll, t.d.HuberAlpha)
	if err != nil {
		// Degenerate frame (no usable rows): fall back to zero cutoff.
		return 0, nil
	}
	return delta, nil
}

// rowWeight reads the row weight from an optional weight chunk.
func rowWeight(ws []float64, i int) float64 {
	if ws == nil {
		return 1
	}
	w := ws[i]
	if math.IsNaN(w) || w < 0 {
		return 0
	}
	return w
}
