// SPDX-License-Identifier: MIT

package boost

import (
	"math"

	"github.com/katalvlaran/grove/dist"
	"github.com/katalvlaran/grove/dtree"
	"github.com/katalvlaran/grove/frame"
	"github.com/katalvlaran/grove/par"
	"github.com/katalvlaran/grove/quantile"
)

// logSpaceCap bounds log-linked leaf predictions so the ensemble's running
// sum stays safely exponentiable.
const logSpaceCap = 19.0

// gammaPass fits the per-leaf constant of every class tree and writes it
// into the leaf nodes: closed form for the analytic families, stratified
// weighted quantile for laplace/quantile, and the two-step correction for
// huber. eff is the round's effective learning rate.
func (t *trainer) gammaPass(eff float64) error {
	for k, tree := range t.trees {
		if tree == nil {
			continue
		}
		var err error
		switch {
		case t.d.NeedsQuantileFit():
			q := 0.5
			if t.d.Family == dist.Quantile {
				q = t.d.QuantileAlpha
			}
			err = t.quantileFit(k, tree, eff, q)
		case t.d.NeedsHuberFit():
			err = t.huberFit(k, tree, eff)
		default:
			err = t.closedFormFit(k, tree, eff)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// m1class is the multinomial shrink factor (K−1)/K; 1 for single-tree runs.
func (t *trainer) m1class() float64 {
	if t.nclass > 1 {
		return float64(t.nclass-1) / float64(t.nclass)
	}
	return 1
}

// gammaJob accumulates per-leaf num/denom over row chunks with pairwise
// reduction.
type gammaJob struct {
	t   *trainer
	k   int
	num []float64
	den []float64
}

func (j *gammaJob) Clone() par.Job {
	return &gammaJob{
		t:   j.t,
		k:   j.k,
		num: make([]float64, len(j.num)),
		den: make([]float64, len(j.den)),
	}
}

func (j *gammaJob) Reduce(done par.Job) {
	o := done.(*gammaJob)
	for i := range j.num {
		j.num[i] += o.num[i]
		j.den[i] += o.den[i]
	}
}

func (j *gammaJob) Map(ci int) error {
	t := j.t
	nids := t.a.NIDChunk(j.k, ci)
	resp := t.f.Chunk(t.respCol, ci)
	work := t.a.WorkChunk(j.k, ci)
	pred := t.a.TreeChunk(j.k, ci)
	ws := t.weightChunk(ci)
	off := t.offsetChunk(ci)
	class := t.classIndex(j.k)

	for i := range nids {
		nid, ok := leafOf(nids[i])
		if !ok {
			continue
		}
		w := rowWeight(ws, i)
		y := resp[i]
		if w == 0 || math.IsNaN(y) {
			continue
		}
		if t.nclass > 1 || t.twoClass {
			// Class indicator response for the per-class tree.
			if int(y) == class {
				y = 1
			} else {
				y = 0
			}
		}
		fv := pred[i]
		if off != nil {
			fv += off[i]
		}
		r := work[i]
		j.num[nid] += t.d.GammaNum(w, y, r, fv)
		j.den[nid] += t.d.GammaDenom(w, y, r, fv)
	}
	return nil
}

// closedFormFit computes leaf = eff × m1class × link?(num/denom), with the
// numeric-coercion ladder and the log-space truncation applied.
func (t *trainer) closedFormFit(k int, tree *dtree.Tree, eff float64) error {
	job := &gammaJob{
		t:   t,
		k:   k,
		num: make([]float64, tree.Len()),
		den: make([]float64, tree.Len()),
	}
	if err := par.ForkJoin(t.newCanceler(), t.pool, 0, t.f.NumChunks(), job); err != nil {
		return err
	}

	m1 := t.m1class()
	for nid := int32(0); nid < int32(tree.Len()); nid++ {
		if tree.Node(nid).Kind != dtree.Leaf {
			continue
		}
		var p float64
		if job.den[nid] != 0 {
			ratio := job.num[nid] / job.den[nid]
			if t.d.TruncateLogSpace() {
				ratio = t.d.Link(ratio)
			}
			p = eff * m1 * ratio
		}
		p = capPred(p, t.cfg.MaxAbsLeafnodePred)
		if t.d.TruncateLogSpace() {
			p = math.Max(-logSpaceCap, math.Min(logSpaceCap, p))
		}
		if err := tree.MakeLeaf(nid, p); err != nil {
			return err
		}
	}
	return nil
}

// quantileFit sets each leaf to eff × (q-quantile of y−(f+o) over its rows).
func (t *trainer) quantileFit(k int, tree *dtree.Tree, eff, q float64) error {
	res, wsAll, strata, err := t.leafResiduals(k)
	if err != nil {
		return err
	}
	leafQ, err := quantile.Stratified(res, wsAll, strata, tree.Len(), q)
	if err != nil {
		return err
	}

	for nid := int32(0); nid < int32(tree.Len()); nid++ {
		if tree.Node(nid).Kind != dtree.Leaf {
			continue
		}
		p := capPred(eff*leafQ[nid], t.cfg.MaxAbsLeafnodePred)
		if err := tree.MakeLeaf(nid, p); err != nil {
			return err
		}
	}
	return nil
}

// huberFit runs the two-step fit: per-leaf median of residuals, then the
// clipped mean correction gamma = median + Σ w·sign(r′)·min(|r′|, δ) / Σ w
// with r′ the median-centered residual.
func (t *trainer) huberFit(k int, tree *dtree.Tree, eff float64) error {
	res, wsAll, strata, err := t.leafResiduals(k)
	if err != nil {
		return err
	}
	medians, err := quantile.Stratified(res, wsAll, strata, tree.Len(), 0.5)
	if err != nil {
		return err
	}

	delta := t.d.HuberDelta
	sumW := make([]float64, tree.Len())
	sumClip := make([]float64, tree.Len())
	for i, r := range res {
		s := strata[i]
		if s < 0 || math.IsNaN(r) || math.IsNaN(medians[s]) {
			continue
		}
		w := 1.0
		if wsAll != nil {
			w = wsAll[i]
		}
		if w <= 0 {
			continue
		}
		rr := r - medians[s]
		clip := math.Min(math.Abs(rr), delta)
		if rr < 0 {
			clip = -clip
		}
		sumW[s] += w
		sumClip[s] += w * clip
	}

	for nid := int32(0); nid < int32(tree.Len()); nid++ {
		if tree.Node(nid).Kind != dtree.Leaf {
			continue
		}
		var g float64
		if sumW[nid] > 0 && !math.IsNaN(medians[nid]) {
			g = medians[nid] + sumClip[nid]/sumW[nid]
		}
		p := capPred(eff*g, t.cfg.MaxAbsLeafnodePred)
		if err := tree.MakeLeaf(nid, p); err != nil {
			return err
		}
	}
	return nil
}

// leafResiduals materializes y−(f+o), weights, and the leaf stratum of
// every row for the quantile-based fits. Excluded rows get stratum −1.
func (t *trainer) leafResiduals(k int) (res, wsAll []float64, strata []int32, err error) {
	n := t.f.NumRows()
	res = make([]float64, n)
	strata = make([]int32, n)
	if t.weightCol >= 0 {
		wsAll = make([]float64, n)
	}

	err = par.ForEach(t.newCanceler(), t.f.NumChunks(), t.pool.Size(), func(_, ci int) error {
		nids := t.a.NIDChunk(k, ci)
		resp := t.f.Chunk(t.respCol, ci)
		pred := t.a.TreeChunk(k, ci)
		ws := t.weightChunk(ci)
		off := t.offsetChunk(ci)
		base := t.f.ChunkStart(ci)

		for i := range nids {
			strata[base+i] = -1
			nid, ok := leafOf(nids[i])
			if !ok {
				continue
			}
			w := rowWeight(ws, i)
			y := resp[i]
			if w == 0 || math.IsNaN(y) {
				continue
			}
			fv := pred[i]
			if off != nil {
				fv += off[i]
			}
			res[base+i] = y - fv
			strata[base+i] = nid
			if wsAll != nil {
				wsAll[base+i] = w
			}
		}
		return nil
	})
	return res, wsAll, strata, err
}

// leafOf decodes a routed NID column entry into a leaf node id; ok is false
// for out-of-bag rows.
func leafOf(enc int32) (int32, bool) {
	switch {
	case enc >= 0:
		return enc, true
	case frame.IsDecided(enc):
		return frame.DecodeDecided(enc), true
	default:
		return 0, false
	}
}
