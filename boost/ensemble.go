// SPDX-License-Identifier: MIT

package boost

import (
	"github.com/katalvlaran/grove/dtree"
	"github.com/katalvlaran/grove/par"
)

// ensemblePass folds each finished tree into its running prediction column:
// every row's assigned-leaf value is added to Tree[k], then NIDs[k] resets
// to NIDFresh for the next round.
//
// Before the fold, each leaf's prediction is finalized once: the optional
// Gaussian noise factor 1 + N(0,1)·pred_noise_bandwidth is applied (stream
// keyed by seed/round/class/node) and the result is truncated to float32
// precision. The truncated value is written back into the leaf, so a model
// replay reproduces the ensemble columns bit-for-bit.
//
// Out-of-bag rows carry no leaf assignment; they are routed from the root
// here so Tree[k] reflects the full model for every row.
func (t *trainer) ensemblePass(round int) error {
	for k, tree := range t.trees {
		if tree == nil {
			continue
		}
		t.finalizeLeaves(round, k, tree)

		err := par.ForEach(t.newCanceler(), t.f.NumChunks(), t.pool.Size(), func(_, ci int) error {
			t.applyTreeChunk(k, tree, ci)
			return nil
		})
		if err != nil {
			return err
		}
	}
	for k := 0; k < t.nclass; k++ {
		t.a.ResetNIDs(k)
	}
	return nil
}

// finalizeLeaves applies prediction noise and the float32 truncation to
// every leaf of the tree, in node-id order.
func (t *trainer) finalizeLeaves(round, k int, tree *dtree.Tree) {
	bw := t.cfg.PredNoiseBandwidth
	for nid := int32(0); nid < int32(tree.Len()); nid++ {
		n := tree.Node(nid)
		if n.Kind != dtree.Leaf {
			continue
		}
		p := n.Pred
		if bw > 0 {
			rng := rngFor(t.cfg.Seed, streamPredNoise, round, k, nid)
			p *= 1 + rng.NormFloat64()*bw
		}
		n.Pred = float64(float32(p))
	}
}

// applyTreeChunk adds the chunk's per-row leaf predictions to Tree[k].
func (t *trainer) applyTreeChunk(k int, tree *dtree.Tree, ci int) {
	nids := t.a.NIDChunk(k, ci)
	pred := t.a.TreeChunk(k, ci)

	for i := range nids {
		nid, ok := leafOf(nids[i])
		if !ok {
			// Out-of-bag: route from the root through decided nodes.
			nid = t.routeFromRoot(tree, ci, i)
		}
		pred[i] += tree.Node(nid).Pred
	}
}

// routeFromRoot walks chunk row i down the tree to its leaf.
func (t *trainer) routeFromRoot(tree *dtree.Tree, ci, i int) int32 {
	nid := int32(0)
	for {
		n := tree.Node(nid)
		if n.Kind != dtree.Decided {
			return nid
		}
		nid = tree.Route(n, t.f.Chunk(n.Split.Col, ci)[i])
	}
}
