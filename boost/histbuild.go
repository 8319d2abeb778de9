// SPDX-License-Identifier: MIT

package boost

import (
	"math"
	"sync"

	"github.com/katalvlaran/grove/dtree"
	"github.com/katalvlaran/grove/frame"
	"github.com/katalvlaran/grove/histo"
	"github.com/katalvlaran/grove/par"
)

// scoreBuffers carries pass-1 output into pass 2, one entry per chunk.
//
// Ordered mode additionally holds the counting-sort permutation: rss[ci]
// lists the chunk's active row indices grouped by layer node, with
// nh[ci][n] .. nh[ci][n+1] delimiting node n's contiguous slice.
type scoreBuffers struct {
	nnids [][]int32 // layer-relative new node id per row, NIDInactive if excluded
	rss   [][]int32 // nil in unordered mode
	nh    [][]int32 // nil in unordered mode
}

// buildHistograms is the histogram-layer kernel: route every active row to
// its new frontier node (pass 1), then aggregate weighted residual moments
// into each frontier node's per-feature histograms across column blocks ×
// row chunks (pass 2).
func (t *trainer) buildHistograms(k int, tree *dtree.Tree) error {
	lo, hi := t.frontLo[k], t.frontHi[k]
	nchunks := t.f.NumChunks()
	sb := &scoreBuffers{nnids: make([][]int32, nchunks)}
	if !t.cfg.Unordered {
		sb.rss = make([][]int32, nchunks)
		sb.nh = make([][]int32, nchunks)
	}

	// Pass 1: score & route, chunk-parallel.
	err := par.ForEach(t.newCanceler(), nchunks, t.pool.Size(), func(_, ci int) error {
		t.scoreChunk(k, tree, lo, hi, ci, sb)
		return nil
	})
	if err != nil {
		return err
	}

	// Pass 2: aggregate. One binary-tree chunk fan-out per column block;
	// blocks run concurrently, all tasks drawing from the shared pool. The
	// min-threads policy widens the pool when blocks alone cannot meet it.
	blocks := par.ColumnBlocks(len(t.features), t.cfg.ColBlockSize)
	cn := t.newCanceler()

	var wg sync.WaitGroup
	for _, b := range blocks {
		wg.Add(1)
		go func(b par.Block) {
			defer wg.Done()
			job := newHistJob(t, k, tree, lo, hi, b, sb)
			_ = par.ForkJoin(cn, t.pool, 0, nchunks, job)
		}(b)
	}
	wg.Wait()
	return cn.Err()
}

// routePass runs the pass-1 routing alone, settling every row on its final
// leaf after the last split phase.
func (t *trainer) routePass(k int, tree *dtree.Tree) error {
	return par.ForEach(t.newCanceler(), t.f.NumChunks(), t.pool.Size(), func(_, ci int) error {
		t.scoreChunk(k, tree, 0, 0, ci, nil)
		return nil
	})
}

// scoreChunk routes chunk ci's rows one layer down the tree and, when sb is
// non-nil, records their layer-relative frontier assignment plus the
// counting-sort grouping for ordered aggregation.
func (t *trainer) scoreChunk(k int, tree *dtree.Tree, lo, hi int32, ci int, sb *scoreBuffers) {
	nids := t.a.NIDChunk(k, ci)
	resp := t.f.Chunk(t.respCol, ci)
	ws := t.weightChunk(ci)
	nLayer := int(hi - lo)

	var nnids []int32
	if sb != nil {
		nnids = make([]int32, len(nids))
	}

	for i := range nids {
		if sb != nil {
			nnids[i] = frame.NIDInactive
		}

		nid := nids[i]
		if nid == frame.NIDOOB || frame.IsDecided(nid) {
			continue
		}
		if nid == frame.NIDFresh {
			nid = 0
		}

		// Descend through nodes decided since the row was last routed.
		node := tree.Node(nid)
		for node.Kind == dtree.Decided {
			v := t.f.Chunk(node.Split.Col, ci)[i]
			nid = tree.Route(node, v)
			node = tree.Node(nid)
		}
		if node.Kind == dtree.Leaf {
			nids[i] = frame.EncodeDecided(nid)
			continue
		}
		nids[i] = nid

		// Histogram eligibility: routed rows with zero weight or NA
		// response stay placed but contribute nothing.
		if sb == nil || rowWeight(ws, i) == 0 || math.IsNaN(resp[i]) {
			continue
		}
		nnids[i] = nid - lo
	}

	if sb == nil {
		return
	}
	sb.nnids[ci] = nnids
	if t.cfg.Unordered {
		return
	}

	// Counting sort: group active row indices by their frontier node.
	counts := make([]int32, nLayer+1)
	for _, nn := range nnids {
		if nn >= 0 {
			counts[nn+1]++
		}
	}
	for n := 1; n <= nLayer; n++ {
		counts[n] += counts[n-1]
	}
	nh := make([]int32, nLayer+1)
	copy(nh, counts)

	rss := make([]int32, counts[nLayer])
	for i, nn := range nnids {
		if nn >= 0 {
			rss[counts[nn]] = int32(i)
			counts[nn]++
		}
	}
	sb.nh[ci] = nh
	sb.rss[ci] = rss
}

// histJob aggregates one column block over row chunks under par.ForkJoin.
//
// The concurrency mode decides what Clone hands a child task: in shared
// mode every task updates the frontier nodes' own histograms (batched
// atomics), so Clone shares the target array and Reduce is a no-op; in
// deep-clone mode Clone allocates private zeroed copies and Reduce folds
// them pairwise back toward the root task, whose targets are the real ones.
type histJob struct {
	t      *trainer
	k      int
	tree   *dtree.Tree
	lo, hi int32
	block  par.Block
	sb     *scoreBuffers

	// hists[n][c] targets frontier node lo+n, feature position block.Lo+c;
	// nil where column sampling excluded the feature.
	hists [][]*histo.Histogram

	// scratch[c] batches shared-mode updates for one (chunk, column) walk.
	scratch []*histo.Histogram
}

func newHistJob(t *trainer, k int, tree *dtree.Tree, lo, hi int32, block par.Block, sb *scoreBuffers) *histJob {
	j := &histJob{t: t, k: k, tree: tree, lo: lo, hi: hi, block: block, sb: sb}
	width := block.Hi - block.Lo
	j.hists = make([][]*histo.Histogram, int(hi-lo))
	for n := range j.hists {
		node := tree.Node(lo + int32(n))
		row := make([]*histo.Histogram, width)
		for c := 0; c < width; c++ {
			row[c] = node.Hists[block.Lo+c]
		}
		j.hists[n] = row
	}
	if t.cfg.SharedHisto && !t.cfg.Unordered {
		j.scratch = make([]*histo.Histogram, width)
	}
	return j
}

// Clone implements par.Job.
func (j *histJob) Clone() par.Job {
	c := *j
	if j.t.cfg.SharedHisto {
		// Shared targets; private scratch only.
		if j.scratch != nil {
			c.scratch = make([]*histo.Histogram, len(j.scratch))
		}
		return &c
	}
	c.hists = make([][]*histo.Histogram, len(j.hists))
	for n, row := range j.hists {
		crow := make([]*histo.Histogram, len(row))
		for i, h := range row {
			if h != nil {
				crow[i] = h.Clone()
			}
		}
		c.hists[n] = crow
	}
	return &c
}

// Reduce implements par.Job: pairwise merge of deep-cloned worker state.
func (j *histJob) Reduce(done par.Job) {
	if j.t.cfg.SharedHisto {
		return
	}
	o := done.(*histJob)
	for n, row := range j.hists {
		for i, h := range row {
			if h != nil {
				h.Merge(o.hists[n][i])
			}
		}
	}
}

// Map implements par.Job: aggregate chunk ci for every column in the block.
func (j *histJob) Map(ci int) error {
	if j.t.cfg.Unordered {
		j.mapUnordered(ci)
		return nil
	}

	work := j.t.a.WorkChunk(j.k, ci)
	ws := j.t.weightChunk(ci)
	nh := j.sb.nh[ci]
	rss := j.sb.rss[ci]
	shared := j.t.cfg.SharedHisto

	for c := 0; c < j.block.Hi-j.block.Lo; c++ {
		vals := j.colChunk(c, ci)
		if vals == nil {
			continue
		}
		for n := range j.hists {
			h := j.hists[n][c]
			if h == nil {
				continue
			}
			slice := rss[nh[n]:nh[n+1]]
			if len(slice) == 0 {
				continue
			}

			if shared {
				sc := j.scratch[c]
				if sc == nil || sc.Layout != h.Layout {
					sc = histo.New(h.Layout)
					j.scratch[c] = sc
				}
				for _, ri := range slice {
					sc.Add(vals[ri], rowWeight(ws, int(ri)), work[ri])
				}
				h.FlushAtomic(sc)
				continue
			}
			for _, ri := range slice {
				h.Add(vals[ri], rowWeight(ws, int(ri)), work[ri])
			}
		}
	}
	return nil
}

// mapUnordered skips the counting-sort grouping: every row dispatches
// straight to its node's histogram (atomically under shared mode).
func (j *histJob) mapUnordered(ci int) {
	work := j.t.a.WorkChunk(j.k, ci)
	ws := j.t.weightChunk(ci)
	nnids := j.sb.nnids[ci]
	shared := j.t.cfg.SharedHisto

	for c := 0; c < j.block.Hi-j.block.Lo; c++ {
		vals := j.colChunk(c, ci)
		if vals == nil {
			continue
		}
		for i, nn := range nnids {
			if nn < 0 {
				continue
			}
			h := j.hists[nn][c]
			if h == nil {
				continue
			}
			if shared {
				h.AddAtomic(vals[i], rowWeight(ws, i), work[i])
			} else {
				h.Add(vals[i], rowWeight(ws, i), work[i])
			}
		}
	}
}

// colChunk returns the chunk values of block column c, or nil when no
// frontier node sampled that feature.
func (j *histJob) colChunk(c, ci int) []float64 {
	for n := range j.hists {
		if j.hists[n][c] != nil {
			return j.t.f.Chunk(j.t.features[j.block.Lo+c], ci)
		}
	}
	return nil
}
