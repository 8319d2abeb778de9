// SPDX-License-Identifier: MIT

package boost

import (
	"math"

	"github.com/katalvlaran/grove/dist"
	"github.com/katalvlaran/grove/dtree"
	"github.com/katalvlaran/grove/frame"
)

// Round holds the trees of one boosting round, one slot per class. A nil
// slot means that class produced no tree this round (empty class marginal).
type Round struct {
	Trees []*dtree.Tree
}

// Model is the trained ensemble: the initial offset, the ordered per-round
// trees, and the per-round training metric (mean deviance).
type Model struct {
	Family dist.Family
	NClass int // class trees per round (1 unless true multinomial)

	InitF   []float64 // len NClass
	Rounds  []Round
	Metrics []float64 // mean training deviance after each round

	cfg Config
}

// Config returns the resolved configuration the model was trained with.
func (m *Model) Config() Config { return m.cfg }

// NTrees returns the number of completed boosting rounds.
func (m *Model) NTrees() int { return len(m.Rounds) }

// Score replays the ensemble over f and returns the link-space prediction
// per class per row: out[k][i] = init_f[k] + Σ trees. The offset column, if
// the model was trained with one, is added back as well.
//
// This is the training-side replay used for metrics and tests; it walks
// decided nodes with the same routing rules the trainer used.
func (m *Model) Score(f *frame.Frame) ([][]float64, error) {
	var offCol = -1
	if m.cfg.Offset != "" {
		c, err := f.ColumnIndex(m.cfg.Offset)
		if err != nil {
			return nil, err
		}
		offCol = c
	}

	out := make([][]float64, m.NClass)
	for k := 0; k < m.NClass; k++ {
		col := make([]float64, f.NumRows())
		for i := range col {
			col[i] = m.InitF[k]
			if offCol >= 0 {
				col[i] += f.At(offCol, i)
			}
		}
		out[k] = col
	}

	for _, round := range m.Rounds {
		for k, tr := range round.Trees {
			if tr == nil {
				continue
			}
			for i := 0; i < f.NumRows(); i++ {
				out[k][i] += leafValue(tr, f, i)
			}
		}
	}
	return out, nil
}

// leafValue routes row i from the root to its leaf and returns the leaf
// prediction.
func leafValue(tr *dtree.Tree, f *frame.Frame, row int) float64 {
	nid := int32(0)
	for {
		n := tr.Node(nid)
		if n.Kind != dtree.Decided {
			return n.Pred
		}
		nid = tr.Route(n, f.At(n.Split.Col, row))
	}
}

// capPred applies the numeric-coercion ladder of the leaf fit: NaN to 0,
// ±Inf to ±predCapRaw, then the raw cap and the configured absolute cap.
func capPred(p, maxAbs float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	if math.IsInf(p, 1) || p > predCapRaw {
		p = predCapRaw
	}
	if math.IsInf(p, -1) || p < -predCapRaw {
		p = -predCapRaw
	}
	if p > maxAbs {
		p = maxAbs
	}
	if p < -maxAbs {
		p = -maxAbs
	}
	return p
}
