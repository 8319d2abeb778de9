// SPDX-License-Identifier: MIT

package frame

// Node-id sentinels stored in an Arena's NIDs columns. Non-negative values
// are real node ids in the class's current tree; sentinels are negative and
// the decided-row encoding occupies everything at or below NIDDecidedBase.
const (
	// NIDFresh marks a row about to be placed at the root when the next
	// round starts. Between rounds NIDs hold only NIDFresh, NIDOOB, or a
	// valid node id.
	NIDFresh int32 = -1

	// NIDOOB marks a row left out-of-bag by row sampling for this round.
	NIDOOB int32 = -2

	// NIDInactive is a chunk-local marker for rows excluded from histogram
	// aggregation (zero weight, NA response, or already terminated). A row
	// that reached a not-yet-expanded child keeps that child's plain id
	// instead of a dedicated sentinel.
	NIDInactive int32 = -3

	// NIDDecidedBase anchors the decided-row encoding: a row that has
	// terminated at leaf n during the current round stores EncodeDecided(n).
	NIDDecidedBase int32 = -4
)

// EncodeDecided maps a leaf node id to its decided-row encoding.
func EncodeDecided(nid int32) int32 { return NIDDecidedBase - nid }

// DecodeDecided inverts EncodeDecided.
func DecodeDecided(enc int32) int32 { return NIDDecidedBase - enc }

// IsDecided reports whether enc is a decided-row encoding.
func IsDecided(enc int32) bool { return enc <= NIDDecidedBase }

// Arena owns the per-class scratch columns of one training run. Tree[k]
// persists across rounds; Work[k] is overwritten at the start of every round;
// NIDs[k] is reset to NIDFresh after every ensemble update.
//
// Storage is flat (one slice per class spanning all rows); chunk views are
// taken with TreeChunk/WorkChunk/NIDChunk so the data-parallel passes see the
// same chunk boundaries as the Frame itself.
type Arena struct {
	f *Frame

	tree [][]float64
	work [][]float64
	nids [][]int32
}

// NewArena allocates scratch columns for nclass classes over frame f.
// Tree[k] starts at 0, NIDs[k] at NIDFresh.
func NewArena(f *Frame, nclass int) *Arena {
	a := &Arena{
		f:    f,
		tree: make([][]float64, nclass),
		work: make([][]float64, nclass),
		nids: make([][]int32, nclass),
	}
	for k := 0; k < nclass; k++ {
		a.tree[k] = make([]float64, f.NumRows())
		a.work[k] = make([]float64, f.NumRows())
		a.nids[k] = make([]int32, f.NumRows())
		for i := range a.nids[k] {
			a.nids[k][i] = NIDFresh
		}
	}
	return a
}

// NumClasses returns the number of per-class column sets.
func (a *Arena) NumClasses() int { return len(a.tree) }

// Tree returns the full running-prediction column of class k.
func (a *Arena) Tree(k int) []float64 { return a.tree[k] }

// Work returns the full residual column of class k.
func (a *Arena) Work(k int) []float64 { return a.work[k] }

// NIDs returns the full node-id column of class k.
func (a *Arena) NIDs(k int) []int32 { return a.nids[k] }

// TreeChunk returns the chunk-ci view of Tree[k].
func (a *Arena) TreeChunk(k, ci int) []float64 {
	lo, hi := a.f.starts[ci], a.f.starts[ci+1]
	return a.tree[k][lo:hi]
}

// WorkChunk returns the chunk-ci view of Work[k].
func (a *Arena) WorkChunk(k, ci int) []float64 {
	lo, hi := a.f.starts[ci], a.f.starts[ci+1]
	return a.work[k][lo:hi]
}

// NIDChunk returns the chunk-ci view of NIDs[k].
func (a *Arena) NIDChunk(k, ci int) []int32 {
	lo, hi := a.f.starts[ci], a.f.starts[ci+1]
	return a.nids[k][lo:hi]
}

// ResetNIDs writes NIDFresh over every row of NIDs[k]. After the ensemble
// update the round's OOB marking is obsolete, so everything becomes
// NIDFresh.
func (a *Arena) ResetNIDs(k int) {
	col := a.nids[k]
	for i := range col {
		col[i] = NIDFresh
	}
}
