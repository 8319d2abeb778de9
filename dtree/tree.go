// SPDX-License-Identifier: MIT

// Package dtree holds the append-only node arena a boosted regression tree
// grows in, plus the split search that turns filled histograms into decided
// nodes.
//
// A tree is an ordered list of nodes indexed by small int32 ids; the root is
// id 0. Nodes move through exactly one lifecycle: Undecided (histograms
// pending) → Decided (split chosen, two children appended) or Leaf (holds a
// prediction). Growth only appends; no node is moved or deleted within a
// round, so a decided node's children always carry ids strictly greater
// than its own.
package dtree

import (
	"errors"
	"math"

	"github.com/katalvlaran/grove/histo"
)

// Sentinel errors.
var (
	// ErrNodeState indicates an operation applied to a node in the wrong
	// lifecycle state (e.g. deciding an already-decided node).
	ErrNodeState = errors.New("dtree: node is not in the required state")
)

// Kind is a node's lifecycle state.
type Kind uint8

const (
	Undecided Kind = iota
	Decided
	Leaf
)

// NADir tells a decided node where rows with an NA split-column value go.
type NADir uint8

const (
	// NALeft routes NA rows with the left arm. FindBestSplit picks the NA
	// side by split score, not by which arm holds more rows; ties go left.
	NALeft NADir = iota
	// NARight routes NA rows with the right arm.
	NARight
	// NAVsRest makes NA its own arm: every non-NA row goes left, NA goes right.
	NAVsRest
)

// Split is a decided node's predicate.
//
// Exactly one of three forms applies:
//   - numeric:      v < Threshold goes left (Bitset nil, Equal false);
//   - categorical:  level bit set in Bitset goes left (Bitset non-nil);
//   - equal:        v == Threshold goes left (Equal true, single-level split).
type Split struct {
	Col         int
	Threshold   float64
	Bitset      []uint32
	Equal       bool
	NADir       NADir
	Improvement float64
}

// Node is one arena entry. Fields are populated by lifecycle state: Hists
// only while Undecided, Split/Left/Right once Decided, Pred once Leaf.
type Node struct {
	Kind  Kind
	Split Split
	Left  int32
	Right int32
	Pred  float64

	// Hists holds the per-feature histograms of an undecided node, indexed
	// by position in the trainer's feature list (not by frame column); nil
	// entries mark features excluded by column sampling.
	// Consumed by split selection and released on Decide/MakeLeaf.
	Hists []*histo.Histogram
}

// Tree is the append-only node arena for one class's tree in one round.
type Tree struct {
	nodes []Node
}

// New returns an empty tree; the caller appends the root with AddUndecided.
func New() *Tree {
	return &Tree{nodes: make([]Node, 0, 64)}
}

// Len returns the node count.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns a pointer into the arena. Valid until the next append.
func (t *Tree) Node(nid int32) *Node { return &t.nodes[nid] }

// AddUndecided appends a fresh undecided node owning hists and returns its id.
func (t *Tree) AddUndecided(hists []*histo.Histogram) int32 {
	t.nodes = append(t.nodes, Node{Kind: Undecided, Hists: hists})
	return int32(len(t.nodes) - 1)
}

// Decide mutates undecided node nid into a decided node with split s and
// appends two fresh undecided children owning the given histogram sets.
// The parent's histograms are released.
func (t *Tree) Decide(nid int32, s Split, leftHists, rightHists []*histo.Histogram) (left, right int32, err error) {
	n := &t.nodes[nid]
	if n.Kind != Undecided {
		return 0, 0, ErrNodeState
	}

	left = t.AddUndecided(leftHists)
	right = t.AddUndecided(rightHists)

	// Re-take the pointer: AddUndecided may have grown the arena.
	n = &t.nodes[nid]
	n.Kind = Decided
	n.Split = s
	n.Left = left
	n.Right = right
	n.Hists = nil
	return left, right, nil
}

// MakeLeaf mutates node nid into a leaf with the given prediction and
// releases its histograms. Re-leafing a leaf only updates the prediction.
func (t *Tree) MakeLeaf(nid int32, pred float64) error {
	n := &t.nodes[nid]
	if n.Kind == Decided {
		return ErrNodeState
	}
	n.Kind = Leaf
	n.Pred = pred
	n.Hists = nil
	return nil
}

// Route returns the child id a row with split-column value v descends to
// from decided node n.
func (t *Tree) Route(n *Node, v float64) int32 {
	s := &n.Split
	if math.IsNaN(v) {
		if s.NADir == NALeft {
			return n.Left
		}
		return n.Right
	}
	if s.NADir == NAVsRest {
		// Non-NA rows form the left arm.
		return n.Left
	}

	var goesLeft bool
	switch {
	case s.Bitset != nil:
		goesLeft = BitsetHas(s.Bitset, int(v))
	case s.Equal:
		goesLeft = v == s.Threshold
	default:
		goesLeft = v < s.Threshold
	}
	if goesLeft {
		return n.Left
	}
	return n.Right
}

// NewBitset allocates a level bitset able to hold levels [0, n).
func NewBitset(n int) []uint32 {
	return make([]uint32, (n+31)/32)
}

// BitsetSet marks level in the bitset.
func BitsetSet(bits []uint32, level int) {
	bits[level/32] |= 1 << uint(level%32)
}

// BitsetHas reports whether level is marked; out-of-range levels are not.
func BitsetHas(bits []uint32, level int) bool {
	if level < 0 || level/32 >= len(bits) {
		return false
	}
	return bits[level/32]&(1<<uint(level%32)) != 0
}
