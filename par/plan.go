// SPDX-License-Identifier: MIT

package par

// Block is a contiguous half-open column range [Lo, Hi).
type Block struct {
	Lo, Hi int
}

// ColumnBlocks partitions ncols columns into contiguous blocks of roughly
// blockSz columns. The block count is chosen by rounding ncols/blockSz to
// the nearest integer (never below 1) and sizes are balanced within ±1, so
// a remainder never produces a tiny trailing block.
func ColumnBlocks(ncols, blockSz int) []Block {
	if ncols <= 0 {
		return nil
	}
	if blockSz < 1 {
		blockSz = 1
	}

	nblocks := (ncols + blockSz/2) / blockSz
	if nblocks < 1 {
		nblocks = 1
	}
	if nblocks > ncols {
		nblocks = ncols
	}

	blocks := make([]Block, 0, nblocks)
	base := ncols / nblocks
	extra := ncols % nblocks
	lo := 0
	for b := 0; b < nblocks; b++ {
		sz := base
		if b < extra {
			sz++
		}
		blocks = append(blocks, Block{Lo: lo, Hi: lo + sz})
		lo += sz
	}
	return blocks
}

// RowWorkers returns the number of row-chunk workers per column block so
// that nblocks × workers meets minThreads. minThreads <= 0 selects the
// default pool size (CPU count).
func RowWorkers(nblocks, minThreads int) int {
	if minThreads <= 0 {
		minThreads = Default().Size()
	}
	if nblocks < 1 {
		nblocks = 1
	}
	workers := 1
	for nblocks*workers < minThreads {
		workers++
	}
	return workers
}
