// SPDX-License-Identifier: MIT

// Package boost - random-stream utilities shared by the trainer.
//
// Goals:
//   - Determinism: same seed ⇒ identical sampling masks, column subsets,
//     and prediction noise across platforms and thread counts.
//   - Encapsulation: a single RNG factory; no time-based sources anywhere.
//   - Independence: every (round, class, node) consumer derives its own
//     stream, so adding a consumer never perturbs the others.
//
// Concurrency: math/rand.Rand is not goroutine-safe; derive a private
// stream per consumer instead of sharing one generator.
package boost

import "math/rand"

// defaultRNGSeed is the fixed “zero” seed used when callers pass seed==0.
// The value is arbitrary but stable to keep reproducible defaults.
const defaultRNGSeed int64 = 1

// rngFromSeed returns a deterministic *rand.Rand.
// Policy: seed==0 ⇒ use defaultRNGSeed; otherwise the provided seed verbatim.
func rngFromSeed(seed int64) *rand.Rand {
	s := seed
	if s == 0 {
		s = defaultRNGSeed
	}
	return rand.New(rand.NewSource(s))
}

// deriveSeed mixes a parent seed and a stream identifier into a new 64-bit
// seed with a SplitMix64-style finalizer (Vigna 2014), giving uncorrelated
// substreams for parallel consumers.
func deriveSeed(parent int64, stream uint64) int64 {
	x := uint64(parent) ^ (stream + 0x9e3779b97f4a7c15)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// Stream salts: one namespace per RNG consumer so identical (round, class)
// pairs in different consumers stay decorrelated.
const (
	streamRowSample uint64 = 0x5a
	streamColTree   uint64 = 0xc1
	streamColSplit  uint64 = 0xc5
	streamPredNoise uint64 = 0x9d
)

// streamID packs a consumer salt with round/class/node coordinates.
func streamID(salt uint64, round, class int, nid int32) uint64 {
	return salt<<48 ^ uint64(round)<<32 ^ uint64(class)<<24 ^ uint64(uint32(nid))
}

// rngFor returns the deterministic stream for one consumer coordinate.
func rngFor(seed int64, salt uint64, round, class int, nid int32) *rand.Rand {
	if seed == 0 {
		seed = defaultRNGSeed
	}
	return rand.New(rand.NewSource(deriveSeed(seed, streamID(salt, round, class, nid))))
}

// sampleCols draws a deterministic subset of k elements from cols (order
// preserved) using a Fisher–Yates prefix; k is clamped to [1, len(cols)].
func sampleCols(cols []int, rate float64, rng *rand.Rand) []int {
	if rate >= 1 || len(cols) <= 1 {
		return cols
	}
	k := int(rate*float64(len(cols)) + 0.5)
	if k < 1 {
		k = 1
	}
	if k >= len(cols) {
		return cols
	}

	perm := make([]int, len(cols))
	copy(perm, cols)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(perm)-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	picked := perm[:k]

	// Restore ascending order so histogram layouts stay position-stable.
	out := make([]int, 0, k)
	for _, c := range cols {
		for _, p := range picked {
			if c == p {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
