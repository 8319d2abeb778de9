// SPDX-License-Identifier: MIT

package boost

import (
	"math"

	"github.com/katalvlaran/grove/frame"
)

// markOOB stamps NIDOOB over the rows each class tree leaves out of bag
// this round. With sample_rate_per_class configured, a row's keep
// probability follows its response class; otherwise the global sample_rate
// applies. The mask is drawn row-by-row from the (seed, round, class)
// stream, so it is identical across reruns and thread counts and
// independent of every other RNG consumer.
//
// Runs single-threaded on purpose: one sequential draw per row is what
// makes the mask reproducible.
func (t *trainer) markOOB(round int) {
	perClass := t.cfg.SampleRatePerClass
	if t.cfg.SampleRate >= 1 && len(perClass) == 0 {
		return
	}

	for k := 0; k < t.nclass; k++ {
		if t.trees[k] == nil {
			continue
		}
		rng := rngFor(t.cfg.Seed, streamRowSample, round, k, 0)
		nids := t.a.NIDs(k)

		for ci := 0; ci < t.f.NumChunks(); ci++ {
			resp := t.f.Chunk(t.respCol, ci)
			base := t.f.ChunkStart(ci)
			for i, y := range resp {
				rate := t.cfg.SampleRate
				if len(perClass) > 0 && !math.IsNaN(y) && y >= 0 && int(y) < len(perClass) {
					rate = perClass[int(y)]
				}
				// One draw per row regardless of rate keeps masks stable
				// when only the rates change.
				if rng.Float64() >= rate {
					nids[base+i] = frame.NIDOOB
				}
			}
		}
	}
}
