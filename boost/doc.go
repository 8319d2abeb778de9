// Package boost implements the training core of a gradient boosting
// machine over a chunked, column-partitioned frame.
//
// One call to Train fits an additive ensemble of regression trees: every
// boosting round computes per-row residuals (the loss's negative
// half-gradient), grows one layer of K trees breadth-first (K = number of
// classes for multinomial, 1 otherwise), fits per-leaf constants (the gamma
// step, with weighted-quantile and Huber variants), and folds the new trees
// into the running prediction columns.
//
// The round pipeline is a strict happens-before chain enforced by barriers:
//
//	residuals → (histogram build → split) × depth → gamma → ensemble update
//
// Within each pass, work is data-parallel over row chunks and, for the
// histogram build, over column blocks × row chunks dispatched through a
// binary-tree task fan-out with pairwise reduction (par.ForkJoin). The
// histogram aggregation runs in one of two modes selected per run: shared
// (all workers update one histogram set through batched atomics; least
// memory) or deep-cloned (each worker owns a copy, folded at task join;
// least contention).
//
// Training is deterministic for a fixed seed: row sampling, column
// sampling, and prediction noise all draw from SplitMix64-derived streams
// keyed by (seed, round, class, node), and leaf predictions are truncated
// to float32 before entering the prediction columns, so replays and
// thread-count changes cannot perturb results.
package boost
