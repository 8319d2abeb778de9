// Package grove is a gradient-boosting-machine training core for tabular
// data in Go.
//
// 🚀 What is grove?
//
//	A deterministic, shared-memory-parallel GBM trainer built from small,
//	composable packages:
//
//	  • Chunked frames: column-partitioned tables with per-round scratch arenas
//	  • Histogram engine: per-leaf, per-feature aggregation over column blocks × row chunks
//	  • Pluggable losses: gaussian, bernoulli, multinomial, poisson, gamma,
//	    tweedie, laplace, quantile, huber, modified_huber
//
// ✨ Why choose grove?
//
//   - Reproducible          — fixed seed ⇒ bit-identical models, any thread count
//   - Memory-aware          — shared-histogram mode trades contention for footprint
//   - Explicit              — every hyperparameter validated, every error a sentinel
//   - Pure Go               — no cgo, one third-party test dependency in the library
//
// Everything is organized under focused subpackages:
//
//	frame/     — chunked columns, NA policy, Tree/Work/NID scratch arenas
//	binning/   — equal-width, quantile, and categorical bin layouts
//	histo/     — weighted per-bin accumulators, atomic and merge disciplines
//	dtree/     — append-only node arena, split predicates, split search
//	dist/      — the loss-family capability set
//	par/       — fork-join fan-out, work-stealing counter, cancellation token
//	quantile/  — stratified weighted quantiles for the robust leaf fits
//	boost/     — the boosting driver: residuals → histograms/splits → leaf fit → update
//	cmd/grove  — CSV-in, model-dump-out training CLI
//
// Start at boost.Train; the example there covers the whole happy path.
package grove
