// Package frame implements the chunked, column-partitioned table that the
// training core reads from and writes into.
//
// A Frame is an ordered list of columns; every column stores its values as a
// sequence of fixed-boundary row partitions called chunks. All columns of one
// Frame share the same chunk boundaries, so a chunk index addresses the same
// row range in every column. The chunk is the smallest unit of per-row
// parallel work: data-parallel passes split along chunk boundaries and never
// touch a partial chunk.
//
// Two kinds of state live here:
//
//   - User columns: features and the response, ingested once and read-only
//     during training. Numeric, categorical, and time columns hold dense
//     float64 (categoricals as level codes 0..len(domain)-1 with an ordered
//     string domain, NA as NaN); string and uuid columns hold their values
//     in a per-chunk string side-table (NA as the empty string) and are
//     carried through training without ever entering split search.
//
//   - Round scratch: per-class working columns created fresh for a training
//     run: the running prediction Tree[k], the residual Work[k], and the
//     node-id assignment NIDs[k]. These are owned by an Arena so their
//     lifecycle (persist across rounds vs. reset per round) is explicit.
//
// Concurrency model: a Frame is immutable after construction, so chunk
// accessors are safe for unbounded concurrent readers. Arena columns are
// written by exactly one pass at a time; writers of different classes or
// different chunks never alias.
package frame
