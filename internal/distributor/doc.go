// Package distributor fans one query out across many unreliable relays and
// merges the results.
//
// A filter with a shardable array field (geohash cells, ids, authors) is
// split round-robin into one chunk per relay so each relay answers only part
// of the query. Every shard runs in its own goroutine under its own timeout
// and pushes into a bounded channel; a single merge loop deduplicates by
// record id and invokes the caller's callback. A relay that times out or
// fails only loses its own chunk.
//
// After the primary pass settles, an optional verification pass re-issues
// each chunk to the next relay in the rotation and reports records the
// primary pass missed.
package distributor
