// Package resolver turns the raw records gathered from many relays into the
// authoritative visible set.
//
// Relays are eventually consistent: the same record arrives several times,
// stale versions of replaceable records linger, and deletions may not have
// reached every relay. Reduce applies the versioning rules (newest wins,
// smallest id on ties) and masks everything named by a deletion marker in
// the batch or by the local pending-delete set. Resolver adds an optional
// per-record Opener for encrypted content.
package resolver
