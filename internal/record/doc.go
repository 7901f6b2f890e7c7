// Package record defines the signed, tagged records exchanged with relays,
// the query filters used to fetch them, and the identity rules that decide
// which versions of a record replace which.
//
// Identity:
//
//   - Immutable kinds: the record ID.
//   - Replaceable kinds (0, 3, 10000-19999): kind:author:
//   - Addressable kinds (30000-39999): kind:author:d, where d is the first
//     "d" tag value.
//
// Deletion markers (KindDeletion) name targets with "e" tags (IDs) and "a"
// tags (addresses).
package record
