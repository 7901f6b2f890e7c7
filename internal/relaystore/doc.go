// Package relaystore is the reference relay's persistence layer.
//
// Records live in Pebble under a small keyspace:
//
//	rec/{id}                        CRC-checked encoded record
//	ts/{created_at_be8}/{id}        time index, scanned newest first
//	addr/{kind:author:d}            id of the current version of a
//	                                replaceable or addressable record
//
// Put validates ids and signatures, keeps only the newest version per
// address and applies deletion markers from the same author. Query matches
// filters against the time index and evaluates optional CEL "where"
// expressions.
package relaystore
