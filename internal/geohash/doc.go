// Package geohash encodes coordinates into base-32 spatial keys and computes
// the neighborhood keys used to shard and discover records.
//
// A key of precision n carries 5n bits, alternating longitude and latitude
// bisections starting with longitude. Every key prefix names a box that
// contains the boxes of all longer keys sharing it.
package geohash
