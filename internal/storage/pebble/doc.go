// Package pebblestore wraps Pebble with an fsync policy, batches, snapshots,
// prefix scans and a metrics hook. The client keeps its pending-delete set
// here and the reference relay keeps its records here.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Set([]byte("pd/31500:ab:spot-1"), nil)
//	_ = db.Scan(ctx, []byte("pd/"), false, func(k, v []byte) error { return nil })
package pebblestore
