// Package serverrun exposes the Run entrypoint used by `spotsync relay start`
// to serve the reference relay over HTTP and gRPC from one Pebble store,
// handling lifecycle and shutdown.
//
// Example:
//
//	opts := serverrun.Options{Config: config.Default(), Fsync: pebblestore.FsyncModeAlways}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
