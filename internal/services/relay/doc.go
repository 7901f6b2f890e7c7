// Package relaysvc implements the reference relay on top of relaystore. It
// decodes publish and query requests, applies the publish rate limit, and
// streams query results into a transport-specific Sink. The HTTP and gRPC
// servers are thin adapters over it.
//
// Example:
//
//	svc := relaysvc.New(relaysvc.Options{Store: store, RatePerSecond: 20, Burst: 40})
//	status, err := svc.Publish(ctx, "http", body)
//	err = svc.Query(ctx, "grpc", filterJSON, subID, mySink)
//
// Tunables (env, read at construction):
//   - SPOTSYNC_QUERY_FLUSH_EVERY: records written between sink flushes
//     (default 64).
package relaysvc
