// Package runtime is the client context object: it owns the logger, relay
// transports, health monitor, distributor, resolver, pending-delete store and
// metrics for one spotsync client, and exposes the search, publish and
// delete flows built on them.
//
// Example:
//
//	rt, err := runtime.Open(runtime.Options{Config: config.Default(), Identity: &key})
//	if err != nil { /* handle */ }
//	defer rt.Close()
//
//	res, _ := rt.Search(ctx, runtime.SearchRequest{Lat: 52.37, Lon: 4.89, Zoom: 15})
//	for _, it := range res.Items { /* render */ }
package runtime
