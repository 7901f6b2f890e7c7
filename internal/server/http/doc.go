// Package httpserver serves the reference relay over HTTP.
//
// Routes:
//
//	POST /v1/publish   record JSON in, {"status": ...} out; 4xx with
//	                   {"error": ...} on rejection, 429 when rate limited
//	POST /v1/query     filter JSON in, one record JSON per line out
//	GET  /v1/healthz   200 when the store is readable
//	GET  /metrics      Prometheus exposition
//
// Example:
//
//	s := httpserver.New(svc, m, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7070")
package httpserver
