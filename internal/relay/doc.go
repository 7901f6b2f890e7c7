// Package relay talks to independent record relays: it tracks their
// observed health and provides HTTP and gRPC transports for querying and
// publishing records.
//
// Endpoints are URLs; the scheme selects the transport:
//
//	http://host:port, https://host:port   NDJSON over HTTP
//	grpc://host:port                      spotsync.relay.v1.Relay over gRPC
package relay
