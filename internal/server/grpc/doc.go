// Package grpcserver hosts the reference relay over gRPC: the
// spotsync.relay.v1.Relay service plus the standard grpc.health.v1 service,
// both delegating to the shared relay service layer.
//
// Example:
//
//	svc := relaysvc.New(relaysvc.Options{Store: store})
//	s := grpcserver.New(svc, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7778")
package grpcserver
