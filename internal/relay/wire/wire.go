// Package wire declares the spotsync.relay.v1.Relay gRPC service without
// generated code. Messages use protobuf well-known wrapper types: requests
// and streamed records are JSON documents carried in BytesValue.
package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName   = "spotsync.relay.v1.Relay"
	PublishMethod = "/" + ServiceName + "/Publish"
	QueryMethod   = "/" + ServiceName + "/Query"

	// SubscriptionIDHeader carries the client's subscription id as gRPC
	// metadata and as an HTTP header.
	SubscriptionIDHeader = "x-subscription-id"
)

// RelayServer is implemented by relays serving the gRPC API.
type RelayServer interface {
	// Publish stores one JSON-encoded record and returns a short status.
	Publish(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	// Query streams every stored record matching the JSON-encoded filter,
	// then returns.
	Query(in *wrapperspb.BytesValue, stream QueryServerStream) error
}

// QueryServerStream is the server side of a Query call.
type QueryServerStream interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type queryServerStream struct {
	grpc.ServerStream
}

func (s *queryServerStream) Send(m *wrapperspb.BytesValue) error {
	return s.ServerStream.SendMsg(m)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RelayServer).Publish(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func queryHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).Query(in, &queryServerStream{stream})
}

// QueryStreamDesc describes the server-streaming Query method.
var QueryStreamDesc = grpc.StreamDesc{
	StreamName:    "Query",
	Handler:       queryHandler,
	ServerStreams: true,
}

// ServiceDesc is the grpc.ServiceDesc for the relay service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{QueryStreamDesc},
	Metadata: "spotsync/relay/v1/relay.proto",
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// RelayClient is the client side of the relay service.
type RelayClient struct {
	cc grpc.ClientConnInterface
}

// NewRelayClient wraps a connection.
func NewRelayClient(cc grpc.ClientConnInterface) *RelayClient {
	return &RelayClient{cc: cc}
}

// Publish sends one JSON-encoded record.
func (c *RelayClient) Publish(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, PublishMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryClientStream receives streamed records.
type QueryClientStream interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type queryClientStream struct {
	grpc.ClientStream
}

func (x *queryClientStream) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Query opens a Query stream for a JSON-encoded filter.
func (c *RelayClient) Query(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (QueryClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], QueryMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &queryClientStream{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
