package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay/wire"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// DialFunc opens a connection for a grpc:// endpoint.
type DialFunc func(ctx context.Context, endpoint string) (*grpc.ClientConn, error)

// GRPCTransport implements Transport over the spotsync.relay.v1.Relay service.
type GRPCTransport struct {
	dial DialFunc
	dec  decoder
}

// GRPCOptions configures a GRPCTransport.
type GRPCOptions struct {
	// Dial overrides connection setup; tests use it to inject bufconn.
	Dial             DialFunc
	VerifySignatures bool
	Logger           logpkg.Logger
}

// NewGRPCTransport constructs a GRPCTransport.
func NewGRPCTransport(opts GRPCOptions) *GRPCTransport {
	if opts.Dial == nil {
		opts.Dial = DefaultGRPCDial
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &GRPCTransport{
		dial: opts.Dial,
		dec:  decoder{verify: opts.VerifySignatures, logger: opts.Logger.With(logpkg.Component("relay.grpc"))},
	}
}

// DefaultGRPCDial connects to grpc://host:port without TLS.
func DefaultGRPCDial(_ context.Context, endpoint string) (*grpc.ClientConn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	return grpc.NewClient("passthrough:///"+u.Host, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func (t *GRPCTransport) withConn(ctx context.Context, endpoint string, fn func(conn *grpc.ClientConn) error) error {
	conn, err := t.dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(conn)
}

// Query implements Transport.
func (t *GRPCTransport) Query(ctx context.Context, endpoint string, sub Subscription, emit func(record.Record) error) error {
	body, err := json.Marshal(sub.Filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	if sub.ID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, wire.SubscriptionIDHeader, sub.ID)
	}
	return t.withConn(ctx, endpoint, func(conn *grpc.ClientConn) error {
		stream, err := wire.NewRelayClient(conn).Query(ctx, wrapperspb.Bytes(body))
		if err != nil {
			return err
		}
		for {
			m, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			r, ok := t.dec.decode(endpoint, m.GetValue())
			if !ok {
				continue
			}
			if err := emit(r); err != nil {
				return err
			}
		}
	})
}

// Publish implements Transport.
func (t *GRPCTransport) Publish(ctx context.Context, endpoint string, r record.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return t.withConn(ctx, endpoint, func(conn *grpc.ClientConn) error {
		_, err := wire.NewRelayClient(conn).Publish(ctx, wrapperspb.Bytes(body))
		if err == nil {
			return nil
		}
		if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
			return &RejectedError{Endpoint: endpoint, Reason: st.Message()}
		}
		return err
	})
}

// Ping implements Transport using the standard gRPC health service.
func (t *GRPCTransport) Ping(ctx context.Context, endpoint string) error {
	return t.withConn(ctx, endpoint, func(conn *grpc.ClientConn) error {
		res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: wire.ServiceName})
		if err != nil {
			return err
		}
		if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("relay not serving: %s", res.GetStatus())
		}
		return nil
	})
}
