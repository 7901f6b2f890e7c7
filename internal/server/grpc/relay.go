package grpcserver

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay/wire"
	relaysvc "github.com/rzbill/spotsync/internal/services/relay"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

type relayRPC struct {
	svc    *relaysvc.Service
	logger logpkg.Logger
}

func (s *relayRPC) Publish(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	st, err := s.svc.Publish(ctx, "grpc", in.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return wrapperspb.String(st), nil
}

type grpcSink struct {
	stream wire.QueryServerStream
}

func (g grpcSink) Send(r record.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return g.stream.Send(wrapperspb.Bytes(b))
}

func (g grpcSink) Flush() error { return nil }

func (s *relayRPC) Query(in *wrapperspb.BytesValue, stream wire.QueryServerStream) error {
	ctx := stream.Context()
	var subID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(wire.SubscriptionIDHeader); len(v) > 0 {
			subID = v[0]
		}
	}
	if err := s.svc.Query(ctx, "grpc", in.GetValue(), subID, grpcSink{stream: stream}); err != nil {
		return s.toStatus(ctx, err)
	}
	return nil
}

func (s *relayRPC) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, relaysvc.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case relaysvc.IsRejection(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.WithContext(ctx).Error("relay rpc failed", logpkg.Err(err))
	return status.Error(codes.Internal, err.Error())
}
