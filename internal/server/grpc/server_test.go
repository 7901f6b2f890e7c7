package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
	"github.com/rzbill/spotsync/internal/relay/wire"
	"github.com/rzbill/spotsync/internal/relaystore"
	relaysvc "github.com/rzbill/spotsync/internal/services/relay"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
)

const bufSize = 1 << 20

func startRelay(t *testing.T, rps float64) relay.DialFunc {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := relaystore.New(relaystore.Options{DB: db})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	srv := New(relaysvc.New(relaysvc.Options{Store: store, RatePerSecond: rps, Burst: 1}), nil)

	lis := bufconn.Listen(bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, lis)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return func(ctx context.Context, _ string) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

func signedSpot(t *testing.T, d string, lat, lon float64) record.Record {
	t.Helper()
	k, err := record.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	r, err := record.NewSpotRecord(d, record.Spot{Lat: lat, Lon: lon, Price: 2, Currency: "EUR"}, 1_700_000_000)
	if err != nil {
		t.Fatalf("spot: %v", err)
	}
	if err := record.Sign(&r, k); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return r
}

func TestPublishQueryPingOverGRPC(t *testing.T) {
	tr := relay.NewGRPCTransport(relay.GRPCOptions{Dial: startRelay(t, 0), VerifySignatures: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	paris := signedSpot(t, "p1", 48.8566, 2.3522)
	nyc := signedSpot(t, "n1", 40.7128, -74.006)
	for _, r := range []record.Record{paris, nyc} {
		if err := tr.Publish(ctx, "grpc://relay", r); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	// Republishing the same record is accepted as a duplicate.
	if err := tr.Publish(ctx, "grpc://relay", paris); err != nil {
		t.Fatalf("duplicate publish: %v", err)
	}

	var got []string
	err := tr.Query(ctx, "grpc://relay", relay.Subscription{
		ID:     "sub-1",
		Filter: record.Filter{Tags: map[string][]string{"g": {"u09t"}}},
	}, func(r record.Record) error {
		got = append(got, r.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0] != paris.ID {
		t.Fatalf("want only the paris spot, got %v", got)
	}
	if err := tr.Ping(ctx, "grpc://relay"); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestForgedPublishIsRejected(t *testing.T) {
	tr := relay.NewGRPCTransport(relay.GRPCOptions{Dial: startRelay(t, 0)})
	r := signedSpot(t, "p1", 48.8566, 2.3522)
	r.Content += " "
	err := tr.Publish(context.Background(), "grpc://relay", r)
	if !errors.Is(err, relay.ErrRejected) {
		t.Fatalf("want rejection, got %v", err)
	}
}

func TestRateLimitedPublish(t *testing.T) {
	dial := startRelay(t, 0.001)
	ctx := context.Background()
	conn, err := dial(ctx, "grpc://relay")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	c := wire.NewRelayClient(conn)
	first := signedSpot(t, "a", 1, 1)
	tr := relay.NewGRPCTransport(relay.GRPCOptions{Dial: dial})
	if err := tr.Publish(ctx, "grpc://relay", first); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	_, err = c.Publish(ctx, wrapperspb.Bytes([]byte(`{}`)))
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}
}

func TestBadFilterIsInvalidArgument(t *testing.T) {
	dial := startRelay(t, 0)
	ctx := context.Background()
	conn, err := dial(ctx, "grpc://relay")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	stream, err := wire.NewRelayClient(conn).Query(ctx, wrapperspb.Bytes([]byte(`{"where":"(("}`)))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	_, err = stream.Recv()
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}
