package serverrun

import (
	"context"
	"net"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/spotsync/internal/config"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

func TestGetenvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      string
		envValue string
		expected string
	}{
		{name: "environment variable set", key: "SPOTSYNC_TEST_VAR", def: "default", envValue: "env_value", expected: "env_value"},
		{name: "environment variable not set", key: "SPOTSYNC_TEST_VAR_NOT_SET", def: "default", expected: "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			if got := getenvDefault(tt.key, tt.def); got != tt.expected {
				t.Errorf("getenvDefault(%s, %s) = %s, expected %s", tt.key, tt.def, got, tt.expected)
			}
		})
	}
}

// TestRunServesBothTransports starts the relay on ephemeral ports and talks
// to it through the client transports.
func TestRunServesBothTransports(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := cfgpkg.Default()
	cfg.Server.DataDir = t.TempDir()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"

	ready := make(chan [2]net.Addr, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Config: cfg,
			Fsync:  pebblestore.FsyncModeNever,
			Logger: logpkg.NewNopLogger(),
			Ready:  func(h, g net.Addr) { ready <- [2]net.Addr{h, g} },
		})
	}()

	var addrs [2]net.Addr
	select {
	case addrs = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("relay did not start")
	}

	k, err := record.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	r, err := record.NewSpotRecord("bay", record.Spot{Lat: 51.5074, Lon: -0.1278, Price: 4, Currency: "GBP"}, time.Now().Unix())
	if err != nil {
		t.Fatalf("spot: %v", err)
	}
	if err := record.Sign(&r, k); err != nil {
		t.Fatalf("sign: %v", err)
	}

	mux := relay.NewMux().
		Handle(relay.NewHTTPTransport(relay.HTTPOptions{}), "http").
		Handle(relay.NewGRPCTransport(relay.GRPCOptions{}), "grpc")
	httpEP := "http://" + addrs[0].String()
	grpcEP := "grpc://" + addrs[1].String()

	qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer qcancel()
	if err := mux.Publish(qctx, httpEP, r); err != nil {
		t.Fatalf("publish over http: %v", err)
	}
	var got []string
	err = mux.Query(qctx, grpcEP, relay.Subscription{ID: "s", Filter: record.Filter{IDs: []string{r.ID}}}, func(rec record.Record) error {
		got = append(got, rec.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("query over grpc: %v", err)
	}
	if len(got) != 1 || got[0] != r.ID {
		t.Fatalf("want record published over http to be served over grpc, got %v", got)
	}
	if err := mux.Ping(qctx, grpcEP); err != nil {
		t.Fatalf("grpc ping: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("relay did not stop")
	}
}
