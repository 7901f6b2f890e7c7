package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rzbill/spotsync/internal/distributor"
	"github.com/rzbill/spotsync/internal/relay"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
)

var (
	_ distributor.Observer    = (*Metrics)(nil)
	_ pebblestore.MetricsHook = (*Metrics)(nil)
)

func TestWatchMonitorMirrorsHealth(t *testing.T) {
	m := New()
	mon := relay.NewMonitor([]string{"grpc://a:7070"}, nil)
	stop := m.WatchMonitor(mon)
	defer stop()

	if got := testutil.ToFloat64(m.relayConnected.WithLabelValues("grpc://a:7070")); got != 1 {
		t.Fatalf("connected gauge = %v, want 1", got)
	}
	mon.RecordSuccess("grpc://a:7070", 40*time.Millisecond)
	if got := testutil.ToFloat64(m.relayLatency.WithLabelValues("grpc://a:7070")); got != 40 {
		t.Fatalf("latency gauge = %v, want 40", got)
	}
	mon.RecordFailure("grpc://a:7070")
	if got := testutil.ToFloat64(m.relayFailures.WithLabelValues("grpc://a:7070")); got != 1 {
		t.Fatalf("failures gauge = %v, want 1", got)
	}
}

func TestShardOutcomes(t *testing.T) {
	m := New()
	m.ShardSettled(distributor.PassPrimary, distributor.ShardResult{})
	m.ShardSettled(distributor.PassPrimary, distributor.ShardResult{TimedOut: true})
	m.ShardSettled(distributor.PassVerification, distributor.ShardResult{Err: errors.New("x")})
	m.RecordDelivered(distributor.PassPrimary)

	cases := map[[2]string]float64{
		{"primary", "ok"}:         1,
		{"primary", "timeout"}:    1,
		{"verification", "error"}: 1,
	}
	for labels, want := range cases {
		if got := testutil.ToFloat64(m.shards.WithLabelValues(labels[0], labels[1])); got != want {
			t.Fatalf("%v = %v, want %v", labels, got, want)
		}
	}
	if got := testutil.ToFloat64(m.delivered.WithLabelValues("primary")); got != 1 {
		t.Fatalf("delivered = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("http", "publish", "accepted")
	m.ObserveWrite(time.Millisecond, 10)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	for _, name := range []string{"spotsync_server_requests_total", "spotsync_store_bytes_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("missing %s in exposition", name)
		}
	}
}
