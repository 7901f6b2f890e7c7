package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/spotsync/internal/config"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
	"github.com/rzbill/spotsync/internal/seal"
)

// memRelays is an in-process relay network keyed by endpoint.
type memRelays struct {
	mu       sync.Mutex
	stored   map[string][]record.Record
	down     map[string]bool
	rejectDe map[string]bool
}

func newMemRelays() *memRelays {
	return &memRelays{stored: map[string][]record.Record{}, down: map[string]bool{}, rejectDe: map[string]bool{}}
}

func (m *memRelays) Query(ctx context.Context, ep string, sub relay.Subscription, emit func(record.Record) error) error {
	m.mu.Lock()
	if m.down[ep] {
		m.mu.Unlock()
		return errors.New("connection refused")
	}
	recs := append([]record.Record(nil), m.stored[ep]...)
	m.mu.Unlock()
	for _, r := range recs {
		if !sub.Filter.Matches(r) {
			continue
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRelays) Publish(_ context.Context, ep string, r record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down[ep] {
		return errors.New("connection refused")
	}
	if r.Kind == record.KindDeletion && m.rejectDe[ep] {
		return &relay.RejectedError{Reason: "deletions disabled"}
	}
	if err := record.Verify(r); err != nil {
		return &relay.RejectedError{Reason: err.Error()}
	}
	m.stored[ep] = append(m.stored[ep], r)
	return nil
}

func (m *memRelays) Ping(_ context.Context, ep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down[ep] {
		return errors.New("connection refused")
	}
	return nil
}

func testConfig(dataDir string) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.Relays = []string{"mem://a", "mem://b"}
	cfg.PerRelayTimeoutMs = 500
	cfg.VerifyDelayMs = 10
	cfg.PublishRatePerSecond = 0
	cfg.DataDir = dataDir
	return cfg
}

func openTest(t *testing.T, net *memRelays, dataDir string) *Runtime {
	t.Helper()
	key, err := record.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	box, err := seal.GenerateKeyPair()
	if err != nil {
		t.Fatalf("box keygen: %v", err)
	}
	rt, err := Open(Options{Config: testConfig(dataDir), Identity: &key, Box: &box, Transport: net})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

var amsterdam = record.Spot{Lat: 52.3731, Lon: 4.8922, Price: 2.5, Currency: "EUR"}

func TestPublishThenSearch(t *testing.T) {
	net := newMemRelays()
	rt := openTest(t, net, "")
	ctx := context.Background()

	rec, results, err := rt.PublishSpot(ctx, "", amsterdam)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(results) != 2 || !results[0].Accepted || !results[1].Accepted {
		t.Fatalf("unexpected publish results: %+v", results)
	}

	res, err := rt.Search(ctx, SearchRequest{Lat: 52.3732, Lon: 4.8921, Precision: 6, Zoom: 18})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Spots) != 1 || res.Spots[0].Record.ID != rec.ID {
		t.Fatalf("want the published spot once, got %+v", res.Spots)
	}
	if len(res.Items) != 1 || res.Items[0].Point == nil {
		t.Fatalf("want one plain point item, got %+v", res.Items)
	}
	if res.Stats.Duplicates != 0 {
		t.Fatalf("dedup should happen in the distributor, got %d duplicates", res.Stats.Duplicates)
	}
}

func TestRepublishReplacesOlderVersion(t *testing.T) {
	net := newMemRelays()
	rt := openTest(t, net, "")
	ctx := context.Background()

	clock := time.Unix(1_700_000_000, 0)
	rt.now = func() time.Time { return clock }
	if _, _, err := rt.PublishSpot(ctx, "bay-7", amsterdam); err != nil {
		t.Fatalf("publish v1: %v", err)
	}
	clock = clock.Add(time.Minute)
	v2 := amsterdam
	v2.Price = 4
	if _, _, err := rt.PublishSpot(ctx, "bay-7", v2); err != nil {
		t.Fatalf("publish v2: %v", err)
	}

	res, err := rt.Search(ctx, SearchRequest{Lat: amsterdam.Lat, Lon: amsterdam.Lon})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Spots) != 1 || res.Spots[0].Spot.Price != 4 {
		t.Fatalf("want only the newest version, got %+v", res.Spots)
	}
}

func TestDeleteMasksEvenWhenRelaysKeepStaleCopy(t *testing.T) {
	net := newMemRelays()
	net.rejectDe["mem://a"] = true
	net.rejectDe["mem://b"] = true
	rt := openTest(t, net, "")
	ctx := context.Background()

	if _, _, err := rt.PublishSpot(ctx, "bay-1", amsterdam); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, _, err := rt.DeleteSpot(ctx, "bay-1", "taken"); err == nil {
		t.Fatalf("expected error when every relay rejects the marker")
	}
	res, err := rt.Search(ctx, SearchRequest{Lat: amsterdam.Lat, Lon: amsterdam.Lon})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Spots) != 0 {
		t.Fatalf("deleted spot still visible: %+v", res.Spots)
	}
}

func TestDeletionMarkerHidesSpotForOtherClients(t *testing.T) {
	net := newMemRelays()
	owner := openTest(t, net, "")
	other := openTest(t, net, "")
	ctx := context.Background()

	if _, _, err := owner.PublishSpot(ctx, "bay-2", amsterdam); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, _, err := owner.DeleteSpot(ctx, "bay-2", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res, err := other.Search(ctx, SearchRequest{Lat: amsterdam.Lat, Lon: amsterdam.Lon})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Spots) != 0 {
		t.Fatalf("other client still sees deleted spot: %+v", res.Spots)
	}
	if res.Stats.Markers != 1 {
		t.Fatalf("want 1 marker, got %d", res.Stats.Markers)
	}
}

func TestPendingDeletesPersistAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	net := newMemRelays()
	rt := openTest(t, net, dir)
	if _, _, err := rt.Delete(context.Background(), "", "31500:abc:bay-9"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again := openTest(t, net, dir)
	if !again.Pending().Contains("31500:abc:bay-9") {
		t.Fatalf("pending delete lost across restart")
	}
}

func TestSessionLogRoundTrip(t *testing.T) {
	net := newMemRelays()
	rt := openTest(t, net, "")
	ctx := context.Background()

	if _, _, err := rt.PublishSessionLog(ctx, "s-1", []byte(`{"parked":"2026-10-16T09:00:00Z"}`)); err != nil {
		t.Fatalf("publish session log: %v", err)
	}
	logs, err := rt.SessionLogs(ctx)
	if err != nil {
		t.Fatalf("session logs: %v", err)
	}
	if len(logs) != 1 || string(logs[0].Plaintext) != `{"parked":"2026-10-16T09:00:00Z"}` {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestPublishWithoutIdentity(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(""), Transport: newMemRelays()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if _, _, err := rt.PublishSpot(context.Background(), "", amsterdam); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("want ErrNoIdentity, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	net := newMemRelays()
	net.down["mem://b"] = true
	rt := openTest(t, net, "")

	results, err := rt.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if results[0].Err != nil || results[1].Err == nil {
		t.Fatalf("unexpected ping results: %+v", results)
	}
	h, _ := rt.Monitor().Get("mem://b")
	if h.FailureCount != 1 {
		t.Fatalf("want failure recorded, got %+v", h)
	}

	net.down["mem://a"] = true
	if _, err := rt.CheckHealth(context.Background()); err == nil {
		t.Fatalf("expected error when no relay answers")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("")
	cfg.SearchPrecision = 0
	if _, err := Open(Options{Config: cfg, Transport: newMemRelays()}); err == nil {
		t.Fatalf("expected validation error")
	}
}
