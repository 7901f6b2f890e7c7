package distributor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
)

type queryFunc func(ctx context.Context, call int, sub relay.Subscription, emit func(record.Record) error) error

// scriptedTransport answers queries per endpoint and records every call.
type scriptedTransport struct {
	mu       sync.Mutex
	handlers map[string]queryFunc
	calls    map[string]int
	subs     []relay.Subscription
}

func newScripted() *scriptedTransport {
	return &scriptedTransport{handlers: map[string]queryFunc{}, calls: map[string]int{}}
}

func (s *scriptedTransport) on(endpoint string, fn queryFunc) *scriptedTransport {
	s.handlers[endpoint] = fn
	return s
}

func (s *scriptedTransport) Query(ctx context.Context, endpoint string, sub relay.Subscription, emit func(record.Record) error) error {
	s.mu.Lock()
	s.calls[endpoint]++
	call := s.calls[endpoint]
	s.subs = append(s.subs, sub)
	fn := s.handlers[endpoint]
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, call, sub, emit)
}

func (s *scriptedTransport) Publish(context.Context, string, record.Record) error { return nil }
func (s *scriptedTransport) Ping(context.Context, string) error                   { return nil }

func (s *scriptedTransport) callCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

func emitAll(recs ...record.Record) queryFunc {
	return func(_ context.Context, _ int, _ relay.Subscription, emit func(record.Record) error) error {
		for _, r := range recs {
			if err := emit(r); err != nil {
				return err
			}
		}
		return nil
	}
}

func hang(ctx context.Context, _ int, _ relay.Subscription, _ func(record.Record) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func rec(id string) record.Record {
	return record.Record{ID: id, Kind: record.KindParkingSpot, CreatedAt: 1}
}

func geoFilter(cells ...string) record.Filter {
	return record.Filter{Kinds: []int{record.KindParkingSpot}, Tags: map[string][]string{"g": cells}}
}

// TestPlanUnsharded verifies a filter with nothing to split goes to every
// endpoint unchanged.
func TestPlanUnsharded(t *testing.T) {
	f := record.Filter{Kinds: []int{record.KindParkingSpot}}
	shards, sharded := Plan(f, []string{"a", "b", "c"})
	assert.False(t, sharded)
	require.Len(t, shards, 3)
	for i, s := range shards {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, f.String(), s.Filter.String())
	}

	_, sharded = Plan(geoFilter("u4pru"), []string{"a", "b"})
	assert.False(t, sharded, "single value")
	_, sharded = Plan(geoFilter("u4pru", "u4prv"), []string{"a"})
	assert.False(t, sharded, "single endpoint")
}

// TestPlanRoundRobin checks values are dealt one at a time across chunks.
func TestPlanRoundRobin(t *testing.T) {
	shards, sharded := Plan(geoFilter("k0", "k1", "k2", "k3", "k4", "k5", "k6"), []string{"a", "b", "c"})
	require.True(t, sharded)
	require.Len(t, shards, 3)
	assert.Equal(t, []string{"k0", "k3", "k6"}, shards[0].Filter.Tags["g"])
	assert.Equal(t, []string{"k1", "k4"}, shards[1].Filter.Tags["g"])
	assert.Equal(t, []string{"k2", "k5"}, shards[2].Filter.Tags["g"])
	assert.Equal(t, "a", shards[0].Endpoint)
	assert.Equal(t, "c", shards[2].Endpoint)
	assert.Equal(t, []int{record.KindParkingSpot}, shards[1].Filter.Kinds)
}

// TestPlanFewerValuesThanEndpoints verifies only as many chunks as values
// are produced.
func TestPlanFewerValuesThanEndpoints(t *testing.T) {
	shards, sharded := Plan(geoFilter("k0", "k1"), []string{"a", "b", "c"})
	require.True(t, sharded)
	require.Len(t, shards, 2)
	assert.Equal(t, "b", shards[1].Endpoint)
}

// TestPlanShardsIDsBeforeAuthors follows the shard field priority.
func TestPlanShardsIDsBeforeAuthors(t *testing.T) {
	f := record.Filter{IDs: []string{"1", "2"}, Authors: []string{"x", "y"}}
	shards, sharded := Plan(f, []string{"a", "b"})
	require.True(t, sharded)
	assert.Equal(t, []string{"1"}, shards[0].Filter.IDs)
	assert.Equal(t, []string{"x", "y"}, shards[0].Filter.Authors)
}

// TestRotate moves each chunk to the next endpoint.
func TestRotate(t *testing.T) {
	eps := []string{"a", "b"}
	shards, _ := Plan(geoFilter("k0", "k1", "k2"), eps)
	rot := Rotate(shards, eps)
	assert.Equal(t, "b", rot[0].Endpoint)
	assert.Equal(t, "a", rot[1].Endpoint)
	assert.Equal(t, shards[0].Filter.Tags["g"], rot[0].Filter.Tags["g"])
	assert.Equal(t, "a", shards[0].Endpoint, "original untouched")
}

// TestFetchDedupsAcrossRelays verifies a record returned by several relays
// is delivered once.
func TestFetchDedupsAcrossRelays(t *testing.T) {
	tr := newScripted().
		on("a", emitAll(rec("1"), rec("2"))).
		on("b", emitAll(rec("2"), rec("3")))
	d := New(Config{Transport: tr, Endpoints: []string{"a", "b"}})

	var got []string
	sum, err := d.Fetch(context.Background(), record.Filter{Kinds: []int{record.KindParkingSpot}}, Options{
		OnRecord: func(r record.Record) { got = append(got, r.ID) },
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, got)
	assert.Equal(t, 3, sum.Delivered)
	assert.False(t, sum.Sharded)
	assert.Nil(t, sum.Verification)
}

// TestFetchTimeoutIsolatesRelay sends three cells to two relays where one
// never answers; the other relay's record still comes through and only the
// silent relay is penalized.
func TestFetchTimeoutIsolatesRelay(t *testing.T) {
	want := rec("spot-1")
	tr := newScripted().
		on("a", hang).
		on("b", emitAll(want))
	mon := relay.NewMonitor([]string{"a", "b"}, nil)
	d := New(Config{Transport: tr, Monitor: mon, Endpoints: []string{"a", "b"}, PerEndpointTimeout: 50 * time.Millisecond})

	var got []record.Record
	start := time.Now()
	sum, err := d.Fetch(context.Background(), geoFilter("k1", "k2", "k3"), Options{
		OnRecord: func(r record.Record) { got = append(got, r) },
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, want.ID, got[0].ID)
	assert.True(t, sum.Sharded)
	require.Len(t, sum.Shards, 2)
	assert.True(t, sum.Shards[0].TimedOut)
	assert.False(t, sum.Shards[1].TimedOut)

	ha, _ := mon.Get("a")
	hb, _ := mon.Get("b")
	assert.Equal(t, 1, ha.FailureCount)
	assert.Equal(t, 1, hb.SuccessCount)
}

// TestFetchRelayErrorRecordsFailure checks a transport error is reported on
// the shard and counted against the relay.
func TestFetchRelayErrorRecordsFailure(t *testing.T) {
	boom := errors.New("connection refused")
	tr := newScripted().on("a", func(context.Context, int, relay.Subscription, func(record.Record) error) error { return boom })
	mon := relay.NewMonitor([]string{"a"}, nil)
	d := New(Config{Transport: tr, Monitor: mon, Endpoints: []string{"a"}})

	sum, err := d.Fetch(context.Background(), geoFilter("k1"), Options{})
	require.NoError(t, err)
	require.Len(t, sum.Shards, 1)
	assert.ErrorIs(t, sum.Shards[0].Err, boom)
	h, _ := mon.Get("a")
	assert.Equal(t, 1, h.FailureCount)
}

// TestFetchCancelStopsPromptly cancels mid-fetch: the call returns without
// error, reports cancellation, and does not penalize the relays.
func TestFetchCancelStopsPromptly(t *testing.T) {
	tr := newScripted().on("a", hang).on("b", hang)
	mon := relay.NewMonitor([]string{"a", "b"}, nil)
	d := New(Config{Transport: tr, Monitor: mon, Endpoints: []string{"a", "b"}, PerEndpointTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	start := time.Now()
	sum, err := d.Fetch(ctx, geoFilter("k1", "k2"), Options{OnVerificationRecord: func(record.Record) {}})
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Nil(t, sum.Verification)
	assert.Less(t, time.Since(start), 5*time.Second)
	for _, ep := range []string{"a", "b"} {
		h, _ := mon.Get(ep)
		assert.Zero(t, h.FailureCount, ep)
	}
}

// TestFetchVerificationReportsMissed verifies the rotated second pass only
// reports records the primary pass did not deliver.
func TestFetchVerificationReportsMissed(t *testing.T) {
	tr := newScripted().
		on("a", emitAll(rec("r1"))).
		on("b", func(ctx context.Context, call int, sub relay.Subscription, emit func(record.Record) error) error {
			if call == 1 {
				return nil
			}
			return emitAll(rec("r1"), rec("r2"))(ctx, call, sub, emit)
		})
	d := New(Config{Transport: tr, Endpoints: []string{"a", "b"}, VerifyDelay: 10 * time.Millisecond})

	var primary []string
	var mu sync.Mutex
	var verified []string
	sum, err := d.Fetch(context.Background(), geoFilter("k1", "k2", "k3"), Options{
		OnRecord: func(r record.Record) { primary = append(primary, r.ID) },
		OnVerificationRecord: func(r record.Record) {
			mu.Lock()
			verified = append(verified, r.ID)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, primary)
	require.NotNil(t, sum.Verification)

	select {
	case <-sum.Verification:
	case <-time.After(2 * time.Second):
		t.Fatal("verification did not finish")
	}
	mu.Lock()
	assert.Equal(t, []string{"r2"}, verified)
	mu.Unlock()
	assert.Equal(t, 2, tr.callCount("a"))
	assert.Equal(t, 2, tr.callCount("b"))
}

// TestFetchSkipsUnhealthyRelay verifies relays marked down are not queried.
func TestFetchSkipsUnhealthyRelay(t *testing.T) {
	tr := newScripted().on("b", emitAll(rec("1")))
	mon := relay.NewMonitor([]string{"a", "b"}, nil)
	for i := 0; i < relay.MaxFailures; i++ {
		mon.RecordFailure("a")
	}
	d := New(Config{Transport: tr, Monitor: mon, Endpoints: []string{"a", "b"}})

	sum, err := d.Fetch(context.Background(), geoFilter("k1", "k2"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, tr.callCount("a"))
	assert.Equal(t, 1, sum.Delivered)
	assert.False(t, sum.Sharded)
}

// TestFetchUniqueSubscriptionIDs checks every shard gets its own id.
func TestFetchUniqueSubscriptionIDs(t *testing.T) {
	tr := newScripted()
	d := New(Config{Transport: tr, Endpoints: []string{"a", "b", "c"}})
	_, err := d.Fetch(context.Background(), geoFilter("k1", "k2", "k3"), Options{})
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, s := range tr.subs {
		assert.NotEmpty(t, s.ID)
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestFetchNoEndpoints(t *testing.T) {
	d := New(Config{Transport: newScripted()})
	_, err := d.Fetch(context.Background(), geoFilter("k1"), Options{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

type countingObserver struct {
	settled   atomic.Int32
	delivered atomic.Int32
}

func (o *countingObserver) ShardSettled(Pass, ShardResult) { o.settled.Add(1) }
func (o *countingObserver) RecordDelivered(Pass)           { o.delivered.Add(1) }

func TestFetchObserver(t *testing.T) {
	obs := &countingObserver{}
	tr := newScripted().on("a", emitAll(rec("1"), rec("1"), rec("2")))
	d := New(Config{Transport: tr, Endpoints: []string{"a"}, Observer: obs})
	_, err := d.Fetch(context.Background(), geoFilter("k1"), Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, obs.settled.Load())
	assert.EqualValues(t, 2, obs.delivered.Load())
}
