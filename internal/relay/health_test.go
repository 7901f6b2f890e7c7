package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock is a settable time source for the monitor.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(endpoints ...string) (*Monitor, *manualClock) {
	clk := &manualClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMonitor(endpoints, nil)
	m.now = clk.Now
	return m, clk
}

// TestNewMonitorSeedsConnected verifies configured relays start connected
// with empty counters.
func TestNewMonitorSeedsConnected(t *testing.T) {
	m, _ := newTestMonitor("a", "b")
	snap := m.Snapshot()
	require.Len(t, snap, 2)
	for _, h := range snap {
		assert.True(t, h.Connected)
		assert.Zero(t, h.FailureCount)
		assert.Zero(t, h.AvgLatencyMs)
	}
	assert.Equal(t, "a", snap[0].Endpoint)
}

// TestRecordSuccessLatencyAverage checks the first sample seeds the average
// and later samples are folded in with weight 0.2.
func TestRecordSuccessLatencyAverage(t *testing.T) {
	m, _ := newTestMonitor("a")
	m.RecordSuccess("a", 100*time.Millisecond)
	h, _ := m.Get("a")
	assert.InDelta(t, 100, h.AvgLatencyMs, 1e-9)

	m.RecordSuccess("a", 200*time.Millisecond)
	h, _ = m.Get("a")
	assert.InDelta(t, 120, h.AvgLatencyMs, 1e-9)
	assert.Equal(t, 2, h.SuccessCount)
}

// TestUnhealthyRequiresFailuresAndStaleness covers the combined rule: three
// failures alone are not enough while the last success is recent.
func TestUnhealthyRequiresFailuresAndStaleness(t *testing.T) {
	m, clk := newTestMonitor("a")
	m.RecordSuccess("a", 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		m.RecordFailure("a")
	}
	h, _ := m.Get("a")
	assert.True(t, h.Connected, "recent success keeps relay connected")
	assert.Equal(t, 3, h.FailureCount)

	clk.Advance(StaleAfter + time.Second)
	m.RecordFailure("a")
	h, _ = m.Get("a")
	assert.False(t, h.Connected)

	m.RecordSuccess("a", 10*time.Millisecond)
	h, _ = m.Get("a")
	assert.True(t, h.Connected, "success restores the relay")
}

// TestNeverSucceededRelayGoesDownAfterThreeFailures treats a missing success
// as infinitely stale.
func TestNeverSucceededRelayGoesDownAfterThreeFailures(t *testing.T) {
	m, _ := newTestMonitor("a", "b")
	m.RecordFailure("a")
	m.RecordFailure("a")
	h, _ := m.Get("a")
	require.True(t, h.Connected)
	m.RecordFailure("a")
	h, _ = m.Get("a")
	assert.False(t, h.Connected)

	assert.Equal(t, []string{"b"}, m.Healthy([]string{"a", "b"}))
}

// TestHealthyResetsWhenAllDown ensures the healthy list is never empty.
func TestHealthyResetsWhenAllDown(t *testing.T) {
	m, _ := newTestMonitor("a", "b")
	for _, ep := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			m.RecordFailure(ep)
		}
	}
	got := m.Healthy([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, got)
	for _, h := range m.Snapshot() {
		assert.True(t, h.Connected)
		assert.Zero(t, h.FailureCount)
	}
	assert.Empty(t, m.Healthy(nil))
}

// TestSortedByLatencyIsStable orders by average with unknown relays first
// and ties in input order.
func TestSortedByLatencyIsStable(t *testing.T) {
	m, _ := newTestMonitor("slow", "fast", "tieA", "tieB")
	m.RecordSuccess("slow", 300*time.Millisecond)
	m.RecordSuccess("fast", 50*time.Millisecond)
	m.RecordSuccess("tieA", 100*time.Millisecond)
	m.RecordSuccess("tieB", 100*time.Millisecond)

	got := m.SortedByLatency([]string{"slow", "tieB", "unknown", "fast", "tieA"})
	assert.Equal(t, []string{"unknown", "fast", "tieB", "tieA", "slow"}, got)
}

// TestSubscribeFiresImmediatelyAndOnMutation checks the notification
// contract and that unsubscribe stops delivery.
func TestSubscribeFiresImmediatelyAndOnMutation(t *testing.T) {
	m, _ := newTestMonitor("a")
	var calls [][]Health
	unsub := m.Subscribe(func(s []Health) { calls = append(calls, s) })
	require.Len(t, calls, 1)
	assert.True(t, calls[0][0].Connected)

	m.RecordSuccess("a", time.Millisecond)
	m.RecordFailure("a")
	require.Len(t, calls, 3)
	assert.Equal(t, 1, calls[2][0].FailureCount)

	unsub()
	unsub()
	m.RecordFailure("a")
	assert.Len(t, calls, 3)
}

// TestSubscriberMayCallBack ensures callbacks run without the lock held.
func TestSubscriberMayCallBack(t *testing.T) {
	m, _ := newTestMonitor("a")
	seen := 0
	m.Subscribe(func([]Health) { seen = len(m.Snapshot()) })
	m.RecordSuccess("a", time.Millisecond)
	assert.Equal(t, 1, seen)
}

type fakePinger struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (p *fakePinger) Ping(_ context.Context, ep string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ep)
	return p.err
}

// TestProbeDownRestoresReachableRelays probes only relays marked down.
func TestProbeDownRestoresReachableRelays(t *testing.T) {
	m, _ := newTestMonitor("a", "b")
	for i := 0; i < 3; i++ {
		m.RecordFailure("a")
	}
	p := &fakePinger{}
	m.probeDown(context.Background(), p)
	assert.Equal(t, []string{"a"}, p.calls)
	h, _ := m.Get("a")
	assert.True(t, h.Connected)

	for i := 0; i < 3; i++ {
		m.RecordFailure("b")
	}
	p.err = errors.New("refused")
	m.probeDown(context.Background(), p)
	h, _ = m.Get("b")
	assert.False(t, h.Connected)
	assert.Equal(t, 4, h.FailureCount)
}

// TestSubscriberEndsOnLatestState races mutators against a slow subscriber
// and checks the last delivered snapshot matches the monitor's state.
func TestSubscriberEndsOnLatestState(t *testing.T) {
	for round := 0; round < 50; round++ {
		m, _ := newTestMonitor("a", "b")
		var (
			mu   sync.Mutex
			last []Health
		)
		m.Subscribe(func(s []Health) {
			time.Sleep(10 * time.Microsecond)
			mu.Lock()
			last = s
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ep := []string{"a", "b"}[i%2]
				if i%3 == 0 {
					m.RecordFailure(ep)
					return
				}
				m.RecordSuccess(ep, time.Duration(i+1)*time.Millisecond)
			}(i)
		}
		wg.Wait()

		mu.Lock()
		got := last
		mu.Unlock()
		require.Equal(t, m.Snapshot(), got, "round %d", round)
	}
}
