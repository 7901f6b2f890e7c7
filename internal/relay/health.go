package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	logpkg "github.com/rzbill/spotsync/pkg/log"
)

const (
	// MaxFailures is the failure count at which a stale relay is marked down.
	MaxFailures = 3
	// StaleAfter is how long since the last success a relay must be before
	// failures can mark it down.
	StaleAfter = 30 * time.Second
	// latencyAlpha weights the newest sample in the latency average.
	latencyAlpha = 0.2
)

// Health is a snapshot of one relay's observed reliability.
type Health struct {
	Endpoint     string
	Connected    bool
	LastSuccess  time.Time
	LastFailure  time.Time
	AvgLatencyMs float64
	SuccessCount int
	FailureCount int
}

// Monitor tracks relay health and notifies subscribers on every change.
// Subscribers run synchronously on the mutating goroutine, after the
// monitor's lock is released. Snapshots reach each subscriber in mutation
// order; a snapshot older than one already delivered is dropped, so the
// last one a subscriber sees always matches Snapshot.
// Thread-safe: all methods may be called concurrently.
type Monitor struct {
	mu      sync.Mutex
	relays  map[string]*Health
	order   []string
	subs    map[int]*subscriber
	nextSub int
	seq     uint64
	now     func() time.Time
	logger  logpkg.Logger

	// deliverMu serializes callbacks; never held while acquiring mu.
	deliverMu sync.Mutex
}

type subscriber struct {
	fn   func([]Health)
	seen uint64 // guarded by deliverMu
}

// NewMonitor creates a monitor seeded with endpoints, all initially connected.
func NewMonitor(endpoints []string, logger logpkg.Logger) *Monitor {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	m := &Monitor{
		relays: make(map[string]*Health),
		subs:   make(map[int]*subscriber),
		now:    time.Now,
		logger: logger.With(logpkg.Component("relay.health")),
	}
	for _, ep := range endpoints {
		m.entryLocked(ep)
	}
	return m
}

// entryLocked returns the entry for endpoint, creating it if needed.
func (m *Monitor) entryLocked(endpoint string) *Health {
	h, ok := m.relays[endpoint]
	if !ok {
		h = &Health{Endpoint: endpoint, Connected: true}
		m.relays[endpoint] = h
		m.order = append(m.order, endpoint)
	}
	return h
}

// RecordSuccess marks endpoint reachable and folds latency into its average.
func (m *Monitor) RecordSuccess(endpoint string, latency time.Duration) {
	m.mu.Lock()
	h := m.entryLocked(endpoint)
	wasDown := !h.Connected
	h.Connected = true
	h.LastSuccess = m.now()
	h.SuccessCount++
	ms := float64(latency) / float64(time.Millisecond)
	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = ms
	} else {
		h.AvgLatencyMs = (1-latencyAlpha)*h.AvgLatencyMs + latencyAlpha*ms
	}
	seq, snap := m.bumpLocked()
	m.mu.Unlock()

	if wasDown {
		m.logger.Info("relay recovered", logpkg.Str("relay", endpoint))
	}
	m.notify(seq, snap)
}

// RecordFailure counts a failure. The relay is marked down only once it has
// MaxFailures failures and no success within StaleAfter.
func (m *Monitor) RecordFailure(endpoint string) {
	m.mu.Lock()
	h := m.entryLocked(endpoint)
	now := m.now()
	h.LastFailure = now
	h.FailureCount++
	wentDown := false
	if h.Connected && h.FailureCount >= MaxFailures && now.Sub(h.LastSuccess) > StaleAfter {
		h.Connected = false
		wentDown = true
	}
	failures := h.FailureCount
	seq, snap := m.bumpLocked()
	m.mu.Unlock()

	if wentDown {
		m.logger.Warn("relay marked unhealthy", logpkg.Str("relay", endpoint), logpkg.Int("failures", failures))
	} else {
		m.logger.Debug("relay failure recorded", logpkg.Str("relay", endpoint), logpkg.Int("failures", failures))
	}
	m.notify(seq, snap)
}

// Healthy returns the connected subset of list in list order. If none are
// connected, every relay is reset to connected and list is returned as-is,
// so callers always have somewhere to send queries.
func (m *Monitor) Healthy(list []string) []string {
	m.mu.Lock()
	out := make([]string, 0, len(list))
	for _, ep := range list {
		if h, ok := m.relays[ep]; !ok || h.Connected {
			out = append(out, ep)
		}
	}
	if len(out) > 0 || len(list) == 0 {
		m.mu.Unlock()
		return out
	}
	m.resetLocked()
	seq, snap := m.bumpLocked()
	m.mu.Unlock()

	m.logger.Warn("all relays unhealthy, resetting health state", logpkg.Int("relays", len(list)))
	m.notify(seq, snap)
	return append([]string(nil), list...)
}

// SortedByLatency returns a copy of list ordered by ascending average
// latency. Relays without samples count as 0 and sort first; ties keep list
// order.
func (m *Monitor) SortedByLatency(list []string) []string {
	m.mu.Lock()
	lat := make(map[string]float64, len(list))
	for _, ep := range list {
		if h, ok := m.relays[ep]; ok {
			lat[ep] = h.AvgLatencyMs
		}
	}
	m.mu.Unlock()

	out := append([]string(nil), list...)
	slices.SortStableFunc(out, func(a, b string) int {
		switch {
		case lat[a] < lat[b]:
			return -1
		case lat[a] > lat[b]:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Reset marks every relay connected and clears failure counts.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.resetLocked()
	seq, snap := m.bumpLocked()
	m.mu.Unlock()
	m.notify(seq, snap)
}

func (m *Monitor) resetLocked() {
	for _, h := range m.relays {
		h.Connected = true
		h.FailureCount = 0
	}
}

// Snapshot returns copies of every entry in registration order.
func (m *Monitor) Snapshot() []Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Get returns a copy of one entry.
func (m *Monitor) Get(endpoint string) (Health, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.relays[endpoint]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// bumpLocked stamps the current state with the next sequence number.
func (m *Monitor) bumpLocked() (uint64, []Health) {
	m.seq++
	return m.seq, m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() []Health {
	out := make([]Health, 0, len(m.order))
	for _, ep := range m.order {
		out = append(out, *m.relays[ep])
	}
	return out
}

// Subscribe registers fn, calls it immediately with the current state, and
// again after every mutation. The returned function unsubscribes.
func (m *Monitor) Subscribe(fn func([]Health)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	seq, snap := m.seq, m.snapshotLocked()
	m.mu.Unlock()

	m.deliverMu.Lock()
	m.deliverLocked(sub, seq, snap)
	m.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) notify(seq uint64, snap []Health) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, m.subs[id])
	}
	m.mu.Unlock()

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	for _, sub := range subs {
		m.deliverLocked(sub, seq, snap)
	}
}

// deliverLocked hands snap to sub unless it has already seen the same or a
// newer state. Subscribers must not mutate the monitor from the callback.
func (m *Monitor) deliverLocked(sub *subscriber, seq uint64, snap []Health) {
	if sub.seen != 0 && seq <= sub.seen {
		return
	}
	sub.seen = seq
	sub.fn(snap)
}

// Pinger checks a single relay.
type Pinger interface {
	Ping(ctx context.Context, endpoint string) error
}

// Probe pings every relay currently marked down once per interval, recording
// the outcome, until ctx is cancelled.
func (m *Monitor) Probe(ctx context.Context, interval time.Duration, p Pinger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeDown(ctx, p)
		}
	}
}

func (m *Monitor) probeDown(ctx context.Context, p Pinger) {
	var down []string
	for _, h := range m.Snapshot() {
		if !h.Connected {
			down = append(down, h.Endpoint)
		}
	}
	for _, ep := range down {
		start := m.now()
		if err := p.Ping(ctx, ep); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.RecordFailure(ep)
			continue
		}
		m.RecordSuccess(ep, m.now().Sub(start))
	}
}
