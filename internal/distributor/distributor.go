package distributor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// Defaults.
const (
	DefaultPerEndpointTimeout = 5 * time.Second
	DefaultVerifyDelay        = 1500 * time.Millisecond
	defaultBufferSize         = 256
)

// ErrNoEndpoints is returned when there is no relay to query.
var ErrNoEndpoints = errors.New("distributor: no endpoints")

// Config wires a Distributor.
type Config struct {
	Transport relay.Transport
	Monitor   *relay.Monitor
	// Endpoints is the default relay list, used when a fetch names none.
	Endpoints          []string
	PerEndpointTimeout time.Duration
	VerifyDelay        time.Duration
	// BufferSize bounds the shard-to-merge channel.
	BufferSize int
	Observer   Observer
	Logger     logpkg.Logger
}

// Distributor runs sharded fetches.
type Distributor struct {
	transport relay.Transport
	monitor   *relay.Monitor
	endpoints []string
	timeout   time.Duration
	delay     time.Duration
	bufSize   int
	observer  Observer
	logger    logpkg.Logger
}

// New constructs a Distributor. A nil Monitor gets a fresh one seeded with
// cfg.Endpoints.
func New(cfg Config) *Distributor {
	if cfg.Logger == nil {
		cfg.Logger = logpkg.NewNopLogger()
	}
	if cfg.Monitor == nil {
		cfg.Monitor = relay.NewMonitor(cfg.Endpoints, cfg.Logger)
	}
	if cfg.PerEndpointTimeout <= 0 {
		cfg.PerEndpointTimeout = DefaultPerEndpointTimeout
	}
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = DefaultVerifyDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	return &Distributor{
		transport: cfg.Transport,
		monitor:   cfg.Monitor,
		endpoints: append([]string(nil), cfg.Endpoints...),
		timeout:   cfg.PerEndpointTimeout,
		delay:     cfg.VerifyDelay,
		bufSize:   cfg.BufferSize,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With(logpkg.Component("distributor")),
	}
}

// Monitor returns the health monitor the distributor reports into.
func (d *Distributor) Monitor() *relay.Monitor { return d.monitor }

// Options tunes a single fetch.
type Options struct {
	// Endpoints overrides the configured relay list.
	Endpoints []string
	// OnRecord is called once per unique record id from the primary pass.
	OnRecord func(record.Record)
	// OnVerificationRecord, when set, enables the verification pass and is
	// called for records the primary pass did not deliver.
	OnVerificationRecord func(record.Record)
	// PerEndpointTimeout overrides the configured per-shard timeout.
	PerEndpointTimeout time.Duration
}

// ShardResult describes how one shard settled.
type ShardResult struct {
	Index          int
	Endpoint       string
	SubscriptionID string
	Records        int
	Duration       time.Duration
	TimedOut       bool
	Cancelled      bool
	Err            error
}

// Summary reports the primary pass of a fetch.
type Summary struct {
	Shards    []ShardResult
	Delivered int
	Sharded   bool
	Cancelled bool
	// Verification is closed when the verification pass finishes; nil when
	// none was scheduled.
	Verification <-chan struct{}
}

// Fetch runs f across the healthy relays, fastest first, and returns once
// every shard has settled or ctx is cancelled. Cancellation is not an
// error: the summary reports it and results delivered so far stand.
func (d *Distributor) Fetch(ctx context.Context, f record.Filter, opts Options) (Summary, error) {
	all := opts.Endpoints
	if len(all) == 0 {
		all = d.endpoints
	}
	if len(all) == 0 {
		return Summary{}, ErrNoEndpoints
	}
	endpoints := d.monitor.SortedByLatency(d.monitor.Healthy(all))
	timeout := opts.PerEndpointTimeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	shards, sharded := Plan(f, endpoints)
	seen := make(map[string]struct{})
	d.logger.Debug("fetch started",
		logpkg.Stringer("filter", f), logpkg.Int("relays", len(endpoints)),
		logpkg.Int("shards", len(shards)), logpkg.Bool("sharded", sharded))

	results, delivered, cancelled := d.run(ctx, shards, timeout, seen, opts.OnRecord, PassPrimary)
	sum := Summary{Shards: results, Delivered: delivered, Sharded: sharded, Cancelled: cancelled}
	d.logger.Debug("fetch settled", logpkg.Int("delivered", delivered), logpkg.Bool("cancelled", cancelled))

	if opts.OnVerificationRecord != nil && sharded && !cancelled {
		vdone := make(chan struct{})
		sum.Verification = vdone
		vshards := Rotate(shards, endpoints)
		go func() {
			defer close(vdone)
			timer := time.NewTimer(d.delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			_, found, _ := d.run(ctx, vshards, timeout, seen, opts.OnVerificationRecord, PassVerification)
			if found > 0 {
				d.logger.Info("verification found missed records", logpkg.Int("records", found))
			}
		}()
	}
	return sum, nil
}

type shardItem struct {
	rec record.Record
}

// run executes shards concurrently and merges their output. seen is owned
// by the calling goroutine for the duration of the call.
func (d *Distributor) run(ctx context.Context, shards []Shard, timeout time.Duration, seen map[string]struct{}, onRecord func(record.Record), pass Pass) ([]ShardResult, int, bool) {
	items := make(chan shardItem, d.bufSize)
	settled := make(chan ShardResult, len(shards))
	var wg sync.WaitGroup
	wg.Add(len(shards))
	for _, sh := range shards {
		go func(sh Shard) {
			defer wg.Done()
			settled <- d.runShard(ctx, sh, timeout, items, pass)
		}(sh)
	}

	delivered := 0
	deliver := func(it shardItem) {
		if _, dup := seen[it.rec.ID]; dup {
			return
		}
		seen[it.rec.ID] = struct{}{}
		delivered++
		d.observer.RecordDelivered(pass)
		if onRecord != nil {
			onRecord(it.rec)
		}
	}

	results := make([]ShardResult, len(shards))
	remaining := len(shards)
	cancelled := false
	for remaining > 0 && !cancelled {
		select {
		case <-ctx.Done():
			cancelled = true
		case it := <-items:
			deliver(it)
		case res := <-settled:
			results[res.Index] = res
			remaining--
		}
	}
	if cancelled {
		wg.Wait()
		for remaining > 0 {
			res := <-settled
			results[res.Index] = res
			remaining--
		}
		return results, delivered, true
	}
	// Every shard finished sending before it settled, so anything left is
	// already buffered.
	for {
		select {
		case it := <-items:
			deliver(it)
		default:
			return results, delivered, false
		}
	}
}

func (d *Distributor) runShard(ctx context.Context, sh Shard, timeout time.Duration, out chan<- shardItem, pass Pass) ShardResult {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := ShardResult{Index: sh.Index, Endpoint: sh.Endpoint, SubscriptionID: uuid.NewString()}
	log := d.logger.With(logpkg.Str("relay", sh.Endpoint), logpkg.Str("sub", res.SubscriptionID), logpkg.Str("pass", string(pass)))
	start := time.Now()
	err := d.transport.Query(sctx, sh.Endpoint, relay.Subscription{ID: res.SubscriptionID, Filter: sh.Filter}, func(r record.Record) error {
		select {
		case out <- shardItem{rec: r}:
			res.Records++
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	})
	res.Duration = time.Since(start)

	switch {
	case ctx.Err() != nil:
		res.Cancelled = true
	case err == nil:
		d.monitor.RecordSuccess(sh.Endpoint, res.Duration)
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		d.monitor.RecordFailure(sh.Endpoint)
		log.Debug("shard timed out", logpkg.Int("records", res.Records), logpkg.Duration("after", res.Duration))
	default:
		res.Err = err
		d.monitor.RecordFailure(sh.Endpoint)
		log.Warn("shard failed", logpkg.Err(err), logpkg.Int("records", res.Records))
	}
	d.observer.ShardSettled(pass, res)
	return res
}
