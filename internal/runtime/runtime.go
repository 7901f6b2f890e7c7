package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	cfgpkg "github.com/rzbill/spotsync/internal/config"
	"github.com/rzbill/spotsync/internal/distributor"
	"github.com/rzbill/spotsync/internal/metrics"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
	"github.com/rzbill/spotsync/internal/resolver"
	"github.com/rzbill/spotsync/internal/seal"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// ErrNoIdentity is returned by operations that sign records when the
// runtime was opened without a signing key.
var ErrNoIdentity = errors.New("runtime: no signing identity configured")

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Identity signs published records. Optional for read-only use.
	Identity *record.KeyPair
	// Box encrypts and decrypts the user's session logs. Optional.
	Box *seal.KeyPair
	// Transport overrides the scheme-dispatching HTTP/gRPC transport.
	Transport relay.Transport
	// Metrics is created when nil.
	Metrics *metrics.Metrics
	// Fsync applies to the pending-delete store.
	Fsync pebblestore.FsyncMode
}

// Runtime wires the client components. All methods are safe for concurrent
// use; Close must be called once when done.
type Runtime struct {
	cfg       cfgpkg.Config
	logger    logpkg.Logger
	db        *pebblestore.DB
	monitor   *relay.Monitor
	transport relay.Transport
	pool      *relay.Pool
	dist      *distributor.Distributor
	resolver  *resolver.Resolver
	pending   *resolver.PendingDeletes
	metrics   *metrics.Metrics
	identity  *record.KeyPair
	box       *seal.KeyPair
	now       func() time.Time

	stopWatch func()
	closeOnce sync.Once
}

// Open builds every component. With a DataDir configured the pending-delete
// set is persisted in a Pebble store under it.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger.With(logpkg.Component("runtime")),
		metrics:  m,
		identity: opts.Identity,
		box:      opts.Box,
		now:      time.Now,
	}

	if cfg.DataDir != "" {
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(cfg.DataDir, "client"),
			Fsync:   opts.Fsync,
			Metrics: m,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		pd, err := resolver.NewPersistentPendingDeletes(context.Background(), db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.db, rt.pending = db, pd
	} else {
		rt.pending = resolver.NewPendingDeletes()
	}

	rt.monitor = relay.NewMonitor(cfg.Relays, logger)
	rt.stopWatch = m.WatchMonitor(rt.monitor)

	rt.transport = opts.Transport
	if rt.transport == nil {
		rt.transport = relay.NewMux().
			Handle(relay.NewHTTPTransport(relay.HTTPOptions{VerifySignatures: cfg.VerifySignatures, Logger: logger}), "http", "https").
			Handle(relay.NewGRPCTransport(relay.GRPCOptions{VerifySignatures: cfg.VerifySignatures, Logger: logger}), "grpc")
	}
	rt.pool = relay.NewPool(relay.PoolOptions{
		Transport:     rt.transport,
		Monitor:       rt.monitor,
		RatePerSecond: cfg.PublishRatePerSecond,
		Timeout:       cfg.PerRelayTimeout(),
		Logger:        logger,
	})
	rt.dist = distributor.New(distributor.Config{
		Transport:          rt.transport,
		Monitor:            rt.monitor,
		Endpoints:          cfg.Relays,
		PerEndpointTimeout: cfg.PerRelayTimeout(),
		VerifyDelay:        cfg.VerifyDelay(),
		Observer:           m,
		Logger:             logger,
	})
	rt.resolver = resolver.New(resolver.Options{Pending: rt.pending, Logger: logger})

	rt.logger.Info("runtime opened",
		logpkg.Int("relays", len(cfg.Relays)), logpkg.Bool("persistent", rt.db != nil))
	return rt, nil
}

// Close releases the store and stops metric mirroring.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.stopWatch != nil {
			r.stopWatch()
		}
		if r.db != nil {
			err = r.db.Close()
		}
		r.logger.Debug("runtime closed")
	})
	return err
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.cfg }

// Monitor returns the relay health monitor.
func (r *Runtime) Monitor() *relay.Monitor { return r.monitor }

// Metrics returns the metrics registry owner.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Pending returns the local pending-delete set.
func (r *Runtime) Pending() *resolver.PendingDeletes { return r.pending }

// Identity returns the signing key, or nil.
func (r *Runtime) Identity() *record.KeyPair { return r.identity }

// Fetch runs a raw distributed fetch against the configured relays.
func (r *Runtime) Fetch(ctx context.Context, f record.Filter, opts distributor.Options) (distributor.Summary, error) {
	return r.dist.Fetch(ctx, f, opts)
}

// PingResult is one relay's answer to CheckHealth.
type PingResult struct {
	Endpoint string
	Latency  time.Duration
	Err      error
}

// CheckHealth pings every configured relay concurrently and folds the
// outcomes into the monitor. It returns an error only when no relay
// answered.
func (r *Runtime) CheckHealth(ctx context.Context) ([]PingResult, error) {
	results := make([]PingResult, len(r.cfg.Relays))
	var wg sync.WaitGroup
	for i, ep := range r.cfg.Relays {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.cfg.PerRelayTimeout())
			defer cancel()
			start := time.Now()
			err := r.transport.Ping(pctx, ep)
			res := PingResult{Endpoint: ep, Latency: time.Since(start), Err: err}
			if err == nil {
				r.monitor.RecordSuccess(ep, res.Latency)
			} else if ctx.Err() == nil {
				r.monitor.RecordFailure(ep)
			}
			results[i] = res
		}(i, ep)
	}
	wg.Wait()

	for _, res := range results {
		if res.Err == nil {
			return results, nil
		}
	}
	if len(results) == 0 {
		return nil, distributor.ErrNoEndpoints
	}
	return results, errors.New("no relay reachable")
}

// StartProbe re-pings unhealthy relays every interval until ctx is done.
func (r *Runtime) StartProbe(ctx context.Context, interval time.Duration) {
	go r.monitor.Probe(ctx, interval, r.transport)
}
