package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzbill/spotsync/internal/record"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// ErrNoEndpoints is returned when a publish has nowhere to go.
var ErrNoEndpoints = errors.New("relay: no endpoints")

// PublishResult is one relay's answer to a publish.
type PublishResult struct {
	Endpoint string
	Accepted bool
	// Message is the rejection reason or transport error text.
	Message string
	Latency time.Duration
}

// Pool publishes records to many relays at once, paced by a rate limiter
// and feeding outcomes back into the health monitor.
type Pool struct {
	transport Transport
	monitor   *Monitor
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    logpkg.Logger
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Transport Transport
	Monitor   *Monitor
	// RatePerSecond limits publish calls; 0 means unlimited.
	RatePerSecond float64
	// Timeout bounds each relay's publish.
	Timeout time.Duration
	Logger  logpkg.Logger
}

// NewPool constructs a Pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Pool{
		transport: opts.Transport,
		monitor:   opts.Monitor,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   opts.Timeout,
		logger:    opts.Logger.With(logpkg.Component("relay.pool")),
	}
}

// Publish sends r to every endpoint concurrently and returns one result per
// endpoint in input order. Rejections count as healthy responses.
func (p *Pool) Publish(ctx context.Context, endpoints []string, r record.Record) ([]PublishResult, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	results := make([]PublishResult, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			start := time.Now()
			err := p.transport.Publish(pctx, ep, r)
			res := PublishResult{Endpoint: ep, Latency: time.Since(start)}
			switch {
			case err == nil:
				res.Accepted = true
				p.recordSuccess(ep, res.Latency)
			case errors.Is(err, ErrRejected):
				var rej *RejectedError
				if errors.As(err, &rej) {
					res.Message = rej.Reason
				} else {
					res.Message = err.Error()
				}
				p.recordSuccess(ep, res.Latency)
			default:
				res.Message = err.Error()
				if ctx.Err() == nil {
					p.recordFailure(ep)
				}
			}
			results[i] = res
		}(i, ep)
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		if res.Accepted {
			accepted++
		}
	}
	p.logger.Debug("published record",
		logpkg.Str("id", r.ID), logpkg.Int("accepted", accepted), logpkg.Int("relays", len(endpoints)))
	return results, ctx.Err()
}

func (p *Pool) recordSuccess(ep string, d time.Duration) {
	if p.monitor != nil {
		p.monitor.RecordSuccess(ep, d)
	}
}

func (p *Pool) recordFailure(ep string) {
	if p.monitor != nil {
		p.monitor.RecordFailure(ep)
	}
}
