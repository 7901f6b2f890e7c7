package relaysvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzbill/spotsync/internal/metrics"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relaystore"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

var (
	// ErrRateLimited is returned when the publish limiter has no tokens.
	ErrRateLimited = errors.New("relay: publish rate exceeded")
	// ErrBadRequest wraps undecodable requests.
	ErrBadRequest = errors.New("relay: bad request")
)

// IsRejection reports whether err is the client's fault and should be
// reported as a rejection rather than a server failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, relaystore.ErrInvalid) ||
		errors.Is(err, relaystore.ErrStale) ||
		errors.Is(err, relaystore.ErrBadFilter)
}

// Sink receives query results for one client.
type Sink interface {
	Send(r record.Record) error
	Flush() error
}

// Options configures a Service.
type Options struct {
	Store *relaystore.Store
	// RatePerSecond limits publishes across all clients; 0 disables it.
	RatePerSecond float64
	Burst         int
	Metrics       *metrics.Metrics
	Logger        logpkg.Logger
}

// Service is the transport-independent relay.
type Service struct {
	store      *relaystore.Store
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     logpkg.Logger
	flushEvery int
}

// New constructs a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	var lim *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return &Service{
		store:      opts.Store,
		limiter:    lim,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With(logpkg.Component("relay")),
		flushEvery: readFlushEvery(),
	}
}

func readFlushEvery() int {
	if v := os.Getenv("SPOTSYNC_QUERY_FLUSH_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 64
}

// Publish decodes and stores one JSON record. The returned status is
// "stored" or "duplicate".
func (s *Service) Publish(ctx context.Context, transport string, raw []byte) (status string, err error) {
	start := time.Now()
	defer func() { s.observe(transport, "publish", err) }()

	if s.limiter != nil && !s.limiter.Allow() {
		return "", ErrRateLimited
	}
	var r record.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("%w: decode record: %v", ErrBadRequest, err)
	}
	stored, err := s.store.Put(ctx, r)
	if err != nil {
		s.logger.Debug("publish rejected", logpkg.Str("id", r.ID), logpkg.Err(err))
		return "", err
	}
	status = "duplicate"
	if stored {
		status = "stored"
	}
	s.logger.Debug("publish",
		logpkg.Str("transport", transport), logpkg.Str("id", r.ID), logpkg.Int("kind", r.Kind),
		logpkg.Str("status", status), logpkg.Duration("dur", time.Since(start)))
	return status, nil
}

// Query decodes a JSON filter and streams matches into sink, flushing
// periodically and once at the end.
func (s *Service) Query(ctx context.Context, transport string, raw []byte, subID string, sink Sink) (err error) {
	start := time.Now()
	defer func() { s.observe(transport, "query", err) }()

	var f record.Filter
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("%w: decode filter: %v", ErrBadRequest, err)
		}
	}
	n := 0
	err = s.store.Query(ctx, f, func(r record.Record) error {
		if err := sink.Send(r); err != nil {
			return err
		}
		n++
		if n%s.flushEvery == 0 {
			return sink.Flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("query",
		logpkg.Str("transport", transport), logpkg.Str("sub", subID), logpkg.Stringer("filter", f),
		logpkg.Int("records", n), logpkg.Duration("dur", time.Since(start)))
	return sink.Flush()
}

// CheckHealth reports whether the store is readable.
func (s *Service) CheckHealth(ctx context.Context) error {
	_, err := s.store.Count(ctx)
	return err
}

func (s *Service) observe(transport, method string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case IsRejection(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.metrics.ObserveRequest(transport, method, outcome)
}
