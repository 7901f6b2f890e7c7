package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/rzbill/spotsync/internal/record"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

var (
	// ErrRejected is matched by errors.Is for a relay refusing a record.
	ErrRejected = errors.New("relay: record rejected")
	// ErrUnsupportedScheme is returned for endpoints no transport handles.
	ErrUnsupportedScheme = errors.New("relay: unsupported endpoint scheme")
)

// RejectedError carries the relay's reason for refusing a record.
type RejectedError struct {
	Endpoint string
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay %s rejected record: %s", e.Endpoint, e.Reason)
}

// Is makes errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Subscription is one query against one relay.
type Subscription struct {
	ID     string
	Filter record.Filter
}

// Transport abstracts a relay protocol.
type Transport interface {
	// Query streams every record matching sub.Filter to emit and returns
	// when the relay signals the end of stored results, ctx is done, or
	// emit returns an error.
	Query(ctx context.Context, endpoint string, sub Subscription, emit func(record.Record) error) error
	// Publish stores one record on a relay.
	Publish(ctx context.Context, endpoint string, r record.Record) error
	// Ping checks the relay is serving.
	Ping(ctx context.Context, endpoint string) error
}

// Mux dispatches to a Transport by endpoint scheme.
type Mux struct {
	byScheme map[string]Transport
}

// NewMux returns a mux with no transports registered.
func NewMux() *Mux {
	return &Mux{byScheme: map[string]Transport{}}
}

// Handle registers t for the given URL schemes.
func (m *Mux) Handle(t Transport, schemes ...string) *Mux {
	for _, s := range schemes {
		m.byScheme[s] = t
	}
	return m
}

func (m *Mux) pick(endpoint string) (Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	t, ok := m.byScheme[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, endpoint)
	}
	return t, nil
}

func (m *Mux) Query(ctx context.Context, endpoint string, sub Subscription, emit func(record.Record) error) error {
	t, err := m.pick(endpoint)
	if err != nil {
		return err
	}
	return t.Query(ctx, endpoint, sub, emit)
}

func (m *Mux) Publish(ctx context.Context, endpoint string, r record.Record) error {
	t, err := m.pick(endpoint)
	if err != nil {
		return err
	}
	return t.Publish(ctx, endpoint, r)
}

func (m *Mux) Ping(ctx context.Context, endpoint string) error {
	t, err := m.pick(endpoint)
	if err != nil {
		return err
	}
	return t.Ping(ctx, endpoint)
}

// decoder turns wire bytes into records, dropping malformed or forged ones.
type decoder struct {
	verify bool
	logger logpkg.Logger
}

func (d decoder) decode(endpoint string, b []byte) (record.Record, bool) {
	var r record.Record
	if err := json.Unmarshal(b, &r); err != nil {
		d.logger.Debug("skipping malformed record", logpkg.Str("relay", endpoint), logpkg.Err(err))
		return record.Record{}, false
	}
	if r.ID == "" {
		d.logger.Debug("skipping record without id", logpkg.Str("relay", endpoint))
		return record.Record{}, false
	}
	if d.verify {
		if err := record.Verify(r); err != nil {
			d.logger.Warn("skipping record with invalid signature",
				logpkg.Str("relay", endpoint), logpkg.Str("id", r.ID), logpkg.Err(err))
			return record.Record{}, false
		}
	}
	return r, true
}
