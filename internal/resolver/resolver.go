package resolver

import (
	"context"

	"github.com/rzbill/spotsync/internal/record"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// Opener recovers the plaintext content of a record, typically by
// decrypting it. An error drops that record from the result.
type Opener interface {
	Open(r record.Record) ([]byte, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(record.Record) ([]byte, error)

func (f OpenerFunc) Open(r record.Record) ([]byte, error) { return f(r) }

// Entry is one visible record. Plaintext is the opened content, or the raw
// content when no Opener is configured.
type Entry struct {
	Record    record.Record
	Plaintext []byte
}

// Options configures a Resolver.
type Options struct {
	Pending *PendingDeletes
	Opener  Opener
	Logger  logpkg.Logger
}

// Resolver applies Reduce plus the local pending-delete set and an Opener.
type Resolver struct {
	pending *PendingDeletes
	opener  Opener
	logger  logpkg.Logger
}

// New constructs a Resolver. A nil Pending gets an empty in-memory set.
func New(opts Options) *Resolver {
	if opts.Pending == nil {
		opts.Pending = NewPendingDeletes()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &Resolver{
		pending: opts.Pending,
		opener:  opts.Opener,
		logger:  opts.Logger.With(logpkg.Component("resolver")),
	}
}

// Pending returns the pending-delete set.
func (r *Resolver) Pending() *PendingDeletes { return r.pending }

// Resolve returns the visible entries of records.
func (r *Resolver) Resolve(records []record.Record) []Entry {
	out, _ := r.ResolveStats(records)
	return out
}

// ResolveStats is Resolve that also reports counts.
func (r *Resolver) ResolveStats(records []record.Record) ([]Entry, Stats) {
	winners, st := Reduce(records, r.pending.Contains)
	out := make([]Entry, 0, len(winners))
	for _, w := range winners {
		if r.opener == nil {
			out = append(out, Entry{Record: w, Plaintext: []byte(w.Content)})
			continue
		}
		pt, err := r.opener.Open(w)
		if err != nil {
			st.OpenFailed++
			r.logger.Debug("record dropped, open failed", logpkg.Str("id", w.ID), logpkg.Err(err))
			continue
		}
		out = append(out, Entry{Record: w, Plaintext: pt})
	}
	st.Visible = len(out)
	return out, st
}

// ResolveStream drains in until it closes or ctx is done, then resolves
// everything received.
func (r *Resolver) ResolveStream(ctx context.Context, in <-chan record.Record) ([]Entry, Stats) {
	var batch []record.Record
	for {
		select {
		case <-ctx.Done():
			return r.ResolveStats(batch)
		case rec, ok := <-in:
			if !ok {
				return r.ResolveStats(batch)
			}
			batch = append(batch, rec)
		}
	}
}
