package relaystore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/spotsync/internal/record"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

var (
	ErrNotFound  = errors.New("relaystore: not found")
	ErrInvalid   = errors.New("relaystore: invalid record")
	ErrStale     = errors.New("relaystore: a newer version is stored")
	ErrBadFilter = errors.New("relaystore: bad filter")
)

const (
	DefaultMaxLimit = 500
	// MaxFutureSkew is how far ahead of the relay clock created_at may be.
	MaxFutureSkew = 15 * time.Minute
)

// Options configures a Store.
type Options struct {
	DB *pebblestore.DB
	// MaxLimit caps every query; filters with a larger or zero limit get it.
	MaxLimit int
	Logger   logpkg.Logger
	Now      func() time.Time
}

// Store persists relay records. Writes are serialized; reads run on
// snapshots and never block writes.
type Store struct {
	db       *pebblestore.DB
	mu       sync.Mutex
	maxLimit int
	logger   logpkg.Logger
	now      func() time.Time
}

// New wraps an open database.
func New(opts Options) (*Store, error) {
	if opts.DB == nil {
		return nil, errors.New("relaystore: Options.DB is required")
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		db:       opts.DB,
		maxLimit: opts.MaxLimit,
		logger:   opts.Logger.With(logpkg.Component("relaystore")),
		now:      opts.Now,
	}, nil
}

// Put validates and stores r. It reports stored=false without error for a
// record already present. Older versions of a replaceable or addressable
// record are rejected with ErrStale; newer ones replace the stored version.
func (s *Store) Put(ctx context.Context, r record.Record) (stored bool, err error) {
	if err := record.Verify(r); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if r.CreatedAt > s.now().Add(MaxFutureSkew).Unix() {
		return false, fmt.Errorf("%w: created_at too far in the future", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.db.Has(keyRecord(r.ID)); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	b := s.db.NewBatch()
	defer b.Close()

	if record.IsReplaceable(r.Kind) || record.IsAddressable(r.Kind) {
		identity := r.Identity()
		cur, err := s.current(identity)
		switch {
		case err == nil:
			if cur.Supersedes(r) {
				return false, ErrStale
			}
			if err := s.deleteInBatch(b, cur); err != nil {
				return false, err
			}
		case !errors.Is(err, ErrNotFound):
			return false, err
		}
		if err := b.Set(keyAddr(identity), []byte(r.ID), nil); err != nil {
			return false, err
		}
	}

	if r.Kind == record.KindDeletion {
		if err := s.applyDeletion(b, r); err != nil {
			return false, err
		}
	}

	val, err := encodeRecord(r)
	if err != nil {
		return false, err
	}
	if err := b.Set(keyRecord(r.ID), val, nil); err != nil {
		return false, err
	}
	if err := b.Set(keyTS(r.CreatedAt, r.ID), nil, nil); err != nil {
		return false, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return false, err
	}
	s.logger.Debug("record stored", logpkg.Str("id", r.ID), logpkg.Int("kind", r.Kind))
	return true, nil
}

// applyDeletion removes the targets of marker that belong to its author.
func (s *Store) applyDeletion(b *pebble.Batch, marker record.Record) error {
	for _, target := range marker.DeletionTargets() {
		var victim record.Record
		var err error
		if _, author, _, ok := record.ParseAddress(target); ok {
			if author != marker.Author {
				continue
			}
			victim, err = s.current(target)
		} else {
			victim, err = s.Get(target)
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if victim.Author != marker.Author || victim.Kind == record.KindDeletion || victim.CreatedAt > marker.CreatedAt {
			continue
		}
		if err := s.deleteInBatch(b, victim); err != nil {
			return err
		}
		if record.IsReplaceable(victim.Kind) || record.IsAddressable(victim.Kind) {
			if err := b.Delete(keyAddr(victim.Identity()), nil); err != nil {
				return err
			}
		}
		s.logger.Debug("record deleted by marker", logpkg.Str("id", victim.ID), logpkg.Str("marker", marker.ID))
	}
	return nil
}

func (s *Store) deleteInBatch(b *pebble.Batch, r record.Record) error {
	if err := b.Delete(keyRecord(r.ID), nil); err != nil {
		return err
	}
	return b.Delete(keyTS(r.CreatedAt, r.ID), nil)
}

func (s *Store) current(identity string) (record.Record, error) {
	id, err := s.db.Get(keyAddr(identity))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return record.Record{}, ErrNotFound
		}
		return record.Record{}, err
	}
	return s.Get(string(id))
}

// Get returns the stored record with id.
func (s *Store) Get(id string) (record.Record, error) {
	b, err := s.db.Get(keyRecord(id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return record.Record{}, ErrNotFound
		}
		return record.Record{}, err
	}
	return decodeRecord(b)
}

// Query emits records matching f, newest first, up to the effective limit.
// It stops early when emit returns an error and returns that error.
func (s *Store) Query(ctx context.Context, f record.Filter, emit func(record.Record) error) error {
	where, err := compileWhere(f.Where)
	if err != nil {
		return err
	}
	limit := f.Limit
	if limit <= 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	accept := func(r record.Record) bool { return f.Matches(r) && where.Eval(r) }

	snap := s.db.NewSnapshot()
	defer snap.Close()
	get := func(id string) (record.Record, bool) {
		val, closer, err := snap.Get(keyRecord(id))
		if err != nil {
			return record.Record{}, false
		}
		defer closer.Close()
		r, err := decodeRecord(val)
		if err != nil {
			s.logger.Warn("skipping corrupt record", logpkg.Str("id", id))
			return record.Record{}, false
		}
		return r, true
	}

	if len(f.IDs) > 0 {
		var hits []record.Record
		for _, id := range f.IDs {
			if r, ok := get(id); ok && accept(r) {
				hits = append(hits, r)
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt > hits[j].CreatedAt })
		if len(hits) > limit {
			hits = hits[:limit]
		}
		for _, r := range hits {
			if err := emit(r); err != nil {
				return err
			}
		}
		return nil
	}

	upper := pebblestore.PrefixUpperBound(tsPrefix)
	if f.Until > 0 {
		upper = keyTSBound(f.Until + 1)
	}
	it, err := snap.NewIter(&pebble.IterOptions{LowerBound: keyTSBound(f.Since), UpperBound: upper})
	if err != nil {
		return err
	}
	defer it.Close()

	sent := 0
	for ok := it.Last(); ok && sent < limit; ok = it.Prev() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, found := get(idFromTSKey(it.Key()))
		if !found || !accept(r) {
			continue
		}
		if err := emit(r); err != nil {
			return err
		}
		sent++
	}
	return it.Error()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.Scan(ctx, recPrefix, false, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}
