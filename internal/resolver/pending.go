package resolver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

const pendingPrefix = "pd/"

// PendingDeletes is the local set of identities the user deleted. Entries
// mask matching records in every later resolution and never expire.
// Thread-safe.
type PendingDeletes struct {
	mu     sync.RWMutex
	set    map[string]struct{}
	db     *pebblestore.DB
	logger logpkg.Logger
}

// NewPendingDeletes returns an in-memory set.
func NewPendingDeletes() *PendingDeletes {
	return &PendingDeletes{set: make(map[string]struct{}), logger: logpkg.NewNopLogger()}
}

// NewPersistentPendingDeletes returns a set backed by db, preloaded with
// every identity stored there.
func NewPersistentPendingDeletes(ctx context.Context, db *pebblestore.DB, logger logpkg.Logger) (*PendingDeletes, error) {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	p := &PendingDeletes{
		set:    make(map[string]struct{}),
		db:     db,
		logger: logger.With(logpkg.Component("resolver.pending")),
	}
	err := db.Scan(ctx, []byte(pendingPrefix), false, func(k, _ []byte) error {
		p.set[string(k[len(pendingPrefix):])] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pending deletes: %w", err)
	}
	p.logger.Debug("pending deletes loaded", logpkg.Int("count", len(p.set)))
	return p, nil
}

// Add records identities (addresses or record ids). With a backing store
// the entries are written before they become visible in memory.
func (p *PendingDeletes) Add(identities ...string) error {
	if p.db != nil {
		b := p.db.NewBatch()
		defer b.Close()
		for _, id := range identities {
			if err := b.Set([]byte(pendingPrefix+id), nil, nil); err != nil {
				return err
			}
		}
		if err := p.db.CommitBatch(context.Background(), b); err != nil {
			return fmt.Errorf("persist pending deletes: %w", err)
		}
	}
	p.mu.Lock()
	for _, id := range identities {
		p.set[id] = struct{}{}
	}
	p.mu.Unlock()
	return nil
}

// Contains reports whether identity was deleted locally.
func (p *PendingDeletes) Contains(identity string) bool {
	p.mu.RLock()
	_, ok := p.set[identity]
	p.mu.RUnlock()
	return ok
}

// List returns every entry, sorted.
func (p *PendingDeletes) List() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.set))
	for id := range p.set {
		out = append(out, id)
	}
	p.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Len returns the number of entries.
func (p *PendingDeletes) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.set)
}
