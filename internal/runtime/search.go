package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/spotsync/internal/cluster"
	"github.com/rzbill/spotsync/internal/distributor"
	"github.com/rzbill/spotsync/internal/geohash"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/resolver"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// SearchRequest describes a spot search around a point.
type SearchRequest struct {
	Lat, Lon float64
	// Precision of the covering geohash cells; 0 uses the configured default.
	Precision int
	// Zoom drives clustering; 0 derives it from Precision.
	Zoom  int
	Since int64
	// OnUpdate receives a refreshed result if the verification pass finds
	// spots the first pass missed. It runs on its own goroutine.
	OnUpdate func(SearchResult)
}

// SpotEntry is one visible spot.
type SpotEntry struct {
	Record record.Record
	Spot   record.Spot
}

// SearchResult is the resolved and clustered outcome of a search.
type SearchResult struct {
	Keys    []string
	Spots   []SpotEntry
	Items   []cluster.Item
	Summary distributor.Summary
	Stats   resolver.Stats
	// Settled is closed once the verification follow-up, including any
	// OnUpdate call, has finished. It is nil when no follow-up runs.
	Settled <-chan struct{}
}

// Search fetches the spots in the cells covering (Lat, Lon), then the
// deletion markers of their authors, resolves both together and clusters
// the survivors.
func (r *Runtime) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	precision := req.Precision
	if precision <= 0 {
		precision = r.cfg.SearchPrecision
	}
	zoom := req.Zoom
	if zoom <= 0 {
		zoom = 2 * precision
	}
	keys, err := geohash.CoverKeys(req.Lat, req.Lon, precision)
	if err != nil {
		return SearchResult{}, err
	}
	log := r.logger.With(logpkg.Str("op", "search"), logpkg.Strs("cells", keys))

	var (
		collected []record.Record
		mu        sync.Mutex
		late      []record.Record
	)
	opts := distributor.Options{OnRecord: func(rec record.Record) { collected = append(collected, rec) }}
	if req.OnUpdate != nil {
		opts.OnVerificationRecord = func(rec record.Record) {
			mu.Lock()
			late = append(late, rec)
			mu.Unlock()
		}
	}
	f := record.Filter{
		Kinds: []int{record.KindParkingSpot},
		Tags:  map[string][]string{"g": keys},
		Since: req.Since,
	}
	sum, err := r.dist.Fetch(ctx, f, opts)
	if err != nil {
		return SearchResult{}, err
	}

	markers, err := r.fetchDeletions(ctx, collected)
	if err != nil {
		return SearchResult{}, err
	}
	base := append(collected, markers...)

	res, err := r.buildResult(base, zoom)
	if err != nil {
		return SearchResult{}, err
	}
	res.Keys, res.Summary = keys, sum
	log.Debug("search resolved",
		logpkg.Int("fetched", len(collected)), logpkg.Int("markers", len(markers)),
		logpkg.Int("visible", len(res.Spots)), logpkg.Int("items", len(res.Items)))

	if sum.Verification != nil && req.OnUpdate != nil {
		settled := make(chan struct{})
		res.Settled = settled
		go func() {
			defer close(settled)
			<-sum.Verification
			mu.Lock()
			extra := append([]record.Record(nil), late...)
			mu.Unlock()
			if len(extra) == 0 {
				return
			}
			more, err := r.fetchDeletions(ctx, extra)
			if err != nil {
				log.Debug("verification deletion fetch failed", logpkg.Err(err))
			}
			all := append(append(append([]record.Record(nil), base...), extra...), more...)
			updated, err := r.buildResult(all, zoom)
			if err != nil {
				log.Warn("verification rebuild failed", logpkg.Err(err))
				return
			}
			updated.Keys, updated.Summary = keys, sum
			log.Info("search updated by verification", logpkg.Int("late", len(extra)))
			req.OnUpdate(updated)
		}()
	}
	return res, nil
}

// fetchDeletions pulls deletion markers written by the authors of recs.
func (r *Runtime) fetchDeletions(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	seen := map[string]struct{}{}
	var authors []string
	for _, rec := range recs {
		if rec.Author == "" {
			continue
		}
		if _, ok := seen[rec.Author]; ok {
			continue
		}
		seen[rec.Author] = struct{}{}
		authors = append(authors, rec.Author)
	}
	if len(authors) == 0 {
		return nil, nil
	}
	var out []record.Record
	_, err := r.dist.Fetch(ctx, record.Filter{Kinds: []int{record.KindDeletion}, Authors: authors}, distributor.Options{
		OnRecord: func(rec record.Record) { out = append(out, rec) },
	})
	if err != nil {
		return nil, fmt.Errorf("fetch deletions: %w", err)
	}
	return out, nil
}

func (r *Runtime) buildResult(recs []record.Record, zoom int) (SearchResult, error) {
	entries, stats := r.resolver.ResolveStats(recs)
	res := SearchResult{Stats: stats}
	points := make([]cluster.Point, 0, len(entries))
	for _, e := range entries {
		if e.Record.Kind != record.KindParkingSpot {
			continue
		}
		s, err := record.ParseSpot(e.Plaintext)
		if err != nil {
			r.logger.Debug("spot skipped, bad content", logpkg.Str("id", e.Record.ID), logpkg.Err(err))
			continue
		}
		res.Spots = append(res.Spots, SpotEntry{Record: e.Record, Spot: s})
		points = append(points, cluster.Point{
			ID: e.Record.ID, Lat: s.Lat, Lon: s.Lon,
			Price: s.Price, Currency: s.Currency, Weight: s.Weight,
		})
	}
	items, err := cluster.Build(points, zoom, r.cfg.MaxClusterPrecision)
	if err != nil {
		return SearchResult{}, err
	}
	res.Items = items
	return res, nil
}
