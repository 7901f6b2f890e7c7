package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rzbill/spotsync/internal/distributor"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay"
	"github.com/rzbill/spotsync/internal/resolver"
	"github.com/rzbill/spotsync/internal/seal"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// ErrNoBoxKey is returned by session-log operations without an encryption key.
var ErrNoBoxKey = errors.New("runtime: no encryption key configured")

// PublishSpot signs and publishes a spot listing addressed by d. An empty d
// gets a fresh random identifier.
func (r *Runtime) PublishSpot(ctx context.Context, d string, s record.Spot) (record.Record, []relay.PublishResult, error) {
	if r.identity == nil {
		return record.Record{}, nil, ErrNoIdentity
	}
	if d == "" {
		d = uuid.NewString()
	}
	rec, err := record.NewSpotRecord(d, s, r.now().Unix())
	if err != nil {
		return record.Record{}, nil, err
	}
	return r.signAndPublish(ctx, rec)
}

// DeleteSpot deletes the caller's spot addressed by d.
func (r *Runtime) DeleteSpot(ctx context.Context, d, reason string) (record.Record, []relay.PublishResult, error) {
	if r.identity == nil {
		return record.Record{}, nil, ErrNoIdentity
	}
	return r.Delete(ctx, reason, record.Address(record.KindParkingSpot, r.identity.AuthorHex(), d))
}

// Delete masks identities locally right away, then publishes a deletion
// marker for them. The local mask holds even if every relay rejects the
// marker.
func (r *Runtime) Delete(ctx context.Context, reason string, identities ...string) (record.Record, []relay.PublishResult, error) {
	if r.identity == nil {
		return record.Record{}, nil, ErrNoIdentity
	}
	if len(identities) == 0 {
		return record.Record{}, nil, errors.New("nothing to delete")
	}
	if err := r.pending.Add(identities...); err != nil {
		return record.Record{}, nil, err
	}
	r.logger.Info("deleted locally", logpkg.Strs("identities", identities))
	return r.signAndPublish(ctx, record.NewDeletion(r.now().Unix(), reason, identities...))
}

// PublishSessionLog encrypts plaintext to the caller's own box key and
// publishes it as a session log addressed by d.
func (r *Runtime) PublishSessionLog(ctx context.Context, d string, plaintext []byte) (record.Record, []relay.PublishResult, error) {
	if r.identity == nil {
		return record.Record{}, nil, ErrNoIdentity
	}
	if r.box == nil {
		return record.Record{}, nil, ErrNoBoxKey
	}
	if d == "" {
		d = uuid.NewString()
	}
	ct, err := seal.Encrypt(plaintext, r.box.Public, r.box.Private)
	if err != nil {
		return record.Record{}, nil, err
	}
	rec := record.Record{
		Kind:      record.KindSessionLog,
		CreatedAt: r.now().Unix(),
		Tags:      []record.Tag{{"d", d}},
		Content:   ct,
	}
	return r.signAndPublish(ctx, rec)
}

// SessionLogs fetches and decrypts the caller's session logs. Logs that fail
// to decrypt are dropped.
func (r *Runtime) SessionLogs(ctx context.Context) ([]resolver.Entry, error) {
	if r.identity == nil {
		return nil, ErrNoIdentity
	}
	if r.box == nil {
		return nil, ErrNoBoxKey
	}
	var recs []record.Record
	f := record.Filter{
		Kinds:   []int{record.KindSessionLog, record.KindDeletion},
		Authors: []string{r.identity.AuthorHex()},
	}
	if _, err := r.dist.Fetch(ctx, f, distributor.Options{OnRecord: func(rec record.Record) { recs = append(recs, rec) }}); err != nil {
		return nil, err
	}
	res := resolver.New(resolver.Options{
		Pending: r.pending,
		Logger:  r.logger,
		Opener: resolver.OpenerFunc(func(rec record.Record) ([]byte, error) {
			return seal.Decrypt(rec.Content, r.box.Public, r.box.Private)
		}),
	})
	return res.Resolve(recs), nil
}

func (r *Runtime) signAndPublish(ctx context.Context, rec record.Record) (record.Record, []relay.PublishResult, error) {
	if err := record.Sign(&rec, *r.identity); err != nil {
		return record.Record{}, nil, fmt.Errorf("sign: %w", err)
	}
	results, err := r.pool.Publish(ctx, r.cfg.Relays, rec)
	if err != nil {
		return rec, results, err
	}
	for _, res := range results {
		if res.Accepted {
			return rec, results, nil
		}
	}
	return rec, results, fmt.Errorf("record %s accepted by no relay", rec.ID)
}
