package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/spotsync/internal/record"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
)

const alice = "a11ce"

func spot(id string, createdAt int64, d string) record.Record {
	return record.Record{
		ID: id, Kind: record.KindParkingSpot, Author: alice, CreatedAt: createdAt,
		Tags: []record.Tag{{"d", d}}, Content: id,
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record.ID)
	}
	return out
}

// TestAddressableNewestWins verifies only the latest version of an
// addressable record survives, whatever order versions arrive in.
func TestAddressableNewestWins(t *testing.T) {
	r := New(Options{})
	got := r.Resolve([]record.Record{spot("v2", 200, "s1"), spot("v1", 100, "s1"), spot("v3", 150, "s1")})
	assert.Equal(t, []string{"v2"}, ids(got))
}

// TestTieBreakSmallestID resolves equal timestamps by the smaller id.
func TestTieBreakSmallestID(t *testing.T) {
	winners, st := Reduce([]record.Record{spot("bbb", 100, "s1"), spot("aaa", 100, "s1")}, nil)
	require.Len(t, winners, 1)
	assert.Equal(t, "aaa", winners[0].ID)
	assert.Equal(t, 1, st.Superseded)
}

// TestDistinctAddressesKept keeps one winner per d tag in first-seen order.
func TestDistinctAddressesKept(t *testing.T) {
	got, _ := Reduce([]record.Record{spot("x", 1, "s2"), spot("y", 1, "s1"), spot("z", 2, "s2")}, nil)
	assert.Equal(t, []string{"z", "y"}, []string{got[0].ID, got[1].ID})
}

// TestDuplicatesCollapsed counts repeated ids from different relays once.
func TestDuplicatesCollapsed(t *testing.T) {
	note := record.Record{ID: "n1", Kind: 1, Author: alice, CreatedAt: 5}
	got, st := Reduce([]record.Record{note, note, note}, nil)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, st.Duplicates)
}

// TestDeletionMarkerMasksAddress hides an address named by an "a" tag and
// never returns the marker itself.
func TestDeletionMarkerMasksAddress(t *testing.T) {
	s := spot("v1", 100, "s1")
	del := record.NewDeletion(150, "gone", s.Identity())
	del.ID, del.Author = "del1", alice

	got, st := Reduce([]record.Record{s, del, spot("other", 100, "s2")}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "other", got[0].ID)
	assert.Equal(t, 1, st.Markers)
	assert.Equal(t, 1, st.Deleted)
}

// TestDeletionByIDOfWinnerDoesNotResurrect drops the identity when its
// winning version is deleted by id, rather than exposing an older version.
func TestDeletionByIDOfWinnerDoesNotResurrect(t *testing.T) {
	del := record.NewDeletion(300, "", "v2")
	del.ID = "del"
	got, _ := Reduce([]record.Record{spot("v1", 100, "s1"), spot("v2", 200, "s1"), del}, nil)
	assert.Empty(t, got)
}

// TestPendingDeleteMasksStaleCopies verifies a locally deleted spot stays
// hidden even when relays still serve it and no marker arrived.
func TestPendingDeleteMasksStaleCopies(t *testing.T) {
	pd := NewPendingDeletes()
	s := spot("v1", 100, "s1")
	require.NoError(t, pd.Add(s.Identity()))

	r := New(Options{Pending: pd})
	assert.Empty(t, r.Resolve([]record.Record{s, s}))
	assert.True(t, pd.Contains(s.Identity()))
	assert.Equal(t, []string{s.Identity()}, pd.List())
}

// TestOpenerFailureDropsOnlyThatRecord checks decryption failures are
// isolated.
func TestOpenerFailureDropsOnlyThatRecord(t *testing.T) {
	op := OpenerFunc(func(r record.Record) ([]byte, error) {
		if r.ID == "bad" {
			return nil, errors.New("decrypt")
		}
		return []byte("plain:" + r.ID), nil
	})
	r := New(Options{Opener: op})
	got, st := r.ResolveStats([]record.Record{spot("good", 1, "a"), spot("bad", 1, "b")})
	require.Len(t, got, 1)
	assert.Equal(t, "plain:good", string(got[0].Plaintext))
	assert.Equal(t, 1, st.OpenFailed)
	assert.Equal(t, 1, st.Visible)
}

func TestResolveStream(t *testing.T) {
	in := make(chan record.Record, 3)
	in <- spot("v1", 1, "s")
	in <- spot("v2", 2, "s")
	close(in)
	got, st := New(Options{}).ResolveStream(context.Background(), in)
	assert.Equal(t, []string{"v2"}, ids(got))
	assert.Equal(t, 2, st.Input)
}

// TestPersistentPendingDeletesSurviveReopen verifies masks written to the
// store are loaded again on the next open.
func TestPersistentPendingDeletesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	pd, err := NewPersistentPendingDeletes(ctx, db, nil)
	require.NoError(t, err)
	require.NoError(t, pd.Add("31500:a11ce:s1", "deadbeef"))
	require.NoError(t, db.Close())

	db, err = pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	defer db.Close()
	pd, err = NewPersistentPendingDeletes(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pd.Len())
	assert.True(t, pd.Contains("deadbeef"))
	assert.Equal(t, []string{"31500:a11ce:s1", "deadbeef"}, pd.List())
}
