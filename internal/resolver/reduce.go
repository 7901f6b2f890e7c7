package resolver

import "github.com/rzbill/spotsync/internal/record"

// Stats counts what happened to each input record.
type Stats struct {
	Input      int
	Duplicates int
	Superseded int
	Markers    int
	Deleted    int
	OpenFailed int
	Visible    int
}

// Reduce returns the visible winners of records in first-seen identity
// order. pending reports identities or ids deleted locally; it may be nil.
// Reduce is pure: it neither mutates records nor keeps state.
func Reduce(records []record.Record, pending func(string) bool) ([]record.Record, Stats) {
	st := Stats{Input: len(records)}

	deleted := make(map[string]struct{})
	for _, r := range records {
		if r.Kind != record.KindDeletion {
			continue
		}
		for _, target := range r.DeletionTargets() {
			deleted[target] = struct{}{}
		}
	}
	isDeleted := func(key string) bool {
		if _, ok := deleted[key]; ok {
			return true
		}
		return pending != nil && pending(key)
	}

	winners := make(map[string]record.Record)
	var order []string
	seenIDs := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.Kind == record.KindDeletion {
			st.Markers++
			continue
		}
		if _, dup := seenIDs[r.ID]; dup && r.ID != "" {
			st.Duplicates++
			continue
		}
		seenIDs[r.ID] = struct{}{}

		key := r.Identity()
		cur, ok := winners[key]
		switch {
		case !ok:
			winners[key] = r
			order = append(order, key)
		case r.Supersedes(cur):
			winners[key] = r
			st.Superseded++
		default:
			st.Superseded++
		}
	}

	out := make([]record.Record, 0, len(order))
	for _, key := range order {
		w := winners[key]
		if isDeleted(key) || isDeleted(w.ID) {
			st.Deleted++
			continue
		}
		out = append(out, w)
	}
	st.Visible = len(out)
	return out, st
}
