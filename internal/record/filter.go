package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filter selects records on a relay. Tags maps a single-letter tag name to
// accepted values and is serialized as "#<name>" keys.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string
	Since   int64
	Until   int64
	Limit   int
	// Where is an optional boolean CEL expression over the record, evaluated
	// by relays that support it.
	Where string
}

// Shardable field names, in the order they are considered.
const (
	FieldGeohash = "#g"
	FieldIDs     = "ids"
	FieldAuthors = "authors"
	FieldDTag    = "#d"
)

var shardableFields = []string{FieldGeohash, FieldIDs, FieldAuthors, FieldDTag}

// ShardField returns the first non-empty shardable array field and its
// values. ok is false when the filter has none.
func (f Filter) ShardField() (field string, values []string, ok bool) {
	for _, name := range shardableFields {
		if v := f.field(name); len(v) > 0 {
			return name, v, true
		}
	}
	return "", nil, false
}

func (f Filter) field(name string) []string {
	switch name {
	case FieldIDs:
		return f.IDs
	case FieldAuthors:
		return f.Authors
	default:
		if strings.HasPrefix(name, "#") {
			return f.Tags[name[1:]]
		}
		return nil
	}
}

// WithField returns a deep copy of f with one array field replaced.
func (f Filter) WithField(name string, values []string) Filter {
	out := f.Clone()
	vals := append([]string(nil), values...)
	switch name {
	case FieldIDs:
		out.IDs = vals
	case FieldAuthors:
		out.Authors = vals
	default:
		if strings.HasPrefix(name, "#") {
			if out.Tags == nil {
				out.Tags = map[string][]string{}
			}
			out.Tags[name[1:]] = vals
		}
	}
	return out
}

// Clone returns a deep copy.
func (f Filter) Clone() Filter {
	out := f
	out.IDs = append([]string(nil), f.IDs...)
	out.Authors = append([]string(nil), f.Authors...)
	out.Kinds = append([]int(nil), f.Kinds...)
	if f.Tags != nil {
		out.Tags = make(map[string][]string, len(f.Tags))
		for k, v := range f.Tags {
			out.Tags[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Matches reports whether r passes every structural constraint of f. Limit
// and Where are applied by the caller.
func (f Filter) Matches(r Record) bool {
	if len(f.IDs) > 0 && !containsStr(f.IDs, r.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, r.Author) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == r.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since > 0 && r.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && r.CreatedAt > f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		hit := false
		for _, v := range values {
			if r.HasTagValue(name, v) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MarshalJSON flattens Tags into "#x" keys.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for k, v := range f.Tags {
		if len(v) > 0 {
			m["#"+k] = v
		}
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Where != "" {
		m["where"] = f.Where
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the flattened form produced by MarshalJSON.
func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*f = Filter{}
	for k, v := range raw {
		var err error
		switch {
		case k == "ids":
			err = json.Unmarshal(v, &f.IDs)
		case k == "authors":
			err = json.Unmarshal(v, &f.Authors)
		case k == "kinds":
			err = json.Unmarshal(v, &f.Kinds)
		case k == "since":
			err = json.Unmarshal(v, &f.Since)
		case k == "until":
			err = json.Unmarshal(v, &f.Until)
		case k == "limit":
			err = json.Unmarshal(v, &f.Limit)
		case k == "where":
			err = json.Unmarshal(v, &f.Where)
		case strings.HasPrefix(k, "#") && len(k) > 1:
			var vals []string
			if err = json.Unmarshal(v, &vals); err == nil {
				if f.Tags == nil {
					f.Tags = map[string][]string{}
				}
				f.Tags[k[1:]] = vals
			}
		}
		if err != nil {
			return fmt.Errorf("filter field %q: %w", k, err)
		}
	}
	return nil
}

// String renders a compact, stable description for logs.
func (f Filter) String() string {
	var parts []string
	if len(f.IDs) > 0 {
		parts = append(parts, fmt.Sprintf("ids=%d", len(f.IDs)))
	}
	if len(f.Authors) > 0 {
		parts = append(parts, fmt.Sprintf("authors=%d", len(f.Authors)))
	}
	if len(f.Kinds) > 0 {
		parts = append(parts, fmt.Sprintf("kinds=%v", f.Kinds))
	}
	names := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("#%s=%d", k, len(f.Tags[k])))
	}
	if f.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", f.Limit))
	}
	if f.Where != "" {
		parts = append(parts, "where")
	}
	return "{" + strings.Join(parts, " ") + "}"
}
