package record

import (
	"strconv"
	"strings"
)

// Well-known kinds.
const (
	KindMetadata    = 0
	KindContacts    = 3
	KindDeletion    = 5
	KindParkingSpot = 31500
	KindSessionLog  = 31501
)

// Tag is a single record tag: name followed by values.
type Tag []string

// Name returns the tag name or "".
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Record is one signed relay record.
type Record struct {
	ID        string `json:"id"`
	Kind      int    `json:"kind"`
	Author    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// IsReplaceable reports whether only the newest record per (kind, author) counts.
func IsReplaceable(kind int) bool {
	return kind == KindMetadata || kind == KindContacts || (kind >= 10000 && kind < 20000)
}

// IsAddressable reports whether only the newest record per (kind, author, d) counts.
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// TagValue returns the first value of the first tag named name.
func (r Record) TagValue(name string) string {
	for _, t := range r.Tags {
		if t.Name() == name {
			return t.Value()
		}
	}
	return ""
}

// TagValues returns the first value of every tag named name.
func (r Record) TagValues(name string) []string {
	var out []string
	for _, t := range r.Tags {
		if t.Name() == name && len(t) > 1 {
			out = append(out, t[1])
		}
	}
	return out
}

// HasTagValue reports whether any tag named name carries value.
func (r Record) HasTagValue(name, value string) bool {
	for _, t := range r.Tags {
		if t.Name() == name && len(t) > 1 && t[1] == value {
			return true
		}
	}
	return false
}

// Address formats a replaceable/addressable identity.
func Address(kind int, author, d string) string {
	return strconv.Itoa(kind) + ":" + author + ":" + d
}

// ParseAddress splits an address into its parts.
func ParseAddress(a string) (kind int, author, d string, ok bool) {
	parts := strings.SplitN(a, ":", 3)
	if len(parts) != 3 {
		return 0, "", "", false
	}
	k, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", false
	}
	return k, parts[1], parts[2], true
}

// Identity returns the key under which versions of r replace each other.
func (r Record) Identity() string {
	switch {
	case IsAddressable(r.Kind):
		return Address(r.Kind, r.Author, r.TagValue("d"))
	case IsReplaceable(r.Kind):
		return Address(r.Kind, r.Author, "")
	default:
		return r.ID
	}
}

// Supersedes reports whether r should win over other for the same identity:
// newer CreatedAt wins, ties go to the lexicographically smaller ID.
func (r Record) Supersedes(other Record) bool {
	if r.CreatedAt != other.CreatedAt {
		return r.CreatedAt > other.CreatedAt
	}
	return r.ID < other.ID
}

// DeletionTargets returns the identities a deletion marker names. It returns
// nil for any other kind.
func (r Record) DeletionTargets() []string {
	if r.Kind != KindDeletion {
		return nil
	}
	var out []string
	for _, t := range r.Tags {
		if len(t) < 2 || t[1] == "" {
			continue
		}
		switch t[0] {
		case "e", "a":
			out = append(out, t[1])
		}
	}
	return out
}

// NewDeletion builds an unsigned deletion marker for the given record
// identities. Addresses become "a" tags, everything else "e" tags.
func NewDeletion(createdAt int64, reason string, identities ...string) Record {
	r := Record{Kind: KindDeletion, CreatedAt: createdAt, Content: reason}
	for _, id := range identities {
		if _, _, _, ok := ParseAddress(id); ok {
			r.Tags = append(r.Tags, Tag{"a", id})
		} else {
			r.Tags = append(r.Tags, Tag{"e", id})
		}
	}
	return r
}
