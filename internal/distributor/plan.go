package distributor

import "github.com/rzbill/spotsync/internal/record"

// Shard is one relay's portion of a query.
type Shard struct {
	Index    int
	Endpoint string
	Filter   record.Filter
}

// Plan splits f across endpoints. Without a shardable field, with at most
// one endpoint, or with at most one value, every endpoint receives f
// unchanged. Otherwise the values are dealt round-robin into
// min(len(endpoints), len(values)) chunks and chunk i goes to endpoint i.
// sharded reports which case applied.
func Plan(f record.Filter, endpoints []string) (shards []Shard, sharded bool) {
	field, values, ok := f.ShardField()
	r := len(endpoints)
	if !ok || r <= 1 || len(values) <= 1 {
		shards = make([]Shard, 0, r)
		for i, ep := range endpoints {
			shards = append(shards, Shard{Index: i, Endpoint: ep, Filter: f.Clone()})
		}
		return shards, false
	}

	n := r
	if len(values) < n {
		n = len(values)
	}
	chunks := make([][]string, n)
	for i, v := range values {
		chunks[i%n] = append(chunks[i%n], v)
	}
	shards = make([]Shard, 0, n)
	for i, chunk := range chunks {
		shards = append(shards, Shard{Index: i, Endpoint: endpoints[i%r], Filter: f.WithField(field, chunk)})
	}
	return shards, true
}

// Rotate reassigns every shard to the next endpoint, so chunk i goes to
// endpoint (i+1) mod len(endpoints).
func Rotate(shards []Shard, endpoints []string) []Shard {
	out := make([]Shard, len(shards))
	for i, s := range shards {
		s.Endpoint = endpoints[(s.Index+1)%len(endpoints)]
		s.Filter = s.Filter.Clone()
		out[i] = s
	}
	return out
}
