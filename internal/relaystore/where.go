package relaystore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/spotsync/internal/record"
)

// whereFilter is a compiled CEL predicate over a record. The zero value
// accepts everything.
//
// Variables: id, kind, pubkey, created_at, content (string), json (parsed
// content, null when not JSON), tags (name to first values) and now
// (unix seconds).
type whereFilter struct {
	prog    cel.Program
	enabled bool
}

func compileWhere(expr string) (whereFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return whereFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("kind", cel.IntType),
		cel.Variable("pubkey", cel.StringType),
		cel.Variable("created_at", cel.IntType),
		cel.Variable("content", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("tags", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return whereFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return whereFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, iss.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return whereFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, err)
	}
	return whereFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether r satisfies the predicate. Evaluation errors count
// as no match.
func (w whereFilter) Eval(r record.Record) bool {
	if !w.enabled {
		return true
	}
	var doc any
	_ = json.Unmarshal([]byte(r.Content), &doc)
	tags := map[string][]string{}
	for _, t := range r.Tags {
		if len(t) > 1 {
			tags[t[0]] = append(tags[t[0]], t[1])
		}
	}
	out, _, err := w.prog.Eval(map[string]any{
		"id":         r.ID,
		"kind":       int64(r.Kind),
		"pubkey":     r.Author,
		"created_at": r.CreatedAt,
		"content":    r.Content,
		"json":       doc,
		"tags":       tags,
		"now":        time.Now().Unix(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
