package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rzbill/spotsync/internal/relay"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPublishResults writes one line per relay.
func printPublishResults(w io.Writer, results []relay.PublishResult) {
	for _, r := range results {
		status := "accepted"
		if !r.Accepted {
			status = "failed: " + r.Message
		}
		fmt.Fprintf(w, "  %s  %s (%s)\n", r.Endpoint, status, r.Latency.Round(time.Millisecond))
	}
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func joinKeys(keys []string) string { return strings.Join(keys, " ") }
