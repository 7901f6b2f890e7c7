package client

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// newHealthCommand pings every configured relay and prints the monitor's view.
func newHealthCommand(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ping configured relays and show their health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			results, pingErr := rt.CheckHealth(cmd.Context())
			snap := rt.Monitor().Snapshot()
			out := cmd.OutOrStdout()
			byEndpoint := map[string]int{}
			for i, h := range snap {
				byEndpoint[h.Endpoint] = i
			}

			if asJSON {
				type row struct {
					Endpoint  string  `json:"endpoint"`
					Connected bool    `json:"connected"`
					LatencyMs float64 `json:"avgLatencyMs"`
					Failures  int     `json:"failures"`
					Error     string  `json:"error,omitempty"`
				}
				rows := make([]row, 0, len(results))
				for _, r := range results {
					rw := row{Endpoint: r.Endpoint}
					if i, ok := byEndpoint[r.Endpoint]; ok {
						rw.Connected, rw.LatencyMs, rw.Failures = snap[i].Connected, snap[i].AvgLatencyMs, snap[i].FailureCount
					}
					if r.Err != nil {
						rw.Error = r.Err.Error()
					}
					rows = append(rows, rw)
				}
				if err := printJSON(out, rows); err != nil {
					return err
				}
				return pingErr
			}

			for _, r := range results {
				status := "up"
				if r.Err != nil {
					status = "down: " + r.Err.Error()
				}
				fmt.Fprintf(out, "%-32s %-6s %s\n", r.Endpoint, r.Latency.Round(time.Millisecond), status)
				if i, ok := byEndpoint[r.Endpoint]; ok {
					h := snap[i]
					last := "never"
					if !h.LastSuccess.IsZero() {
						last = humanize.Time(h.LastSuccess)
					}
					fmt.Fprintf(out, "%-32s avg %.1fms, %s ok, %s failed, last success %s\n", "",
						h.AvgLatencyMs, humanize.Comma(int64(h.SuccessCount)), humanize.Comma(int64(h.FailureCount)), last)
				}
			}
			return pingErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
