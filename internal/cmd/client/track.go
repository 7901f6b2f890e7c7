package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/spotsync/internal/stabilizer"
)

// trackSample is one raw fix read from stdin.
type trackSample struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	// TS is unix milliseconds; 0 uses the wall clock.
	TS      int64    `json:"ts"`
	Heading *float64 `json:"heading,omitempty"`
	Compass bool     `json:"compass,omitempty"`
}

type trackOutput struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Speed       float64  `json:"speed"`
	SpeedClass  string   `json:"speedClass"`
	Bearing     *float64 `json:"bearing,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	Update      bool     `json:"update"`
	AnimationMs int64    `json:"animationMs"`
	NextPollMs  int64    `json:"nextPollMs"`
}

// newTrackCommand runs newline-delimited JSON fixes through the location
// stabilizer and prints one stabilized location per input line.
func newTrackCommand() *cobra.Command {
	var onlyUpdates bool
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Stabilize raw position samples read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr := stabilizer.NewTracker()
			enc := json.NewEncoder(cmd.OutOrStdout())
			sc := bufio.NewScanner(cmd.InOrStdin())
			line := 0
			for sc.Scan() {
				line++
				if len(sc.Bytes()) == 0 {
					continue
				}
				var s trackSample
				if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				out := step(tr, s)
				if onlyUpdates && !out.Update {
					continue
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().BoolVar(&onlyUpdates, "only-updates", false, "Print only fixes that should move the marker")
	return cmd
}

func step(tr *stabilizer.Tracker, s trackSample) trackOutput {
	var loc stabilizer.Location
	if s.TS > 0 {
		loc = tr.UpdateAt(s.Lat, s.Lon, time.UnixMilli(s.TS))
	} else {
		loc = tr.Update(s.Lat, s.Lon)
	}
	out := trackOutput{
		Lat:         loc.DisplayLat,
		Lon:         loc.DisplayLon,
		Speed:       loc.Speed,
		SpeedClass:  loc.SpeedClass.String(),
		Update:      loc.ShouldUpdate,
		AnimationMs: loc.AnimationDuration.Milliseconds(),
		NextPollMs:  loc.PollInterval.Milliseconds(),
	}
	if loc.HasBearing {
		b := loc.Bearing
		out.Bearing = &b
	}
	if s.Heading != nil {
		if h, ok := tr.UpdateBearing(*s.Heading, loc.Speed, s.Compass); ok {
			out.Heading = &h
		}
	}
	return out
}
