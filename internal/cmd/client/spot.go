package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/spotsync/internal/record"
)

// newSpotCommand constructs the `spot` command group.
func newSpotCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "spot", Short: "Publish and delete your spot listings"}
	cmd.AddCommand(newSpotPublishCommand(g), newSpotDeleteCommand(g))
	return cmd
}

func newSpotPublishCommand(g *globals) *cobra.Command {
	var (
		d    string
		spot record.Spot
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish or replace a spot listing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			rec, results, err := rt.PublishSpot(cmd.Context(), d, spot)
			out := cmd.OutOrStdout()
			if rec.ID != "" {
				fmt.Fprintf(out, "spot %s id %s\n", rec.TagValue("d"), rec.ID)
				printPublishResults(out, results)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&d, "d", "", "Spot identifier; republishing the same id replaces the listing (default random)")
	f.Float64Var(&spot.Lat, "lat", 0, "Latitude")
	f.Float64Var(&spot.Lon, "lon", 0, "Longitude")
	f.Float64Var(&spot.Price, "price", 0, "Price per hour")
	f.StringVar(&spot.Currency, "currency", "USD", "ISO currency code")
	f.StringVar(&spot.Note, "note", "", "Free-form note")
	f.IntVar(&spot.Weight, "bays", 0, "Number of bays the listing represents")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func newSpotDeleteCommand(g *globals) *cobra.Command {
	var d, reason string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one of your spot listings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			rec, results, err := rt.DeleteSpot(cmd.Context(), d, reason)
			out := cmd.OutOrStdout()
			if rec.ID != "" {
				fmt.Fprintf(out, "deletion %s for spot %s\n", rec.ID, d)
				printPublishResults(out, results)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&d, "d", "", "Spot identifier")
	cmd.Flags().StringVar(&reason, "reason", "", "Optional reason")
	_ = cmd.MarkFlagRequired("d")
	return cmd
}
