package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/spotsync/internal/geohash"
)

// newGeohashCommand exposes the geohash helpers.
func newGeohashCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "geohash", Short: "Geohash encode, decode and neighbors"}

	var lat, lon float64
	var precision int

	encode := &cobra.Command{
		Use:   "encode",
		Short: "Encode a point",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := geohash.Encode(lat, lon, precision)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	decode := &cobra.Command{
		Use:   "decode <key>",
		Short: "Decode a key into its bounding box and center",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := geohash.DecodeBounds(args[0])
			if err != nil {
				return err
			}
			clat, clon := b.Center()
			fmt.Fprintf(cmd.OutOrStdout(), "center %.6f,%.6f\nlat [%.6f, %.6f]\nlon [%.6f, %.6f]\n",
				clat, clon, b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
			return nil
		},
	}

	neighbors := &cobra.Command{
		Use:   "neighbors",
		Short: "List the cell containing a point and its neighbors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := geohash.Neighbors(lat, lon, precision)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	for _, c := range []*cobra.Command{encode, neighbors} {
		c.Flags().Float64Var(&lat, "lat", 0, "Latitude")
		c.Flags().Float64Var(&lon, "lon", 0, "Longitude")
		c.Flags().IntVar(&precision, "precision", 9, "Key length 1..12")
		_ = c.MarkFlagRequired("lat")
		_ = c.MarkFlagRequired("lon")
	}
	cmd.AddCommand(encode, decode, neighbors)
	return cmd
}
