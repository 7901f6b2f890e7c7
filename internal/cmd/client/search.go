package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/spotsync/internal/runtime"
)

// searchOutput is the --json shape of a search.
type searchOutput struct {
	Cells     []string      `json:"cells"`
	Delivered int           `json:"delivered"`
	Sharded   bool          `json:"sharded"`
	Items     []itemOutput  `json:"items"`
	Relays    []shardOutput `json:"relays"`
	Updated   bool          `json:"updated,omitempty"`
}

type itemOutput struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Count    int     `json:"count,omitempty"`
	Price    float64 `json:"price,omitempty"`
	MinPrice float64 `json:"minPrice,omitempty"`
	MaxPrice float64 `json:"maxPrice,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

type shardOutput struct {
	Endpoint string `json:"endpoint"`
	Records  int    `json:"records"`
	Millis   int64  `json:"ms"`
	Error    string `json:"error,omitempty"`
}

func toOutput(res runtime.SearchResult) searchOutput {
	out := searchOutput{
		Cells:     res.Keys,
		Delivered: res.Summary.Delivered,
		Sharded:   res.Summary.Sharded,
		Items:     []itemOutput{},
	}
	for _, it := range res.Items {
		switch {
		case it.Cluster != nil:
			c := it.Cluster
			out.Items = append(out.Items, itemOutput{
				Type: "cluster", ID: c.ID, Lat: c.Lat, Lon: c.Lon, Count: c.Count,
				MinPrice: c.MinPrice, MaxPrice: c.MaxPrice, Currency: c.Currency,
			})
		case it.Point != nil:
			p := it.Point
			out.Items = append(out.Items, itemOutput{
				Type: "spot", ID: p.ID, Lat: p.Lat, Lon: p.Lon, Count: 1, Price: p.Price, Currency: p.Currency,
			})
		}
	}
	for _, s := range res.Summary.Shards {
		so := shardOutput{Endpoint: s.Endpoint, Records: s.Records, Millis: s.Duration.Milliseconds()}
		switch {
		case s.TimedOut:
			so.Error = "timeout"
		case s.Err != nil:
			so.Error = s.Err.Error()
		}
		out.Relays = append(out.Relays, so)
	}
	return out
}

func printSearchText(w io.Writer, out searchOutput) {
	if out.Updated {
		fmt.Fprintln(w, "-- updated after verification --")
	}
	fmt.Fprintf(w, "cells: %s\n", joinKeys(out.Cells))
	for _, r := range out.Relays {
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		fmt.Fprintf(w, "relay %s: %d records in %dms (%s)\n", r.Endpoint, r.Records, r.Millis, status)
	}
	fmt.Fprintf(w, "delivered: %d  sharded: %v  items: %d\n", out.Delivered, out.Sharded, len(out.Items))
	for _, it := range out.Items {
		if it.Type == "cluster" {
			fmt.Fprintf(w, "cluster %-10s %.5f,%.5f  x%d  %.2f-%.2f %s\n",
				it.ID, it.Lat, it.Lon, it.Count, it.MinPrice, it.MaxPrice, it.Currency)
			continue
		}
		fmt.Fprintf(w, "spot    %-10s %.5f,%.5f  %.2f %s\n", short(it.ID), it.Lat, it.Lon, it.Price, it.Currency)
	}
}

func newSearchCommand(g *globals) *cobra.Command {
	var (
		lat, lon   float64
		precision  int
		zoom       int
		since      time.Duration
		asJSON     bool
		waitVerify bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search spots around a point",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			req := runtime.SearchRequest{Lat: lat, Lon: lon, Precision: precision, Zoom: zoom}
			if since > 0 {
				req.Since = time.Now().Add(-since).Unix()
			}
			updates := make(chan runtime.SearchResult, 1)
			if waitVerify {
				req.OnUpdate = func(res runtime.SearchResult) { updates <- res }
			}
			res, err := rt.Search(ctx, req)
			if err != nil {
				return err
			}
			render := func(out searchOutput) error {
				if asJSON {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printSearchText(cmd.OutOrStdout(), out)
				return nil
			}
			if err := render(toOutput(res)); err != nil {
				return err
			}
			if !waitVerify || res.Settled == nil {
				return nil
			}
			select {
			case <-res.Settled:
			case <-ctx.Done():
				return nil
			}
			select {
			case upd := <-updates:
				out := toOutput(upd)
				out.Updated = true
				return render(out)
			default:
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&lat, "lat", 0, "Latitude")
	f.Float64Var(&lon, "lon", 0, "Longitude")
	f.IntVar(&precision, "precision", 0, "Geohash precision of the search cells (default from config)")
	f.IntVar(&zoom, "zoom", 0, "Map zoom driving clustering (default 2*precision)")
	f.DurationVar(&since, "since", 0, "Only spots published within this window, e.g. 24h")
	f.BoolVar(&asJSON, "json", false, "Print JSON")
	f.BoolVar(&waitVerify, "wait-verify", false, "Wait for the verification pass and print any update")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
