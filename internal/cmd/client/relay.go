package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	serverrun "github.com/rzbill/spotsync/internal/cmd/server"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
)

// newRelayCommand constructs `relay start`, which runs the reference relay.
func newRelayCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "relay", Short: "Reference relay commands"}
	var (
		httpAddr, grpcAddr, dataDir, fsync string
		fsyncIntervalMs                    int
		rate                               float64
		burst                              int
	)
	start := &cobra.Command{
		Use:     "start",
		Short:   "Start the reference relay (HTTP and gRPC)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := parseFsync(fsync)
			if err != nil {
				return err
			}
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if grpcAddr != "" {
				cfg.Server.GRPCAddr = grpcAddr
			}
			if dataDir != "" {
				cfg.Server.DataDir = dataDir
			}
			if cmd.Flags().Changed("rate") {
				cfg.Server.PublishRatePerSecond = rate
			}
			if cmd.Flags().Changed("burst") {
				cfg.Server.PublishBurst = burst
			}
			if err := serverrun.Run(cmd.Context(), serverrun.Options{
				Config:        cfg,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Logger:        logger,
			}); err != nil {
				return fmt.Errorf("relay error: %w", err)
			}
			return nil
		},
	}
	f := start.Flags()
	f.StringVar(&httpAddr, "http", "", "HTTP listen address (default from config, :7070)")
	f.StringVar(&grpcAddr, "grpc", "", "gRPC listen address (default from config, :7071)")
	f.StringVar(&dataDir, "relay-data-dir", "", "Relay store directory (if not specified, uses the OS application data directory)")
	f.StringVar(&fsync, "fsync", "always", "Fsync mode: always|interval|never")
	f.IntVar(&fsyncIntervalMs, "fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	f.Float64Var(&rate, "rate", 0, "Publishes per second across all clients (0 disables limiting)")
	f.IntVar(&burst, "burst", 0, "Publish burst size")
	cmd.AddCommand(start)
	return cmd
}

func parseFsync(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return 0, fmt.Errorf("invalid --fsync %q; use always|interval|never", s)
	}
}
