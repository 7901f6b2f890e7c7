package client

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/spotsync/internal/config"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/runtime"
	"github.com/rzbill/spotsync/internal/seal"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	envFile    string
	relays     []string
	dataDir    string
	logLevel   string
	logFormat  string
	keyHex     string
}

// NewRoot constructs the root Cobra command with every command group.
func NewRoot() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "spotsync",
		Short:         "Decentralized parking spot sharing over relays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (JSON or YAML); defaults to $SPOTSYNC_CONFIG")
	pf.StringVar(&g.envFile, "env-file", ".env", "Dotenv file loaded before reading SPOTSYNC_* variables")
	pf.StringSliceVar(&g.relays, "relay", nil, "Relay endpoint (repeatable); overrides configured relays")
	pf.StringVar(&g.dataDir, "data-dir", "", "Client data directory for pending deletes")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text|json")
	pf.StringVar(&g.keyHex, "key", "", "Hex signing seed; defaults to $SPOTSYNC_SECRET_KEY")

	root.AddCommand(
		newSearchCommand(g),
		newSpotCommand(g),
		newSessionCommand(g),
		newHealthCommand(g),
		newGeohashCommand(),
		newTrackCommand(),
		newKeygenCommand(),
		newRelayCommand(g),
	)
	return root
}

// load assembles configuration from defaults, file, environment and flags,
// and builds the process logger.
func (g *globals) load() (cfgpkg.Config, logpkg.Logger, error) {
	if err := cfgpkg.LoadDotEnv(g.envFile); err != nil {
		return cfgpkg.Config{}, nil, err
	}
	path := g.configPath
	if path == "" {
		path = os.Getenv("SPOTSYNC_CONFIG")
	}
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, nil, err
	}
	cfgpkg.FromEnv(&cfg)
	if len(g.relays) > 0 {
		cfg.Relays = g.relays
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return cfgpkg.Config{}, nil, err
	}
	return cfg, logger, nil
}

// identity returns the signing key from --key or the environment, or nil.
func (g *globals) identity() (*record.KeyPair, error) {
	seed := g.keyHex
	if seed == "" {
		seed = os.Getenv("SPOTSYNC_SECRET_KEY")
	}
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, nil
	}
	k, err := record.KeyPairFromSeedHex(seed)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func boxKey() (*seal.KeyPair, error) {
	v := strings.TrimSpace(os.Getenv("SPOTSYNC_BOX_SECRET"))
	if v == "" {
		return nil, nil
	}
	kp, err := seal.KeyPairFromPrivateHex(v)
	if err != nil {
		return nil, err
	}
	return &kp, nil
}

// openRuntime builds a client runtime for one command invocation.
func (g *globals) openRuntime() (*runtime.Runtime, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, err
	}
	id, err := g.identity()
	if err != nil {
		return nil, err
	}
	bk, err := boxKey()
	if err != nil {
		return nil, err
	}
	return runtime.Open(runtime.Options{
		Config:   cfg,
		Logger:   logger,
		Identity: id,
		Box:      bk,
		Fsync:    pebblestore.FsyncModeAlways,
	})
}
