package serverrun

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/spotsync/internal/config"
	"github.com/rzbill/spotsync/internal/metrics"
	"github.com/rzbill/spotsync/internal/relaystore"
	grpcserver "github.com/rzbill/spotsync/internal/server/grpc"
	httpserver "github.com/rzbill/spotsync/internal/server/http"
	relaysvc "github.com/rzbill/spotsync/internal/services/relay"
	pebblestore "github.com/rzbill/spotsync/internal/storage/pebble"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing
var getenv = os.Getenv

type Options struct {
	Config        cfgpkg.Config
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Ready, if set, receives the bound HTTP and gRPC addresses once both
	// listeners are open.
	Ready func(httpAddr, grpcAddr net.Addr)
}

// Run starts the HTTP and gRPC relay servers and blocks until ctx is
// cancelled or the process is signalled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	dataDir := cfg.Server.DataDir
	if dataDir == "" {
		dataDir = getenvDefault("SPOTSYNC_SERVER_DATA_DIR", cfgpkg.DefaultRelayDataDir())
	}

	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			l = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
		}
		logger = l
	}
	// Pebble writes through the standard library logger.
	restore := logpkg.RedirectStdLog(logger)
	defer restore()

	m := metrics.New()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := relaystore.New(relaystore.Options{DB: db, MaxLimit: cfg.Server.MaxQueryLimit, Logger: logger})
	if err != nil {
		return err
	}
	svc := relaysvc.New(relaysvc.Options{
		Store:         store,
		RatePerSecond: cfg.Server.PublishRatePerSecond,
		Burst:         cfg.Server.PublishBurst,
		Metrics:       m,
		Logger:        logger,
	})

	logger.Info("starting spotsync relay",
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Str("grpc", cfg.Server.GRPCAddr),
		logpkg.Str("data_dir", dataDir),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("query_flush_every", getenvDefault("SPOTSYNC_QUERY_FLUSH_EVERY", "64")),
	)

	hsrv := httpserver.New(svc, m, logger)
	gsrv := grpcserver.New(svc, logger)

	hl, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}
	gl, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		_ = hl.Close()
		return err
	}
	if opts.Ready != nil {
		opts.Ready(hl.Addr(), gl.Addr())
	}

	sctx, cancel := context.WithCancel(sctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := gsrv.Serve(sctx, gl); err != nil && sctx.Err() == nil {
			logger.Error("grpc server stopped", logpkg.Err(err))
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := hsrv.Serve(sctx, hl); err != nil && sctx.Err() == nil {
			logger.Error("http server stopped", logpkg.Err(err))
			cancel()
		}
	}()

	<-sctx.Done()
	// Both servers must drain before the deferred store close.
	wg.Wait()
	logger.Info("spotsync relay stopped")
	return nil
}
