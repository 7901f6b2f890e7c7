// Package log provides spotsync's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records are routed through log/slog via
// a bridge handler that feeds our formatter and outputs, so slog-aware
// libraries and our own components produce the same output.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("distributor"), log.Str("relay", "grpc://a:7070"))
//	l.Info("shard settled", log.Int("records", 12))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, text or JSON
// format, console/file/null output, redacted keys and sampling).
//
// # Interop
//
// RedirectStdLog routes the standard library logger (used by some storage
// internals) into a Logger.
package log
