// Package main implements the parallel-lab worker-pool subprocess (spec
// §4.5.2). It speaks the stdin/stdout frame protocol defined in
// internal/workerproc, dispatching each request to whichever experiment
// types this binary's blank imports have registered.
//
// A deployment wires its own experiment types into a binary like this
// one by blank-importing the packages that call workerproc.Register
// from an init() — this binary on its own registers no experiment types,
// so it answers every request with a "not registered" error.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/labframe/labframe/internal/config"
	"github.com/labframe/labframe/internal/workerproc"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "labworker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	logLevel := flag.String("log-level", config.GetEnvStr("LABWORKER_LOG_LEVEL", "info"),
		"log level: debug, info, warn, error (default from LABWORKER_LOG_LEVEL)")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	// Stdout carries the wire protocol; every log line goes to stderr so it
	// never corrupts a frame.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	logger.Info("starting worker",
		slog.String("service", name),
		slog.String("version", version),
		slog.Any("registered", workerproc.Registered()),
	)

	if err := workerproc.Serve(os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("worker exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
