// Package main implements the parent process of a rats-tls enclave. It runs
// on the host and answers the enclave's call gate requests.
//
// SECURITY: the parent process is in the UNTRUSTED zone. The enclave treats
// every answer it gives as attacker-controlled.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mesmerverse/rats-tls/gate"
	"github.com/mesmerverse/rats-tls/hostcall"
	"github.com/mesmerverse/rats-tls/logging"
	"github.com/mesmerverse/rats-tls/platform"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/rats-tls/parent.yaml", "Path to configuration file")
	devMode := flag.Bool("dev-mode", false, "Serve the call gate over TCP on localhost")
	port := flag.Uint("port", 0, "Call gate port (overrides config)")
	flag.Parse()

	adapter := platform.NewHostAdapter()
	logging.Setup(adapter, true)

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Bool("dev_mode", *devMode).
		Msg("rats-tls parent starting")

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Gate.Port = uint32(*port)
	}
	if *devMode {
		cfg.DevMode = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	listener, err := gate.Listen(cfg.Gate.Port, cfg.DevMode)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open call gate")
	}

	server := hostcall.NewServer(cfg.Access, adapter)
	server.OnExit = func() {
		log.Warn().Msg("Enclave requested termination")
		if cfg.Gate.TerminateOnExit {
			cancel()
		}
	}

	if cfg.HealthPort != 0 {
		health := NewHealthServer(cfg.HealthPort, server.Stats)
		go health.Start()
		defer health.Stop()
	}

	log.Info().
		Uint32("port", cfg.Gate.Port).
		Strs("allowed_dirs", cfg.Access.AllowedDirs).
		Msg("Call gate listening")

	if err := server.Serve(ctx, listener); err != nil {
		log.Fatal().Err(err).Msg("Call gate error")
	}

	log.Info().Msg("Parent shutdown complete")
}
