package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"m0n1t0r_go/internal/config"
	"m0n1t0r_go/internal/shared/logger"
	"m0n1t0r_go/internal/tunnel"
	"m0n1t0r_go/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/agent.ini", "Path to agent config file")
	serverURL := flag.String("server", "", "Override the server websocket URL")
	flag.Parse()

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if cfg.ServerURL == "" {
		logger.Fatal().Msg("agent server_url is empty")
	}

	name := cfg.Name
	if name == "" {
		name, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &tunnel.Runner{
		ServerURL: cfg.ServerURL,
		Name:      name,
		Interval:  time.Duration(cfg.ReconnectInterval) * time.Second,
		Service:   tunnel.NewService(cfg.BufferSize),
	}
	logger.Info().Str("server", cfg.ServerURL).Str("name", name).Msg("Agent starting")
	runner.Run(ctx)
	logger.Info().Msg("Agent stopped")
}
