package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"m0n1t0r_go/internal/app"
	"m0n1t0r_go/internal/config"
	"m0n1t0r_go/internal/shared/logger"
	"m0n1t0r_go/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/server.ini", "Path to server config file")
	flag.Parse()

	// 1. 加载配置
	cfg := new(types.Config)
	if err := config.LoadIni(cfg, *configPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}
	if cfg.Mode != "" && cfg.Mode != "server" {
		fmt.Fprintf(os.Stderr, "Fatal: config '%s' is for mode %q, not server\n", *configPath, cfg.Mode)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 创建服务器
	appServer, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		appServer.Stop()
	}()

	// 3. 运行，直到 Stop 返回
	appServer.Run()
}
