package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/common"
	"github.com/slamd-project/slamd/internal/server"
)

var (
	configFile  = flag.String("config", "", "Path to a slamd.toml configuration file (defaults used if omitted)")
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()
	defer common.RecoverWithCrashFile()

	if *showVersion {
		fmt.Printf("slamd version %s\n", common.GetVersion())
		os.Exit(0)
	}

	path := *configFile
	if path == "" {
		if _, err := os.Stat("slamd.toml"); err == nil {
			path = "slamd.toml"
		}
	}

	config, err := common.LoadFromFile(path)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Str("path", path).Msg("failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *serverHost, *serverPort)

	logger := common.SetupLogger(config)
	defer common.Stop()

	common.PrintBanner(config, logger)

	srv, err := server.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire server")
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("interrupt received, shutting down")
	common.PrintShutdownBanner(logger)

	ctx, cancel := context.WithTimeout(context.Background(), config.Shutdown.Grace()+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
