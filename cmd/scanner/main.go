package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/api"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/integration"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/radio"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
)

func main() {
	var configPath = flag.String("config", "config/scanner.yml", "configuration file path")
	var validateOnly = flag.Bool("validate", false, "validate configuration and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if *validateOnly {
		fmt.Println("configuration ok")
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Int("max_keyboards", cfg.Scanner.MaxKeyboards).
		Int("channel", cfg.Scanner.Channel).
		Msg("Scanner starting")

	drv, err := radio.NewBlueZ()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize radio")
	}

	engine := scanner.New(cfg.Scanner, drv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Scanner engine stopped")
			cancel()
		}
	}()

	if err := drv.StartActiveScan(engine.Receiver()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scanning")
	}
	defer drv.StopScan()

	// Optional NATS event forwarding.
	if cfg.NATS.URL != "" {
		fwd, err := integration.New(cfg.NATS, engine)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect integration forwarder")
		}
		go func() {
			if err := fwd.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("Integration forwarder stopped")
			}
		}()
	}

	server := api.NewServer(cfg, engine)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := server.ListenAndServe(addr); err != nil {
			log.Error().Err(err).Msg("API server stopped")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("API server shutdown failed")
	}
	log.Info().Msg("Scanner stopped")
}
