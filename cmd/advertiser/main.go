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

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/broadcaster"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/radio"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

func main() {
	var configPath = flag.String("config", "config/advertiser.yml", "configuration file path")
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
		Str("name", cfg.Broadcaster.Name).
		Str("role", cfg.Broadcaster.Role).
		Int("channel", cfg.Broadcaster.Channel).
		Msg("Advertiser starting")

	drv, err := radio.NewBlueZ()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize radio")
	}

	sampler := broadcaster.NewStateSampler(prospector.Status{
		BatteryPrimary: 100,
		Flags:          prospector.FlagUSBAttached | prospector.FlagUSBHIDReady,
		LayerName:      "BASE",
	})

	adv := broadcaster.New(cfg.Broadcaster, drv, sampler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := adv.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Advertiser stopped")
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
	log.Info().Msg("Advertiser stopped")
}
