package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/internal/config"
	"github.com/robalobadob/memory-match/apps/go-server/internal/db"
	"github.com/robalobadob/memory-match/apps/go-server/internal/httpserver"
	"github.com/robalobadob/memory-match/apps/go-server/internal/palette"
	"github.com/robalobadob/memory-match/apps/go-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	pal, err := palette.Load(cfg.PaletteFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load palette")
	}
	if _, err := pal.Take(cfg.PaletteSize); err != nil {
		log.Fatal().Err(err).Int("size", cfg.PaletteSize).Int("available", pal.Len()).Msg("PALETTE_SIZE does not fit the palette")
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := store.NewMemoryStore()
	go store.Maintain(ctx, sessions, time.Minute, cfg.SessionTTL)

	srv := httpserver.New(cfg, sessions, pal, conn)
	log.Info().Str("port", cfg.Port).Int("pairs", cfg.PaletteSize).Dur("mismatchDelay", cfg.MismatchDelay).Msg("starting go-server")
	if err := srv.Run(ctx, ":"+cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
