package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Parley/internal/adapters/http"
	"github.com/dkeye/Parley/internal/adapters/redislog"
	wssignal "github.com/dkeye/Parley/internal/adapters/signal"
	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/core"
)

func setupLogger(cfg *config.Config) {
	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	var repo core.RoomRepository = core.NopRepository{}
	if cfg.Redis.Addr != "" {
		r, err := redislog.New(redislog.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			HistoryLimit: cfg.HistoryLimit,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		repo = r
	} else {
		log.Warn().Msg("no redis configured, rooms live in memory only")
	}

	reg := app.NewRegistry()
	coord := orch.New(orch.Settings{
		GracePeriod:        cfg.GracePeriod,
		ScreenshotDebounce: cfg.ScreenshotDebounce,
		TypingTimeout:      cfg.TypingTimeout,
		OpTimeout:          cfg.OpTimeout,
		HistoryLimit:       cfg.HistoryLimit,
		DefaultRoomTTL:     cfg.DefaultRoomTTL,
	}, orch.Deps{
		Policy:    app.SimplePolicy{},
		Repo:      repo,
		Clock:     core.SystemClock{},
		Directory: reg,
	})

	limiter := wssignal.NewRoomRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow)
	go limiter.Run(ctx)

	ctl := wssignal.NewSignalWSController(coord, reg, limiter, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})

	r := router.SetupRouter(ctx, cfg, &router.Server{Coord: coord, Registry: reg, Signal: ctl})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := coord.Close(); err != nil {
		log.Error().Err(err).Msg("coordinator close")
	}
	log.Info().Msg("Server exited gracefully")
}
