package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/drawguess/backend/config"
	"github.com/adwski/drawguess/backend/exporter"
	"github.com/adwski/drawguess/backend/room"
	httpServer "github.com/adwski/drawguess/backend/server/http"
	websocketServer "github.com/adwski/drawguess/backend/server/websocket"
	"github.com/adwski/drawguess/backend/service"
	store "github.com/adwski/drawguess/backend/storage/memory"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Fatal().Err(err).Msg("failed to load .env file")
	}

	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	expCtx, expCancel := context.WithCancel(context.Background())
	defer expCancel()

	var notifier room.Notifier = exporter.Nop{}
	if cfg.ExportURL != "" {
		exp := exporter.New(exporter.Config{
			Logger:  &logger,
			BaseURL: cfg.ExportURL,
		})
		wg.Add(1)
		go exp.Run(expCtx, wg)
		notifier = exp
	} else {
		logger.Warn().Msg(config.EnvExportURL + " is not set, room status export disabled")
	}

	svc := service.NewService(service.Config{
		RoomStore:     store.NewMemStore(),
		Notifier:      notifier,
		Logger:        &logger,
		RoundDuration: cfg.RoundDuration,
		Threshold:     cfg.Threshold,
	})
	for _, r := range cfg.Rooms {
		if err = svc.CreateRoom(r.ID, r.Locale); err != nil {
			logger.Fatal().Err(err).Str("roomID", r.ID).Msg("failed to provision room")
		}
	}
	logger.Info().
		Dur("roundDuration", cfg.RoundDuration).
		Int("closeThreshold", cfg.Threshold).
		Int("rooms", len(cfg.Rooms)).
		Msg("rooms provisioned")

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:            &logger,
		ConnectionService: svc,
		ListenAddr:        cfg.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	svc.Shutdown()
	// rooms report themselves empty on shutdown, flush that before exiting
	expCancel()
	wg.Wait()
}
