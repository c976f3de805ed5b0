package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Beam/internal/adapters/http"
	ws "github.com/dkeye/Beam/internal/adapters/signal"
	"github.com/dkeye/Beam/internal/app"
	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/logging"
)

const janitorInterval = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the config says otherwise, so config.Load can log.
	logging.Init("info", false)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.JSON)

	rooms := app.NewRoomManager()
	orch := app.NewOrchestrator(app.NewRegistry(), rooms, app.SimplePolicy{})
	limiter := ws.NewRoomRateLimiter(cfg.Server.JoinRateLimit, cfg.Server.JoinRateWindow)
	ctl := ws.NewSignalWSController(orch, limiter, ws.OptionsFrom(cfg.Server))

	var dir *app.Directory
	if cfg.Registry.Serve {
		dir = app.NewDirectory(cfg.Registry.RecordTTL)
	}

	ln, port, err := router.Listen("", cfg.Server.Port, cfg.Server.PortScan)
	if err != nil {
		log.Fatal().Err(err).Int("port", cfg.Server.Port).Msg("no free port")
	}
	if cfg.Server.PortFile != "" {
		if err := router.WritePortFile(cfg.Server.PortFile, port); err != nil {
			log.Error().Err(err).Str("file", cfg.Server.PortFile).Msg("failed to write port file")
		}
		defer os.Remove(cfg.Server.PortFile)
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: orch, Signal: ctl, Directory: dir, Port: port})
	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Int("port", port).Bool("registry", dir != nil).Msg("Beam relay started")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		rooms.RunJanitor(gctx, janitorInterval, cfg.Server.RoomIdleTTL)
		return nil
	})
	if dir != nil {
		g.Go(func() error {
			dir.RunJanitor(gctx, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}
