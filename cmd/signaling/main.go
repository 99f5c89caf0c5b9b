package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/peerplay/internal/api/http"
	"github.com/immxrtalbeast/peerplay/internal/config"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/engine/tictactoe"
	"github.com/immxrtalbeast/peerplay/internal/repository"
	"github.com/immxrtalbeast/peerplay/internal/service"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
	"github.com/immxrtalbeast/peerplay/lib/logger/slogpretty"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TURN.Enabled {
		relay, err := startTURN(cfg.TURN, log)
		if err != nil {
			log.Error("failed to start turn relay", sl.Err(err))
			os.Exit(1)
		}
		defer relay.Close()
	}

	peerRepo := repository.NewInMemoryPeerRepository()
	listingRepo := repository.NewInMemoryListingRepository()

	signalingService := service.NewSignalingService(peerRepo, log)
	directoryService := service.NewDirectoryService(listingRepo, cfg.Directory.ListingTTL, log)

	signalingController := httpapi.NewSignalingController(signalingService, log)
	directoryController := httpapi.NewDirectoryController(directoryService, engine.NewCatalog(tictactoe.Descriptor), log)

	router := httpapi.SetupRouter(signalingController, directoryController, cfg.HTTP.AllowOrigins)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting signaling server", slog.String("addr", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", sl.Err(err))
	}
	log.Info("signaling server stopped")
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
