package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/siganberg/meshlevel/internal/api"
	"github.com/siganberg/meshlevel/internal/config"
	"github.com/siganberg/meshlevel/internal/db"
	"github.com/siganberg/meshlevel/internal/level"
)

// runServe wires the leveling service behind the HTTP API and runs until
// interrupted: machine connection, run history, saved-mesh restore, the
// compensation-request consumer, and graceful shutdown.
func runServe(cfg *config.Settings, logger *zap.SugaredLogger) error {
	m, closer, err := openMachine(cfg, logger)
	if err != nil {
		return err
	}
	defer closer()

	history, err := db.Open(cfg.GetHistoryPath())
	if err != nil {
		logger.Warnw("run history unavailable", "error", err)
		history = nil
	} else {
		defer history.Close()
	}

	svc := level.NewService(cfg, m, history, logger)
	svc.LoadSavedMesh()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    cfg.GetListen(),
		Handler: api.NewServer(svc, ctx, logger).Handler(),
	}

	var wg sync.WaitGroup

	// consume queued compensation requests, one at a time
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-svc.ApplyRequests():
				if _, err := svc.ProcessApply(req); err != nil {
					logger.Errorw("compensation failed", "program", req.ProgramPath, "error", err)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infow("listening", "addr", cfg.GetListen())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")
	svc.StopProbe()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	wg.Wait()
	return nil
}
