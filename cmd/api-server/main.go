package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"learnhub/internal/app"
	"learnhub/pkg/logger"
	"learnhub/pkg/utils"
)

const janitorInterval = 15 * time.Minute

func main() {
	cfg, err := utils.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	if cfg.Log.Mode == "prod" || cfg.Log.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	// bind the feed first so port conflicts surface before HTTP starts
	if _, err := a.Feed.Listen(); err != nil {
		lg.Fatal("feed listen failed", "addr", cfg.Server.FeedAddr, "error", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Feed.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.RunJanitor(ctx, janitorInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		lg.Info("HTTP API server listening", "addr", cfg.Server.HTTPAddr, "storage_root", cfg.Storage.Root)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		lg.Error("server error", "error", err)
	}

	lg.Info("shutting down servers")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown error", "error", err)
	}
	cancel()

	wg.Wait()
	lg.Info("servers stopped")
}
