// Command dispatcher hosts the job queue, result broadcast, and language
// catalog, exposing them to workers over a websocket RPC and to operators
// over a small admin HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arbiter-oj/judge/internal/config"
	"github.com/arbiter-oj/judge/internal/dispatcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.Info("starting judge dispatcher")

	d := dispatcher.New(cfg.JobQueueBuffer, cfg.ResultBroadcastBuffer)

	server := &http.Server{
		Addr:              cfg.DispatcherBindAddress,
		Handler:           d.Router(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("dispatcher listening on %s", cfg.DispatcherBindAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("dispatcher server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down dispatcher...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("dispatcher forced to shutdown")
		os.Exit(1)
	}

	logger.Info("dispatcher exited")
}
