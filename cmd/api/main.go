package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"go-imfit/internal/config"
	"go-imfit/internal/container"
	"go-imfit/internal/logger"
)

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	c, err := container.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WatchShots {
		go func() {
			if err := c.FitService().Watch(ctx); err != nil {
				logger.WithError(err).Error("Shot watcher stopped")
			}
		}()
	}

	// Drain result notifications so the bounded channel only drops when
	// this consumer falls behind.
	go func() {
		for {
			select {
			case ev := <-c.Notifications():
				logger.ForShot(ev.ShotID).WithField("success", ev.Success).Debug("Results available")
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      c.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.FitTimeout + cfg.RequestTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address":      cfg.ServerAddress(),
			"timeout":      cfg.RequestTimeout,
			"fit_timeout":  cfg.FitTimeout,
			"frame_source": cfg.FrameSource,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}
