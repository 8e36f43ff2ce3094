package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"go-image-filter/internal/config"
	"go-image-filter/internal/container"
	"go-image-filter/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize dependency injection container
	initCtx, initCancel := context.WithTimeout(ctx, 15*time.Second)
	c, err := container.NewContainer(initCtx, cfg)
	initCancel()
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Close()

	c.Start(ctx)

	// The write timeout must allow the websocket stream and slow backend calls
	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
	}

	logger.WithFields(logrus.Fields{
		"address":     cfg.ServerAddress(),
		"timeout":     cfg.RequestTimeout,
		"backend_url": cfg.BackendURL,
	}).Info("Starting HTTP server")

	if err := serveHTTPServer(server, shutdownTimeout); err != nil {
		logger.WithError(err).Error("Server failed")
	}

	// Stops the hub and the session sweeper, cancelling requests in flight
	cancel()
	logger.Info("Server exited")
}
