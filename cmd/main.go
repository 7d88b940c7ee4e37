package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"irisserve/config"
	qhttp "irisserve/http"
)

func main() {
	configPath := flag.String("config", config.Path(), "path to config.yaml")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	// 2. Build the service and load the model before accepting traffic
	service, err := qhttp.NewService(qhttp.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Fatal("failed to initialize service", zap.Error(err))
	}
	// Warm logs its own failure; the server still starts and reports unhealthy.
	_ = service.Warm(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Metrics.CollectSystemMetrics(ctx, 15*time.Second)

	// 3. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, service.Handler(), logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 4. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	cancel()
	if err := service.Close(); err != nil {
		logger.Error("service close", zap.Error(err))
	}

	logger.Info("exiting")
}
