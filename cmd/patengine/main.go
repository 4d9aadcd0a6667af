package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"candlescan/config"
	"candlescan/internal/logger"
	"candlescan/internal/patengine"
)

func main() {
	cfg := config.Load()
	log := logger.Init("patengine", logger.ParseLevel(cfg.LogLevel))
	log.Info("configuration loaded",
		slog.Any("tfs", cfg.ParseTFs()),
		slog.Any("tokens", cfg.ParseTokenKeys()),
		slog.Int("window", cfg.WindowSize),
		slog.Int("cache_capacity", cfg.CacheCapacity))

	svc, err := patengine.New(cfg)
	if err != nil {
		log.Error("init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
