package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ShipSync/config"
	"github.com/BearBump/ShipSync/internal/metrics"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	if err := RunSyncWorker(ctx, cfg, defaultWorkerFactories(), m); err != nil && err != context.Canceled {
		panic(err)
	}
}
