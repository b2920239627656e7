package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/config"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/dic"
	"go.uber.org/zap"
)

func main() {
	config.Init()

	container, err := dic.NewContainer()
	if err != nil {
		zap.L().With(zap.Error(err)).Fatal("Failed to build container")
	}
	defer func() { _ = container.Delete() }()

	if _, err := container.SafeGet("daemon"); err != nil {
		zap.L().With(zap.Error(err)).Fatal("Failed to start marketplace")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zap.L().With(
		zap.String("network", config.Get().Network),
		zap.String("market", container.GetMarketplace().Address().Hex()),
	).Info("Marketplace Started")

	if err := container.GetDaemon().Execute(ctx); err != nil {
		zap.L().With(zap.Error(err)).Error("Marketplace stopped")
		return
	}

	zap.L().Info("Marketplace stopped")
}
