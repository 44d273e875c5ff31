package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gallery-live/marketsync/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev" // Overridden by release build script

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	zap.L().Info("Starting gallery-live/marketsync...",
		zap.String("Version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A second signal forces an immediate exit
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zap.L().Info("Received shutdown signal, canceling...")
		cancel()
		<-sigCh
		zap.L().Error("Received second signal, forcing shutdown")
		os.Exit(1)
	}()

	startMetricsServer()

	root := &cobra.Command{
		Use:          "marketsync",
		Short:        "Marketplace transaction lifecycle manager",
		SilenceUsage: true,
	}
	root.AddCommand(
		newBuyCmd(ctx),
		newListCmd(ctx),
		newUpdatePriceCmd(ctx),
		newCancelCmd(ctx),
		newWithdrawCmd(ctx),
		newApproveCmd(ctx),
		newPendingCmd(ctx),
		newReplayCmd(ctx),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		zap.L().Error("Command failed", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
	_ = zap.L().Sync()
}

func startMetricsServer() {
	port := config.Get().MetricsPort
	if port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			zap.L().Warn("Metrics server stopped", zap.Error(err))
		}
	}()
}
