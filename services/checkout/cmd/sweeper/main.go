// Command sweeper runs a single expiry sweep and exits. It is meant for cron
// style schedulers that cannot reach the HTTP sweep endpoint.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buja23/OpiticaPruden/pkg/logger"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/app"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/config"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadStores()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	log := logger.New("checkout-sweeper", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTimeout()

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open stores", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("failed to close stores", slog.String("error", err.Error()))
		}
	}()

	sweeper := service.NewSweeperService(stores.Orders, event.NewProducer(stores.Publisher, log), log, cfg.OrderPendingTimeout)

	report, err := sweeper.Sweep(ctx)
	if report == nil {
		log.Error("sweep failed", slog.String("error", err.Error()))
		return 1
	}

	for _, line := range report.Results {
		log.Info(line)
	}
	log.Info("sweep finished",
		slog.Int("cancelled", report.Cancelled),
		slog.Int("settled", report.Settled),
		slog.Int("failed", report.Failed),
		slog.Bool("interrupted", report.Interrupted),
	)
	if err != nil {
		log.Error("sweep ended early", slog.String("error", err.Error()))
		return 1
	}
	if report.Failed > 0 {
		return 1
	}
	return 0
}
