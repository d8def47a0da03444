// Command backfill runs one enrichment pass over stored locations that have
// no images yet and exits.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FACorreiaa/loci-heritage-api/cmd/api"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
	"github.com/FACorreiaa/loci-heritage-api/pkg/logger"
)

func main() {
	limit := flag.Int("limit", 500, "maximum number of locations to process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		With(slog.String("service", "heritage-backfill"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := api.InitDependencies(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Cleanup()

	start := time.Now()
	counts, err := deps.Enricher.Backfill(ctx, *limit)
	if err != nil {
		log.Error("backfill interrupted", slog.Any("error", err))
	}

	attrs := []any{slog.Duration("duration", time.Since(start))}
	for step, n := range counts {
		attrs = append(attrs, slog.Int(string(step), n))
	}
	log.Info("backfill finished", attrs...)
}
