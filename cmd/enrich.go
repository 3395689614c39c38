package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/api"
	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/enrich"
)

// feedSource and batchProcessor are the narrow slices of the feed and
// processor the consume loop needs, kept as interfaces so tests can stub
// them.
type feedSource interface {
	Next(ctx context.Context) ([]catalog.ChangeEvent, error)
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context, events []catalog.ChangeEvent) enrich.Summary
}

func newAPIServer(appInstance App) *http.Server {
	handler := api.NewServer(appInstance.Store(), appInstance.Logger().Named("api")).Handler()
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", appInstance.Config().Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newEnrichCmd creates the 'enrich' subcommand. It consumes the record
// store's change feed and fills in derived fields until interrupted, and
// serves the read API and metrics endpoints while it runs.
func newEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Runs the change-driven enrichment daemon",
		Long: `Consumes insert and modify events from the record store's change feed
and computes a relevance weight and sentiment label for each changed record.
Already-enriched records are skipped, so redelivered events are harmless.
The HTTP read API listens on the configured port for the lifetime of the
process.`,

		RunE: runEnrich,
	}
	return cmd
}

func runEnrich(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	processor, err := appInstance.Processor()
	if err != nil {
		return err
	}
	feed, err := appInstance.ChangeFeed(ctx)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}

	srv := newAPIServer(appInstance)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("enrichment daemon started")
	err = consumeFeed(ctx, feed, processor, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", zap.Error(serr))
	}
	logger.Info("shutdown complete")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func consumeFeed(ctx context.Context, feed feedSource, processor batchProcessor, logger *zap.Logger) error {
	for {
		events, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("read change feed: %w", err)
		}
		if len(events) == 0 {
			continue
		}
		summary := processor.ProcessBatch(ctx, events)
		logger.Info("batch processed",
			zap.Int("events", len(events)),
			zap.Int("enriched", summary.Enriched),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
	}
}
