package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/commerce/internal/api"
	"example.com/commerce/internal/audit"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the admin HTTP server",
	Long:  `Start the HTTP server exposing event streams, aggregate state, the real-time feed, metrics and command intake`,
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	server := api.NewServer(cfg.Server, api.Dependencies{
		Store:    a.store,
		Bus:      a.bus,
		Handlers: a.handlers,
		Gatherer: a.registry,
		Audit:    newAuditIndexer(ctx),
		NewRelic: a.tracer.Application(),
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server exited properly")
	return nil
}

// newAuditIndexer returns nil when the audit index is disabled or unreachable
func newAuditIndexer(ctx context.Context) *audit.Indexer {
	if !cfg.Elasticsearch.Enabled {
		return nil
	}

	client, err := audit.NewElasticsearchClient(cfg.Elasticsearch)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without the audit index")
		return nil
	}

	indexer := audit.NewIndexer(client, cfg.Elasticsearch)
	if err := indexer.EnsureIndex(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to ensure the audit index, continuing without it")
		return nil
	}
	return indexer
}
