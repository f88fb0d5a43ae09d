package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/handlers"
	"example.com/commerce/internal/messaging"
	"example.com/commerce/internal/relay"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the worker consuming events and commands from the bus, relaying unpublished events and releasing expired stock reservations`,
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	// Audit projection of every event
	if indexer := newAuditIndexer(gctx); indexer != nil {
		a.bus.Subscribe(eventbus.Wildcard, eventbus.Idempotent(a.deduplicator(), "audit", indexer.Handle))

		g.Go(func() error {
			return a.bus.Consume(gctx)
		})
	}

	// Command consumers, one per addressed service
	processor := messaging.NewProcessor(a.handlers)
	for _, service := range cfg.Bus.Commands {
		g.Go(func() error {
			return a.bus.SubscribeToCommands(gctx, service, processor.ProcessCommand)
		})
	}

	// Outbox relay and reservation expiry
	rel := relay.New(a.store, a.bus, cfg.Worker.RelayBatchSize, cfg.Worker.RelayGrace, a.metrics)
	sweeper := handlers.NewSweeper(a.store, a.handlers.Inventory, cfg.Worker.ReservationSweepBatch, a.metrics)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.RelayInterval),
			gocron.NewTask(func() {
				if _, err := rel.Drain(gctx); err != nil {
					log.Error().Err(err).Msg("Failed to relay unpublished events")
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.ReservationSweepEvery),
			gocron.NewTask(func() {
				if _, err := sweeper.Sweep(gctx); err != nil {
					log.Error().Err(err).Msg("Failed to release expired reservations")
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		log.Info().
			Dur("relayInterval", cfg.Worker.RelayInterval).
			Dur("sweepInterval", cfg.Worker.ReservationSweepEvery).
			Msg("Starting scheduled jobs")
		scheduler.Start()

		<-gctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := rel.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Final relay pass failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("Relayed events before exit")
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
