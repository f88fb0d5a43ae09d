package cmd

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/commerce/config"
	"example.com/commerce/internal/database"
	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/handlers"
	"example.com/commerce/internal/messaging"
	"example.com/commerce/internal/metrics"
	"example.com/commerce/internal/repository"
	"example.com/commerce/internal/telemetry"
)

const metricsNamespace = "commerce"

// app holds the components every long-running command shares
type app struct {
	cfg      config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracer   *telemetry.Tracer
	db       *gorm.DB
	store    eventstore.Store
	redis    redis.UniversalClient
	bus      *eventbus.Bus
	runner   *handlers.Runner
	handlers messaging.Handlers
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry, metricsNamespace)

	tracer, err := telemetry.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}
	a.tracer = tracer

	if err := a.openStore(); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.connectRedis(ctx)

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	busOpts := []eventbus.Option{
		eventbus.WithMaxDeliveries(cfg.Bus.MaxDeliveries),
		eventbus.WithMetrics(a.metrics),
		eventbus.WithTracer(a.tracer),
	}
	if a.redis != nil {
		busOpts = append(busOpts, eventbus.WithStream(eventbus.NewRedisStream(a.redis, cfg.Redis.StreamKey, cfg.Redis.StreamMaxLen)))
	} else {
		busOpts = append(busOpts, eventbus.WithStream(eventbus.NewMemoryStream(int(cfg.Redis.StreamMaxLen))))
	}
	a.bus = eventbus.New(transport, cfg.Service.Name, busOpts...)

	a.runner = handlers.NewRunner(a.store, a.bus,
		handlers.WithRetry(cfg.EventSourcing.CommandMaxRetries, cfg.EventSourcing.CommandRetryWindow),
		handlers.WithMetrics(a.metrics),
		handlers.WithTracer(a.tracer),
	)
	a.handlers = newHandlers(a.runner, a.store, cfg.EventSourcing)

	return a, nil
}

// openStore opens the Postgres event store, or the in-memory one when no
// DSN is configured.
func (a *app) openStore() error {
	if a.cfg.Database.DSN == "" {
		log.Warn().Msg("No database DSN configured, using the in-memory event store")
		a.store = eventstore.Instrument(eventstore.NewMemoryStore(), a.metrics)
		return nil
	}

	db, err := database.Connect(a.cfg.Database)
	if err != nil {
		return err
	}
	a.db = db

	if a.cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}
	a.store = eventstore.Instrument(eventstore.NewGormStore(db), a.metrics)
	return nil
}

// connectRedis enables the Redis stream and dedup store. Redis is optional:
// when unreachable the process falls back to in-memory implementations.
func (a *app) connectRedis(ctx context.Context) {
	if !a.cfg.Redis.Enabled {
		return
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{a.cfg.Redis.Addr},
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("Failed to connect to Redis, continuing with in-memory stream and dedup")
		_ = client.Close()
		return
	}

	log.Info().Str("addr", a.cfg.Redis.Addr).Msg("Connected to Redis")
	a.redis = client
}

// deduplicator returns the consumer dedup store
func (a *app) deduplicator() eventbus.Deduplicator {
	if a.redis != nil {
		return eventbus.NewRedisDeduplicator(a.redis, a.cfg.Service.Name+":dedup", a.cfg.Redis.DedupLease, a.cfg.Redis.DedupTTL)
	}
	return eventbus.NewMemoryDeduplicator(a.cfg.Redis.DedupLease, a.cfg.Redis.DedupTTL)
}

func (a *app) close(ctx context.Context) {
	if a.bus != nil {
		if err := a.bus.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to close event bus")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
	a.tracer.Close(5 * time.Second)
}

func newTransport(ctx context.Context, cfg config.Config) (eventbus.Transport, error) {
	switch cfg.Bus.Driver {
	case config.BusDriverAzure:
		t, err := eventbus.NewAzureTransport(ctx, cfg.Azure.ConnectionString, cfg.Bus.EventsTopic, cfg.Bus.Prefetch)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize Azure Service Bus")
		}
		return t, nil

	case config.BusDriverNATS:
		t, err := eventbus.NewNATSTransport(eventbus.NATSOptions{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.ConnectName,
			MaxAge:        cfg.NATS.MaxAge,
			FetchWait:     cfg.NATS.FetchWait,
			AckWait:       cfg.NATS.AckWait,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Batch:         cfg.Bus.Prefetch,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize NATS JetStream")
		}
		return t, nil

	default:
		log.Warn().Msg("Using the in-memory bus, events do not leave this process")
		return eventbus.NewMemoryTransport(), nil
	}
}

func newHandlers(runner *handlers.Runner, store eventstore.EventStore, es config.EventSourcingConfig) messaging.Handlers {
	opts := []repository.Option{repository.WithSnapshotFrequency(es.SnapshotFrequency)}

	return messaging.Handlers{
		Users:     handlers.NewUserHandler(runner, repository.New(store, domain.UserAggregateType, domain.NewUser, opts...)),
		Products:  handlers.NewProductHandler(runner, repository.New(store, domain.ProductAggregateType, domain.NewProduct, opts...)),
		Orders:    handlers.NewOrderHandler(runner, repository.New(store, domain.OrderAggregateType, domain.NewOrder, opts...)),
		Payments:  handlers.NewPaymentHandler(runner, repository.New(store, domain.PaymentAggregateType, domain.NewPayment, opts...)),
		Inventory: handlers.NewInventoryHandler(runner, repository.New(store, domain.InventoryAggregateType, domain.NewInventory, opts...)),
	}
}
