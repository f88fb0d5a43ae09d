package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"example.com/commerce/config"
	"example.com/commerce/internal/audit"
	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/messaging"
)

// Dependencies are the components the API reads from and writes to.
// Audit and NewRelic are optional.
type Dependencies struct {
	Store    eventstore.EventStore
	Bus      *eventbus.Bus
	Handlers messaging.Handlers
	Gatherer prometheus.Gatherer
	Audit    *audit.Indexer
	NewRelic *newrelic.Application
}

// Server is the HTTP server for the API
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	deps       Dependencies
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	server := &Server{
		cfg:    cfg,
		router: gin.New(),
		deps:   deps,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())

	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	s.router.Use(gin.Recovery())

	if s.deps.NewRelic != nil {
		s.router.Use(nrgin.Middleware(s.deps.NewRelic))
	}

	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")

	// Event store reads
	v1.GET("/streams/:id", s.getStream)
	v1.GET("/streams/:id/history", s.getAuditHistory)
	v1.GET("/events", s.getEvents)
	v1.GET("/realtime", s.getRealtime)

	// Aggregate state
	h := s.deps.Handlers
	if h.Users != nil {
		v1.GET("/users/:id", aggregateState(h.Users.GetUser, (*domain.User).State))
	}
	if h.Products != nil {
		v1.GET("/products/:id", aggregateState(h.Products.GetProduct, (*domain.Product).State))
	}
	if h.Orders != nil {
		v1.GET("/orders/:id", aggregateState(h.Orders.GetOrder, (*domain.Order).State))
	}
	if h.Payments != nil {
		v1.GET("/payments/:id", aggregateState(h.Payments.GetPayment, (*domain.Payment).State))
	}
	if h.Inventory != nil {
		v1.GET("/inventory/:id", aggregateState(h.Inventory.GetInventory, (*domain.Inventory).State))
	}

	// Commands
	v1.POST("/commands/:service", s.sendCommand)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Msgf("HTTP server starting on %s", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
