// Package api provides the HTTP REST API and WebSocket server for RVLink.
//
// It exposes the entity mapping, live state, command submission, and
// bridge diagnostics to user interfaces (wall panels, mobile apps, web
// dashboards). State changes stream to WebSocket clients in real time.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/hub"
	"github.com/rvlink/rvlink-core/internal/infrastructure/config"
	"github.com/rvlink/rvlink-core/internal/infrastructure/logging"
	"github.com/rvlink/rvlink-core/internal/pipeline"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Store holds live entity state; Mapping describes the configured
	// entities. Both are required.
	Store   *entity.Store
	Mapping *entity.Table

	// Events is the state-change fan-out hub the WebSocket relay
	// subscribes to.
	Events *hub.Hub

	// Commander executes entity actions. Optional: command submission
	// returns 503 without it.
	Commander *pipeline.Commander

	// History serves the per-entity state change audit trail. Optional.
	History entity.HistoryRepository

	// Diagnostics exposes the pipeline counters on the metrics endpoint.
	Diagnostics *pipeline.Diagnostics

	Version string
}

// Server is the HTTP API server for RVLink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	store     *entity.Store
	mapping   *entity.Table
	events    *hub.Hub
	commander *pipeline.Commander
	history   entity.HistoryRepository
	diag      *pipeline.Diagnostics
	version   string

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, store, mapping, hub)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if deps.Mapping == nil {
		return nil, fmt.Errorf("entity mapping is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event hub is required")
	}
	// Commander, History and Diagnostics are optional: reads and the
	// WebSocket stream still function without them.

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		store:     deps.Store,
		mapping:   deps.Mapping,
		events:    deps.Events,
		commander: deps.Commander,
		history:   deps.History,
		diag:      deps.Diagnostics,
		version:   deps.Version,
		tickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, subscribes to the
// state-change fan-out for real-time WebSocket broadcast, and launches
// the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Periodic ticket cleanup so abandoned tickets do not accumulate.
	go s.tickets.cleanLoop(srvCtx)

	// Relay state-change events from the fan-out hub to WebSocket clients.
	go s.relayStateEvents(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayStateEvents drains a fan-out subscription and broadcasts each
// change to WebSocket clients on the entity.state_changed channel.
// Clients fetch the initial picture via GET /entities, so no snapshot
// is requested here.
func (s *Server) relayStateEvents(ctx context.Context) {
	sub := s.events.Subscribe(false)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			s.hub.Broadcast(ChannelStateChanged, stateChangedPayload(event))
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, event relay, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
