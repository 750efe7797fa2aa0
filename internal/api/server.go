package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/backtester"
	"github.com/atlas-desktop/signal-backtest/internal/data"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// SignalRecorder writes and reads externally generated signals. The
// SQLite store satisfies it.
type SignalRecorder interface {
	SaveSignal(ctx context.Context, signal *types.Signal) error
	GetSignals(ctx context.Context, symbol string, start, end time.Time) ([]types.Signal, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	runner     *backtester.Runner
	summaries  *backtester.SummaryAggregator
	curves     *backtester.EquityCurveBuilder
	perfs      backtester.PerformanceRepository
	signals    SignalRecorder
	priceStore *data.Store
	metrics    *Metrics
}

// NewServer creates a new API server.
func NewServer(
	logger *zap.Logger,
	config *types.ServerConfig,
	runner *backtester.Runner,
	summaries *backtester.SummaryAggregator,
	curves *backtester.EquityCurveBuilder,
	perfs backtester.PerformanceRepository,
	signals SignalRecorder,
	priceStore *data.Store,
	hub *Hub,
) *Server {
	server := &Server{
		logger:     logger,
		config:     config,
		router:     mux.NewRouter(),
		hub:        hub,
		runner:     runner,
		summaries:  summaries,
		curves:     curves,
		perfs:      perfs,
		signals:    signals,
		priceStore: priceStore,
		metrics:    NewMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.metrics.Middleware)

	// Backtest endpoints
	s.router.HandleFunc("/backtests/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/backtests/{symbol}/summary", s.handleSummary).Methods("GET")
	s.router.HandleFunc("/backtests/{symbol}/recent", s.handleRecent).Methods("GET")
	s.router.HandleFunc("/backtests/{symbol}/dashboard", s.handleDashboard).Methods("GET")
	s.router.HandleFunc("/backtests/{symbol}/equity-curve", s.handleEquityCurve).Methods("GET")
	s.router.HandleFunc("/backtests/{symbol}/equity-curve/daily", s.handleDailyEquityCurve).Methods("GET")

	// Signal ingestion
	s.router.HandleFunc("/signals", s.handleCreateSignal).Methods("POST")
	s.router.HandleFunc("/signals/{symbol}", s.handleGetSignals).Methods("GET")

	// Price data
	s.router.HandleFunc("/prices/{symbol}", s.handleGetPrices).Methods("GET")

	// Operational
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Router exposes the configured handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and hands it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	s.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.ReadPump()
	go client.WritePump()
}
