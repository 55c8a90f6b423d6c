// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/backtest"
	"github.com/analytical-punch/trading-backend/internal/bot"
	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/internal/safety"
	"github.com/analytical-punch/trading-backend/internal/store"
	"github.com/analytical-punch/trading-backend/internal/strategy"
	"github.com/analytical-punch/trading-backend/internal/workers"
	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	DataStore   *data.Store
	Source      data.Source
	Engine      *backtest.Engine
	Strategies  *strategy.Registry
	Bots        *bot.Registry
	Safety      *safety.Manager
	Pool        *workers.Pool
	ResultStore *store.Store // nil when persistence is disabled
	Hub         *Hub
}

// runState tracks one submitted backtest through its lifecycle.
type runState struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"` // queued, running, completed, failed
	Started time.Time `json:"started"`
	Error   string    `json:"error,omitempty"`
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	runs       map[string]*runState
}

// NewServer creates the API server and wires its routes.
func NewServer(logger *zap.Logger, config types.ServerConfig, deps Deps) *Server {
	s := &Server{
		logger: logger,
		config: config,
		deps:   deps,
		router: mux.NewRouter(),
		runs:   make(map[string]*runState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local desktop frontend
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/strategies", s.handleListStrategies).Methods("GET")
	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol:.+}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")

	s.router.HandleFunc("/api/v1/bots", s.handleCreateBot).Methods("POST")
	s.router.HandleFunc("/api/v1/bots", s.handleListBots).Methods("GET")
	s.router.HandleFunc("/api/v1/bots/{id}/pause", s.handleBotAction("pause")).Methods("POST")
	s.router.HandleFunc("/api/v1/bots/{id}/resume", s.handleBotAction("resume")).Methods("POST")
	s.router.HandleFunc("/api/v1/bots/{id}/stop", s.handleBotAction("stop")).Methods("POST")

	s.router.HandleFunc("/api/v1/safety/status", s.handleSafetyStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/safety/killswitch", s.handleKillSwitch).Methods("POST")
	s.router.HandleFunc("/api/v1/safety/reset", s.handleSafetyReset).Methods("POST")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it exits.
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

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"clients": s.deps.Hub.ClientCount(),
	})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": s.deps.Strategies.List(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.deps.DataStore.AvailableSymbols()
	if len(symbols) == 0 {
		symbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := utils.FormatSymbol(mux.Vars(r)["symbol"])

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}

	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.deps.DataStore.FetchOHLCV(r.Context(), symbol, types.Timeframe(timeframe), start, end, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      bars,
		"count":     len(bars),
	})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	cfg := types.DefaultBacktestConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.Symbol = utils.FormatSymbol(cfg.Symbol)
	if err := cfg.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := &runState{ID: cfg.ID, Status: "queued", Started: time.Now()}
	s.mu.Lock()
	s.runs[cfg.ID] = state
	s.mu.Unlock()

	err := s.deps.Pool.SubmitFunc(func() error {
		return s.runBacktest(cfg, state)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.runs, cfg.ID)
		s.mu.Unlock()
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      cfg.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	})
}

// runBacktest executes a queued run on a worker: fetch bars, run the
// engine, persist and broadcast.
func (s *Server) runBacktest(cfg types.BacktestConfig, state *runState) error {
	s.setRunStatus(state, "running", "")

	ctx := context.Background()
	bars, err := s.deps.DataStore.FetchOHLCV(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartDate, cfg.EndDate, 0)
	if err != nil {
		s.finishRun(state, cfg.ID, err)
		return err
	}

	result, err := s.deps.Engine.Run(ctx, cfg, bars)
	if err != nil {
		s.finishRun(state, cfg.ID, err)
		return err
	}

	if err := s.deps.ResultStore.SaveResult(ctx, result); err != nil {
		// Persistence is best-effort: the in-memory result stands.
		s.logger.Warn("failed to persist backtest result",
			zap.String("backtest_id", result.BacktestID), zap.Error(err))
	}

	s.finishRun(state, cfg.ID, nil)
	return nil
}

func (s *Server) setRunStatus(state *runState, status, errMsg string) {
	s.mu.Lock()
	state.Status = status
	state.Error = errMsg
	s.mu.Unlock()
}

func (s *Server) finishRun(state *runState, id string, err error) {
	status := "completed"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
		s.logger.Error("backtest failed", zap.String("id", id), zap.Error(err))
	}
	s.setRunStatus(state, status, errMsg)

	s.deps.Hub.BroadcastBacktestEvent(MsgTypeBacktestComplete, map[string]interface{}{
		"id":     id,
		"status": status,
		"error":  errMsg,
	})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "backtest not found")
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if result, ok := s.deps.Engine.Result(id); ok {
		response["result"] = result
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, ok := s.deps.Engine.Result(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "backtest result not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"trades": result.Trades,
		"count":  len(result.Trades),
	})
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var cfg types.BotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.Symbol = utils.FormatSymbol(cfg.Symbol)
	if cfg.Symbol == "" || cfg.Strategy == "" {
		s.writeError(w, http.StatusBadRequest, "symbol and strategy are required")
		return
	}
	if cfg.RiskLimits == (types.RiskLimits{}) {
		cfg.RiskLimits = types.DefaultRiskLimits()
	}

	strat, ok := s.deps.Strategies.Create(cfg.Strategy)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
		return
	}

	b := bot.New(s.logger, cfg, s.deps.Source, strat)
	if err := s.deps.Bots.Register(b); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.deps.Safety.RegisterBot(b.ID())

	b.Start(context.Background())
	s.deps.Hub.BroadcastBotStatus(b.ID(), b.Status())

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     b.ID(),
		"status": b.Status(),
	})
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots := s.deps.Bots.List()
	out := make([]map[string]interface{}, 0, len(bots))
	for _, b := range bots {
		out = append(out, map[string]interface{}{
			"id":                 b.ID(),
			"config":             b.Config(),
			"status":             b.Status(),
			"total_pnl":          b.TotalPnL(),
			"total_pnl_pct":      utils.PercentChange(b.Portfolio().InitialCapital(), b.Portfolio().TotalValue()),
			"drawdown_pct":       b.DrawdownPct(),
			"consecutive_losses": b.ConsecutiveLosses(),
			"open_positions":     len(b.Portfolio().OpenPositions()),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"bots": out, "count": len(out)})
}

func (s *Server) handleBotAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		b, ok := s.deps.Bots.Get(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "bot not found")
			return
		}

		switch action {
		case "pause":
			b.Pause()
		case "resume":
			b.Start(r.Context())
		case "stop":
			b.Stop()
			s.deps.Safety.UnregisterBot(id)
			s.deps.Bots.Unregister(id)
		}
		s.deps.Hub.BroadcastBotStatus(id, b.Status())

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     id,
			"status": b.Status(),
		})
	}
}

func (s *Server) handleSafetyStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"kill_switch": s.deps.Safety.Active(),
		"rules":       s.deps.Safety.Rules(),
		"alerts":      s.deps.Safety.Alerts(),
	})
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Switch string `json:"switch"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sw := safety.KillSwitch(req.Switch)
	switch sw {
	case safety.KillSwitchPauseAll, safety.KillSwitchStopAll, safety.KillSwitchLiquidateAll:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kill switch %q", req.Switch))
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	s.deps.Safety.ActivateKillSwitch(sw, req.Reason)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"active": sw})
}

func (s *Server) handleSafetyReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Safety.Reset()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"active": ""})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.deps.Hub, conn)
	s.deps.Hub.register <- client

	go client.ReadPump()
	go client.WritePump()
}
