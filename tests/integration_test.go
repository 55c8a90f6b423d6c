// Package integration_test exercises the full flow: HTTP request, worker
// pool, backtesting engine, and results back over the API.
package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/api"
	"github.com/analytical-punch/trading-backend/internal/backtest"
	"github.com/analytical-punch/trading-backend/internal/bot"
	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/internal/safety"
	"github.com/analytical-punch/trading-backend/internal/strategy"
	"github.com/analytical-punch/trading-backend/internal/workers"
	"github.com/analytical-punch/trading-backend/pkg/types"
)

func newStack(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	registry := strategy.NewRegistry(logger)
	engine := backtest.NewEngine(logger, registry)
	bots := bot.NewRegistry(logger)
	safetyMgr := safety.NewManager(logger, func(id string) (safety.BotControl, bool) {
		b, ok := bots.Get(id)
		return b, ok
	})

	pool := workers.NewPool(logger, workers.Config{
		Name: "integration", NumWorkers: 2, QueueSize: 8, ShutdownTimeout: time.Second,
	})
	pool.Start()
	t.Cleanup(func() { pool.Stop() })

	hub := api.NewHub(logger)
	go hub.Run()
	safetyMgr.AddHandler(hub)

	server := api.NewServer(logger, types.ServerConfig{
		WebSocketPath: "/ws",
	}, api.Deps{
		DataStore:  dataStore,
		Source:     data.NewSyntheticSource(),
		Engine:     engine,
		Strategies: registry,
		Bots:       bots,
		Safety:     safetyMgr,
		Pool:       pool,
		Hub:        hub,
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestFullBacktestWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ts := newStack(t)

	// Health first.
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}

	// Submit a run over two weeks of hourly bars.
	cfg := types.DefaultBacktestConfig()
	cfg.Symbol = "BTC/USDT"
	cfg.Strategy = "trend_punch"
	cfg.StartDate = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	body, _ := json.Marshal(cfg)
	resp, err = http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var accepted struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&accepted)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || accepted.ID == "" {
		t.Fatalf("run returned %d, id %q", resp.StatusCode, accepted.ID)
	}

	// Poll until the worker finishes.
	var status struct {
		Status string                `json:"status"`
		Error  string                `json:"error"`
		Result *types.BacktestResult `json:"result"`
	}
	deadline := time.Now().Add(15 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/v1/backtest/" + accepted.ID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if status.Status == "completed" || status.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backtest stuck in status %q", status.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if status.Status != "completed" {
		t.Fatalf("backtest failed: %s", status.Error)
	}
	if status.Result == nil {
		t.Fatal("completed run has no result")
	}
	if status.Result.BarsUsed == 0 {
		t.Error("result reports zero bars used")
	}
	if len(status.Result.EquityCurve.Values) == 0 {
		t.Error("result has an empty equity curve")
	}
	if status.Result.Strategy != cfg.Strategy || status.Result.Symbol != cfg.Symbol {
		t.Errorf("result identifies %s/%s, want %s/%s",
			status.Result.Symbol, status.Result.Strategy, cfg.Symbol, cfg.Strategy)
	}
}

func TestBotUnderKillSwitch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ts := newStack(t)

	cfg := types.BotConfig{
		Symbol:    "ETH/USDT",
		Strategy:  "momentum_punch",
		Timeframe: types.Timeframe1h,
		Interval:  time.Hour,
	}
	body, _ := json.Marshal(cfg)
	resp, err := http.Post(ts.URL+"/api/v1/bots", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.ID == "" {
		t.Fatal("no bot id")
	}

	// stop_all must take the running bot down.
	swBody, _ := json.Marshal(map[string]string{"switch": "stop_all", "reason": "integration"})
	resp, err = http.Post(ts.URL+"/api/v1/safety/killswitch", "application/json", bytes.NewReader(swBody))
	if err != nil {
		t.Fatalf("killswitch: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/v1/bots")
	if err != nil {
		t.Fatalf("list bots: %v", err)
	}
	var list struct {
		Bots []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"bots"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()

	found := false
	for _, b := range list.Bots {
		if b.ID == created.ID {
			found = true
			if b.Status != string(types.BotStatusStopped) {
				t.Errorf("bot status = %s after stop_all, want stopped", b.Status)
			}
		}
	}
	if !found {
		t.Fatal("created bot missing from list")
	}
}
