// Package main provides the entry point for the trading backend server:
// backtesting engine, paper-trading bots, safety monitoring and the
// HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/analytical-punch/trading-backend/internal/api"
	"github.com/analytical-punch/trading-backend/internal/backtest"
	"github.com/analytical-punch/trading-backend/internal/bot"
	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/internal/notify"
	"github.com/analytical-punch/trading-backend/internal/safety"
	"github.com/analytical-punch/trading-backend/internal/store"
	"github.com/analytical-punch/trading-backend/internal/strategy"
	"github.com/analytical-punch/trading-backend/internal/workers"
	"github.com/analytical-punch/trading-backend/pkg/config"
)

func main() {
	configDir := flag.String("config", ".", "Directory containing config.yaml")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting trading backend",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_source", cfg.Data.Source),
		zap.Bool("store_enabled", cfg.Store.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data: live Binance klines or the deterministic synthetic feed.
	var source data.Source
	switch cfg.Data.Source {
	case "binance":
		source = data.NewBinanceSource(logger, cfg.Data.BinanceKey, cfg.Data.BinanceSec)
	default:
		source = data.NewSyntheticSource()
	}

	dataStore, err := data.NewStore(logger, cfg.Data.DataDir, source)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	resultStore, err := store.Open(ctx, logger, cfg.Store)
	if err != nil {
		logger.Fatal("failed to connect result store", zap.Error(err))
	}
	defer resultStore.Close()

	registry := strategy.NewRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", registry.List()))

	engine := backtest.NewEngine(logger, registry)
	bots := bot.NewRegistry(logger)

	safetyMgr := safety.NewManager(logger, func(id string) (safety.BotControl, bool) {
		b, ok := bots.Get(id)
		return b, ok
	})

	hub := api.NewHub(logger)
	go hub.Run()
	safetyMgr.AddHandler(hub)

	telegram, err := notify.NewTelegram(logger, cfg.Notify)
	if err != nil {
		logger.Error("telegram notifier unavailable", zap.Error(err))
	} else if telegram != nil {
		safetyMgr.AddHandler(telegram)
	}

	go safetyMgr.Start(ctx)

	pool := workers.NewPool(logger, workers.DefaultConfig("backtests"))
	pool.Start()

	server := api.NewServer(logger, cfg.Server, api.Deps{
		DataStore:   dataStore,
		Source:      source,
		Engine:      engine,
		Strategies:  registry,
		Bots:        bots,
		Safety:      safetyMgr,
		Pool:        pool,
		ResultStore: resultStore,
		Hub:         hub,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	// Bots liquidate on Stop, so they go down before the pool and server.
	bots.ShutdownAll()

	if err := pool.Stop(); err != nil {
		logger.Error("error stopping worker pool", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
