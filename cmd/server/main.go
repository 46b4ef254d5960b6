package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradecore/gotrade/internal/exchange"
	"github.com/tradecore/gotrade/internal/exchange/gateio"
	"github.com/tradecore/gotrade/internal/execution"
	"github.com/tradecore/gotrade/internal/ledger"
	"github.com/tradecore/gotrade/internal/services"
	"github.com/tradecore/gotrade/pkg/config"
	"github.com/tradecore/gotrade/pkg/logger"
	"github.com/tradecore/gotrade/pkg/shutdown"
	"github.com/tradecore/gotrade/pkg/syncgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return err
	}

	var repo ledger.Repository
	switch cfg.Ledger.Store {
	case "sqlite":
		repo, err = ledger.NewSQLiteRepository(cfg.Ledger.DSN)
		if err != nil {
			return err
		}
	default:
		repo = ledger.NewMemoryRepository()
	}

	balances, err := ledger.NewBalanceLedger(repo)
	if err != nil {
		return err
	}
	positions, err := ledger.NewPositionLedger(repo)
	if err != nil {
		return err
	}

	registry := exchange.NewRegistry()
	if err := registry.Register(gateio.Name, gateio.New); err != nil {
		return err
	}
	adapter, err := registry.New(cfg.Exchange.Name, exchange.AdapterConfig{
		Key:                   cfg.Exchange.Key,
		Secret:                cfg.Exchange.Secret,
		BaseURL:               cfg.Exchange.BaseURL,
		WsURL:                 cfg.Exchange.WsURL,
		RateLimitCapacity:     cfg.RateLimit.Capacity,
		RateLimitRefillPerSec: cfg.RateLimit.RefillPerSec,
		RateLimitMaxQueue:     cfg.RateLimit.MaxQueueDepth,
		ReconnectDelay:        cfg.Stream.ReconnectDelay(),
		MaxReconnectDelay:     cfg.Stream.MaxReconnectDelay(),
		PingInterval:          cfg.Stream.PingInterval(),
	})
	if err != nil {
		return err
	}

	coordCfg := execution.DefaultConfig()
	if cfg.Coordinator.SubmitTimeoutSeconds > 0 {
		coordCfg.SubmitTimeout = time.Duration(cfg.Coordinator.SubmitTimeoutSeconds) * time.Second
	}
	coordinator, err := execution.NewCoordinator(coordCfg, adapter, balances, positions, repo)
	if err != nil {
		return err
	}

	service := services.NewTradingService(adapter, coordinator, balances, positions, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx, cfg.Symbols); err != nil {
		return err
	}

	group := syncgroup.NewSyncGroup()
	group.Go(func() {
		coordinator.Run(ctx,
			time.Duration(cfg.Coordinator.SyncIntervalWithOrdersSeconds)*time.Second,
			time.Duration(cfg.Coordinator.SyncIntervalWithoutOrdersSeconds)*time.Second)
	})

	manager := shutdown.NewManager()
	manager.OnShutdown(func(ctx context.Context) {
		if err := service.Stop(); err != nil {
			logger.Warnf("断开交易所失败: %v", err)
		}
	})
	manager.OnShutdown(func(ctx context.Context) {
		if err := repo.Close(); err != nil {
			logger.Warnf("关闭仓库失败: %v", err)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("收到信号 %s，开始关闭", sig)

	cancel()
	group.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)
	return nil
}
