package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"supplytrace/internal/api"
	"supplytrace/internal/cache"
	"supplytrace/internal/company"
	"supplytrace/internal/config"
	"supplytrace/internal/connection"
	"supplytrace/internal/contract"
	"supplytrace/internal/events"
	"supplytrace/internal/logging"
	"supplytrace/internal/output"
	"supplytrace/internal/product"
	"supplytrace/internal/shutdown"
	"supplytrace/internal/validation"
	"supplytrace/internal/wallet"
	"supplytrace/pkg/models"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("配置不完整: %v", err)
	}

	logCfg := cfg.Logging
	if *verbose {
		if logCfg == nil {
			logCfg = &logging.LogConfig{Format: "text", Output: "stderr"}
		}
		logCfg.Level = "debug"
	}
	logger, err := logging.NewLogrusLogger(logCfg)
	if err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	// 节点连接池
	pool := connection.NewConnectionPool(cfg.Chain.Nodes, cfg.Chain.ChainID, logger)
	if err := pool.Initialize(); err != nil {
		logger.Fatalf("初始化节点连接池失败: %v", err)
	}

	// 启动前校验节点指向的链
	if err := pool.VerifyChainID(context.Background()); err != nil {
		logger.Fatalf("链ID校验失败: %v", err)
	}

	// 钱包会话
	pollEvery, err := time.ParseDuration(cfg.Wallet.ChainPollEvery)
	if err != nil {
		pollEvery = 5 * time.Second
	}
	provider := wallet.NewKeystoreProvider(cfg.Wallet.KeystoreDir, cfg.Wallet.DefaultAccount, pool, pollEvery, logger)
	manager := wallet.NewManager(provider, cfg.Chain.ChainID, logger)

	chainID, ok := new(big.Int).SetString(cfg.Chain.ChainID, 10)
	if !ok {
		logger.Fatalf("非法的链ID: %s", cfg.Chain.ChainID)
	}

	client, err := contract.NewBoundClient(pool, cfg.Chain.ContractAddress, provider.Keystore(), cfg.Wallet.DefaultAccount, chainID, logger)
	if err != nil {
		logger.Fatalf("创建合约客户端失败: %v", err)
	}

	// 账户切换时签名账户跟着切换
	manager.Subscribe(func(session *models.WalletSession) {
		if session != nil {
			client.SetFrom(session.Address)
		}
	})

	store, err := cache.NewBoltStore(cfg.Cache.Path)
	if err != nil {
		logger.Fatalf("打开本地请求缓存失败: %v", err)
	}

	validator := validation.NewValidator(logger)
	resolver := company.NewResolver(client, store, logger)
	companies := company.NewService(client, resolver, store, validator, manager, logger)
	products := product.NewCoordinator(client, resolver, validator, manager, cfg.App.Origin, logger)

	deps := api.Deps{
		Config:    cfg,
		Wallet:    manager,
		Resolver:  resolver,
		Companies: companies,
		Products:  products,
		Store:     store,
		Pool:      pool,
	}

	// 数据库配置可用时暴露配置管理接口
	if dsn := os.Getenv("SUPPLYTRACE_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("连接配置数据库失败: %v", err)
		} else {
			deps.ConfigDB = dbConfig
		}
	}

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)

	// 事件监听（可选）
	var asyncSink *output.AsyncSink
	if cfg.Watcher != nil && cfg.Watcher.Enabled {
		sink, err := output.NewSink(cfg.Output, logger)
		if err != nil {
			logger.Fatalf("创建事件输出失败: %v", err)
		}
		asyncSink = output.NewAsyncSink(sink, 1000, logger)

		cursor, err := events.NewCursor("./data/watcher.db", logger)
		if err != nil {
			logger.Fatalf("打开监听游标失败: %v", err)
		}
		deps.Cursor = cursor

		wrapper, err := pool.NewConnectionWrapper()
		if err != nil {
			logger.Fatalf("获取节点连接失败: %v", err)
		}

		watcher, err := events.NewWatcher(wrapper.Client(), asyncSink, cursor, cfg.Watcher, cfg.Chain.ContractAddress, logger)
		if err != nil {
			logger.Fatalf("创建事件监听失败: %v", err)
		}

		// 链上确认公司验证后，当前会话的身份缓存必须重新解析
		watcher.OnCompanyVerified(func(event *models.CompanyVerifiedEvent) {
			if session, ok := manager.Current(); ok && strings.EqualFold(session.Address, event.Wallet) {
				resolver.Invalidate()
			}
		})

		watchCtx, watchCancel := context.WithCancel(context.Background())
		go func() {
			if err := watcher.Run(watchCtx); err != nil {
				logger.Errorf("事件监听退出: %v", err)
			}
		}()

		gs.RegisterShutdownFunc("stop_watcher", func(ctx context.Context) error {
			watchCancel()
			return nil
		}, shutdown.OrderStopWatcher)
		gs.RegisterShutdownFunc("flush_sink", func(ctx context.Context) error {
			return asyncSink.Close()
		}, shutdown.OrderFlushSink)
		gs.RegisterShutdownFunc("close_cursor", func(ctx context.Context) error {
			wrapper.Close()
			return cursor.Close()
		}, shutdown.OrderCloseCache)
	}

	server := api.NewServer(deps, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	gs.RegisterShutdownFunc("http_server", func(ctx context.Context) error {
		return server.Stop()
	}, shutdown.OrderStopHTTPServer)
	gs.RegisterShutdownFunc("wallet_manager", func(ctx context.Context) error {
		return manager.Close()
	}, shutdown.OrderCloseWallet)
	gs.RegisterShutdownFunc("request_cache", func(ctx context.Context) error {
		return store.Close()
	}, shutdown.OrderCloseCache)
	gs.RegisterShutdownFunc("connection_pool", func(ctx context.Context) error {
		client.Close()
		if deps.ConfigDB != nil {
			deps.ConfigDB.Close()
		}
		return pool.Close()
	}, shutdown.OrderCloseConnections)

	logger.Info("supplytrace API已启动")
	gs.WaitForShutdown()
	logger.Info("服务器已关闭")
}
