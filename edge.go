package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/config"
	"github.com/dentalnet/offline-edge/internal/connectivity"
	"github.com/dentalnet/offline-edge/internal/lifecycle"
	"github.com/dentalnet/offline-edge/internal/network"
	"github.com/dentalnet/offline-edge/internal/proxy"
	"github.com/dentalnet/offline-edge/internal/push"
	"github.com/dentalnet/offline-edge/internal/server"
	"github.com/dentalnet/offline-edge/internal/server/routes"
	"github.com/dentalnet/offline-edge/internal/strategy"
	"github.com/dentalnet/offline-edge/internal/syncqueue"
)

const shutdownTimeout = 10 * time.Second

// edge 持有进程内共享的全部组件。
type edge struct {
	app        *fiber.App
	logger     *logrus.Logger
	lifecycle  *lifecycle.Controller
	dispatcher *strategy.Dispatcher
	monitor    *connectivity.Monitor
	store      *syncqueue.BoltStore
}

// buildEdge 按“配置 → 主机注册表 → 缓存分区 → 网络 → 同步队列 → 生命周期 → Fiber”顺序装配，
// 保证所有请求共享同一份缓存、队列与连通状态。
func buildEdge(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*edge, error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建主机注册表失败: %w", err)
	}

	manager, err := cache.NewManager(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	httpClient := network.NewHTTPClient(cfg.Global.UpstreamTimeout.DurationValue())
	monitor := connectivity.NewMonitor(
		connectivity.HTTPProber{Client: httpClient, URL: cfg.ProbeURL()},
		cfg.Sync.ProbeInterval.DurationValue(),
		logger,
	)
	client := network.NewClient(network.Options{
		HTTPClient: httpClient,
		Resolver:   registry,
		Observer:   monitor,
	})

	store, err := syncqueue.Open(cfg.Sync.DBPath)
	if err != nil {
		return nil, fmt.Errorf("打开同步队列失败: %w", err)
	}
	queue := syncqueue.New(syncqueue.Options{
		Store:      store,
		Replayer:   syncqueue.NewHTTPReplayer(client),
		Waker:      monitor,
		MaxRetries: cfg.Sync.MaxRetries,
		Logger:     logger,
	})
	monitor.Handle(cfg.Sync.Tag, queue.DrainRemaining)

	// 重启前遗留的 pending 任务需要重新登记，否则要等下一次离线写入才会被重放
	if pending, err := queue.Pending(ctx); err == nil && len(pending) > 0 {
		monitor.Register(cfg.Sync.Tag)
	}

	ctrl := lifecycle.New(lifecycle.Options{
		Manager:     manager,
		Partitions:  cfg.PartitionNames(),
		Network:     client,
		OriginURL:   registry.Origin().PublicURL.String(),
		AppShell:    cfg.Global.AppShell,
		SkipWaiting: cfg.Global.SkipWaiting,
		Logger:      logger,
	})
	if err := ctrl.Start(ctx); err != nil {
		// 安装失败：上一个激活版本若还在就继续服务，否则请求直连上游
		logger.WithFields(logrus.Fields{"action": "lifecycle"}).WithError(err).Warn("lifecycle_install_failed")
	}

	// 策略通过视图访问分区，SKIP_WAITING 激活新版本后无需重建分发器
	fallbackProvider := cfg.FallbackProvider()
	dispatcher := strategy.NewDispatcher(cfg.Rules(), strategy.Deps{
		Network:      client,
		Static:       ctrl.StaticView(),
		API:          ctrl.APIView(),
		Fallback:     fallbackProvider,
		Logger:       logger,
		MaxEntrySize: cfg.Global.MaxCacheEntrySize,
	})

	handler := proxy.NewHandler(proxy.Options{
		Gate:        ctrl,
		Dispatcher:  dispatcher,
		Network:     client,
		Queue:       queue,
		SyncTag:     cfg.Sync.Tag,
		IsSyncRoute: cfg.IsSyncRoute,
		Fallback:    fallbackProvider,
		Logger:      logger,
	})
	guard := proxy.NewGuard(handler, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      guard,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, routes.Deps{
		Lifecycle: ctrl,
		Queue:     queue,
		Monitor:   monitor,
		Push:      push.NewCenter(0),
		Registry:  registry,
		Logger:    logger,
	})

	return &edge{
		app:        app,
		logger:     logger,
		lifecycle:  ctrl,
		dispatcher: dispatcher,
		monitor:    monitor,
		store:      store,
	}, nil
}

// Serve 同时运行 HTTP 服务与连通性监视器，ctx 取消后优雅退出。
func (e *edge) Serve(ctx context.Context, port int) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		e.monitor.Run(egCtx)
		return nil
	})

	eg.Go(func() error {
		e.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		return e.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

// Close 等待后台缓存写入完成并关闭同步队列。
func (e *edge) Close() {
	e.dispatcher.Background().Wait()
	if err := e.store.Close(); err != nil {
		e.logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("sync_store_close_failed")
	}
}
