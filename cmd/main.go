package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"talent-search-go/internal/api/handler"
	"talent-search-go/internal/api/middleware"
	"talent-search-go/internal/api/router"
	"talent-search-go/internal/config"
	"talent-search-go/internal/embedder"
	"talent-search-go/internal/gate"
	appCoreLogger "talent-search-go/internal/logger"
	"talent-search-go/internal/storage"
	embedsync "talent-search-go/internal/sync"
	"talent-search-go/pkg/ratelimit"
)

var (
	version     = "1.0.0"            //nolint:gochecknoglobals
	serviceName = "talent-search-go" //nolint:gochecknoglobals
)

// @title Talent Search API
// @version 1.0
// @description 候选人语义搜索与嵌入同步服务的API文档。
// @BasePath /api/v1
func main() {
	var (
		configPath string
		initConfig bool
	)
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.BoolVar(&initConfig, "init-config", false, "Generate a sample config file at the config path and exit")
	pflag.Parse()

	if initConfig {
		if err := config.CreateSampleConfig(configPath); err != nil {
			zlog.Fatal().Err(err).Msg("生成示例配置失败")
		}
		zlog.Info().Str("path", configPath).Msg("示例配置已生成")
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("加载配置失败")
	}

	initLogger(cfg.Logger)
	glog.Infof("%s v%s 配置加载成功", serviceName, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()

	// MySQL和Qdrant是搜索与同步的硬依赖, 缺了宁可不起服务。
	// Redis只承载会话缓存/锁/认证判定缓存, 缺失时降级运行。
	missing := storageManager.MissingComponents()
	redisAvailable := true
	for _, name := range missing {
		if name == "redis" {
			redisAvailable = false
			glog.Warn("Redis不可用, 搜索缓存/同步锁/认证缓存降级为关闭")
			continue
		}
		glog.Fatalf("存储组件 %s 初始化失败, 服务无法启动", name)
	}
	glog.Info("存储服务初始化成功")

	generator := embedder.NewGenerator(cfg.Embedder, nil)
	glog.Infof("嵌入生成器初始化成功, model=%s dimensions=%d", cfg.Embedder.Model, cfg.Embedder.Dimensions)

	reprocessGate := gate.NewGate(storageManager.MySQL)
	limiter := ratelimit.NewTokenBucket(cfg.Embedder.QPM, 0)

	// 接口变量只在Redis真正可用时赋值, 避免带nil指针的非nil接口。
	var (
		syncLocker   embedsync.Locker
		searchCache  handler.SearchCache
		verdictCache middleware.VerdictCache
	)
	if redisAvailable {
		syncLocker = storageManager.Redis
		searchCache = storageManager.Redis
		verdictCache = storageManager.Redis
	}

	syncService := embedsync.NewService(
		storageManager.MySQL,
		storageManager.Qdrant,
		generator,
		reprocessGate,
		syncLocker,
		limiter,
		cfg.Sync,
		cfg.Embedder.Model,
	)
	glog.Info("嵌入同步编排器初始化成功")

	syncHandler := handler.NewEmbeddingSyncHandler(syncService)
	searchHandler := handler.NewCandidateSearchHandler(cfg, generator, storageManager.Qdrant, storageManager.MySQL, searchCache)

	var authHandler app.HandlerFunc
	if cfg.Auth.VerifyURL != "" {
		authHandler = middleware.NewAuth(cfg.Auth, verdictCache).Handler()
		glog.Info("管理接口认证中间件已启用")
	} else {
		glog.Warn("未配置auth.verify_url, 管理接口未启用认证")
	}

	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})

	router.RegisterRoutes(h, authHandler, syncHandler, searchHandler)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Fatalf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化zerolog全局实例并桥接到Hertz的hlog
func initLogger(cfg config.LoggerConfig) {
	appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
	})

	hertzCompatibleLogger := hertzadapter.From(appCoreLogger.Logger)
	glog.SetLogger(hertzCompatibleLogger)

	if level, err := zerolog.ParseLevel(cfg.Level); err == nil && level <= zerolog.DebugLevel {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
