package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catpoints/internal/actor"
	"catpoints/internal/chain"
	"catpoints/internal/config"
	"catpoints/internal/handler"
	"catpoints/internal/infrastructure/cache"
	"catpoints/internal/infrastructure/database"
	"catpoints/internal/infrastructure/mq"
	"catpoints/internal/job"
	"catpoints/internal/logger"
	"catpoints/internal/repository"
	"catpoints/internal/service"
	"catpoints/internal/signer"
	"catpoints/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	defer logger.Sync()

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 链客户端与远程签名服务
	signerClient := signer.NewClient(&cfg.Signer)
	chainClient, err := chain.NewClient(&cfg.Chain, signerClient)
	if err != nil {
		logger.Fatal("初始化链客户端失败: %v", err)
	}

	// actor 注册表：积分桶、调用、水龙头共用一套按 key 串行的邮箱
	actors := actor.NewRegistry()

	// services
	pointStore := service.NewPointRecordStore(db)
	invokeStore := service.NewInvokeStore(db)
	faucetStore := service.NewFaucetStore(db)

	invokeService := service.NewInvokeService(invokeStore, chainClient, actors, cfg)
	pointService := service.NewPointRecordService(pointStore, actors, cfg)
	dispatchService := service.NewDispatchService(pointStore, invokeService, actors, redisClient, cfg)
	faucetService := service.NewFaucetService(faucetStore, chainClient, actors, redisClient, cfg)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 发件箱投递走独立 ticker
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	// 周期任务挂在调度器上
	invokeSweep := job.NewInvokeSweepJob(db, invokeService, cfg)
	defer invokeSweep.Release()

	manager := job.NewManager()
	manager.Register(
		invokeSweep,
		job.NewSettleSweepJob(pointService, dispatchService, invokeService, pointStore, cfg),
		job.NewDispatchJob(dispatchService, redisClient, cfg),
		job.NewFaucetSweepJob(faucetService, cfg),
		job.NewHeightTrackerJob(db, chainClient, cfg),
	)
	manager.Start()
	defer manager.Stop()

	// 设置路由
	heightRepo := repository.NewChainHeightRepository(db)
	h := handler.NewHandler(pointService, dispatchService, invokeService, faucetService, heightRepo, cfg)
	router := handler.SetupRouter(h)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		logger.Info("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务关闭异常: %v", err)
	}

	logger.Info("服务已关闭")
}
