package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/handler"
	"coinledger/internal/infrastructure/cache"
	"coinledger/internal/infrastructure/database"
	"coinledger/internal/infrastructure/lock"
	"coinledger/internal/infrastructure/logging"
	"coinledger/internal/infrastructure/metrics"
	"coinledger/internal/infrastructure/mq"
	"coinledger/internal/job"
	"coinledger/internal/service"
	"coinledger/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法机器ID")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger("server", cfg.Log.Level)

	// 初始化 ID 生成器
	if err := idgen.Init(*workerID); err != nil {
		logger.Fatal().Err(err).Msg("初始化 ID 生成器失败")
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化 MySQL 失败")
	}

	// 初始化 Redis
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化 Redis 失败")
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化 Kafka 失败")
	}
	defer producer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	locker := lock.NewLocker(redisClient, cfg.Ledger.LockTTL, cfg.Ledger.LockRetryInterval, cfg.Ledger.LockMaxRetries)
	prices := cache.NewPriceCache(redisClient)

	ledger := service.NewLedgerService(db, cfg, m, logging.NewLogger("ledger", cfg.Log.Level))
	transactions := service.NewTransactionService(db, ledger)
	wallet := service.NewWalletService(db, cfg, ledger, locker, logging.NewLogger("wallet", cfg.Log.Level))
	trade := service.NewTradeService(db, cfg, ledger, locker, prices, logging.NewLogger("trade", cfg.Log.Level))
	mining := service.NewMiningService(db, ledger, locker, logging.NewLogger("mining", cfg.Log.Level))
	p2p := service.NewP2PService(db, cfg, ledger, locker, logging.NewLogger("p2p", cfg.Log.Level))

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg, producer, m, logging.NewLogger("outbox_sender", cfg.Log.Level))
	go outboxSender.Start(ctx)

	expireJob := job.NewP2PTradeExpireJob(cfg, p2p, logging.NewLogger("p2p_expire_job", cfg.Log.Level))
	go expireJob.Start(ctx)

	settleJob := job.NewMiningSettleJob(cfg, mining, logging.NewLogger("mining_settle_job", cfg.Log.Level))
	go settleJob.Start(ctx)

	// 设置路由
	h := handler.NewHandler(handler.Deps{
		Ledger:       ledger,
		Transactions: transactions,
		Wallet:       wallet,
		Trade:        trade,
		Mining:       mining,
		P2P:          p2p,
		Prices:       prices,
		Logger:       logging.NewLogger("handler", cfg.Log.Level),
	})
	router := handler.SetupRouter(h, registry, m, cfg.Server.MetricsPath, logging.NewLogger("http", cfg.Log.Level))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("服务启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("服务关闭异常")
	}

	logger.Info().Msg("服务已关闭")
}
