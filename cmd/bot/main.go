package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/bot/internal/bot"
	"tempmail/bot/internal/cache"
	"tempmail/bot/internal/config"
	"tempmail/bot/internal/health"
	"tempmail/bot/internal/logger"
	"tempmail/bot/internal/mailgun"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/ratelimit"
	"tempmail/bot/internal/service"
	"tempmail/bot/internal/session"
	"tempmail/bot/internal/storage"
	"tempmail/bot/internal/storage/memory"
	"tempmail/bot/internal/storage/postgres"
	"tempmail/bot/internal/storage/redis"
	httptransport "tempmail/bot/internal/transport/http"
)

const (
	sessionCacheSize      = 10000
	cleanupInterval       = 5 * time.Minute
	limiterIdle           = 30 * time.Minute
	providerCheckInterval = 5 * time.Minute
)

// main 启动 Telegram Bot 与运维 HTTP 服务。
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tempmail bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail bot",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Int("mailbox_limit", cfg.Mailbox.MaxPerUser),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	var store storage.Store
	if cfg.Database.UsesDatabase() {
		dbStore, err := postgres.NewStore(cfg.Database, logger.Component(log, "storage"))
		if err != nil {
			return fmt.Errorf("failed to initialize database storage: %w", err)
		}
		store = dbStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Warn("using memory storage, data is lost on restart")
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(metrics.Registry(), log)
	healthChecker.AddReadiness("storage", store.Health)

	group, groupCtx := errgroup.WithContext(ctx)

	// 初始化会话存储：启用 Redis 时使用 Redis，否则使用进程内缓存
	var sessions session.Store
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		sessions = session.NewRedisStore(redisClient.Client(), cfg.Session.TTL)
		healthChecker.AddReadiness("redis", redisClient.Ping)
		log.Info("using redis sessions", zap.Duration("ttl", cfg.Session.TTL))
	} else {
		sessionCache := cache.NewLocalCache(sessionCacheSize, cfg.Session.TTL)
		sessions = session.NewLocalStore(sessionCache, cfg.Session.TTL)
		group.Go(func() error {
			sessionCache.Run(groupCtx, cleanupInterval)
			return nil
		})
		log.Info("using in-process sessions", zap.Duration("ttl", cfg.Session.TTL))
	}

	// 初始化服务商
	provider, err := mailgun.New(cfg.Mailgun, log)
	if err != nil {
		return err
	}
	verifyProviderDomain(ctx, provider, log)
	healthChecker.AddProvider(groupCtx, provider, providerCheckInterval)

	mailboxService := service.NewMailboxService(store, provider, cfg.Mailbox, log)
	mailboxService.SetObserver(metrics)

	limiter := ratelimit.New(cfg.RateLimit)
	group.Go(func() error {
		limiter.Run(groupCtx, cleanupInterval, limiterIdle)
		return nil
	})

	// 初始化 Telegram Bot
	_ = tgbotapi.SetLogger(zap.NewStdLog(log.Named("telegram")))
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	log.Info("authorized on telegram", zap.String("bot", api.Self.UserName))

	handler := bot.NewHandler(bot.HandlerDependencies{
		Sender:    api,
		Mailboxes: mailboxService,
		Sessions:  sessions,
		Limiter:   limiter,
		Recorder:  metrics,
		Logger:    log,
	})
	runner := bot.NewRunner(api, handler, cfg.Telegram, metrics, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:  cfg,
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  log,
	})
	server := httptransport.NewServer(cfg.Server, router, log)

	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		return runner.Run(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service stopped with error", zap.Error(err))
		return err
	}
	log.Info("tempmail bot stopped")
	return nil
}

// verifyProviderDomain 启动时检查服务商域名，未激活时只记录警告
func verifyProviderDomain(ctx context.Context, provider *mailgun.Client, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	active, err := provider.VerifyDomain(ctx)
	switch {
	case err != nil:
		log.Warn("failed to verify provider domain", zap.String("domain", provider.Domain()), zap.Error(err))
	case !active:
		log.Warn("provider domain is not active", zap.String("domain", provider.Domain()))
	default:
		log.Info("provider domain verified", zap.String("domain", provider.Domain()))
	}
}
