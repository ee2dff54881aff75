package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/bot/internal/config"
	"tempmail/bot/internal/health"
	"tempmail/bot/internal/middleware"
	"tempmail/bot/internal/monitoring"
)

// RouterDependencies 运维接口依赖项
type RouterDependencies struct {
	Config  *config.Config
	Health  *health.HealthChecker
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// ServiceInfo 是 /info 返回的运行信息
type ServiceInfo struct {
	Service      string `json:"service"`
	Storage      string `json:"storage"`
	Sessions     string `json:"sessions"`
	MailboxLimit int    `json:"mailbox_limit"`
	Domain       string `json:"domain"`
}

// NewRouter 创建运维接口路由：健康检查、指标与运行信息
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders())

	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	router.GET("/info", func(c *gin.Context) {
		Success(c, serviceInfo(deps.Config))
	})

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "资源不存在")
	})

	return router
}

func serviceInfo(cfg *config.Config) ServiceInfo {
	info := ServiceInfo{
		Service:      "tempmail-bot",
		Storage:      "memory",
		Sessions:     "local",
		MailboxLimit: cfg.Mailbox.MaxPerUser,
		Domain:       cfg.Mailgun.Domain,
	}
	if cfg.Database.UsesDatabase() {
		info.Storage = cfg.Database.Type
	}
	if cfg.Redis.Enabled {
		info.Sessions = "redis"
	}
	return info
}

// Server 包装运维 HTTP 服务
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer 创建运维 HTTP 服务
func NewServer(cfg config.ServerConfig, handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Run 启动服务，ctx 结束时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	s.log.Info("ops server stopped")
	return nil
}
