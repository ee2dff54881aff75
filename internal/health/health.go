package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultCheckTimeout = 3 * time.Second
	goroutineThreshold  = 10000
)

// ErrDomainInactive 服务商域名不是 active 状态
var ErrDomainInactive = errors.New("provider domain is not active")

// CheckFunc 是带超时上下文的检查函数，例如 storage.Store.Health
type CheckFunc func(ctx context.Context) error

// DomainVerifier 检查服务商域名状态
type DomainVerifier interface {
	VerifyDomain(ctx context.Context) (bool, error)
}

// HealthChecker 健康检查器
//
// 存活检查只关心进程本身；就绪检查覆盖数据库、Redis 和服务商域名。
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器；reg 不为空时检查结果同时作为指标导出
func NewHealthChecker(reg prometheus.Registerer, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}

	var handler healthcheck.Handler
	if reg != nil {
		handler = healthcheck.NewMetricsHandler(reg, "tempmail")
	} else {
		handler = healthcheck.NewHandler()
	}

	hc := &HealthChecker{
		health: handler,
		logger: logger.Named("health"),
	}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	return hc
}

// AddReadiness 添加就绪检查，每次请求时同步执行
func (hc *HealthChecker) AddReadiness(name string, check CheckFunc) {
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(hc.wrap(name, check), defaultCheckTimeout))
}

// AddProvider 添加服务商域名检查，在后台按 interval 周期执行直到 ctx 结束
func (hc *HealthChecker) AddProvider(ctx context.Context, verifier DomainVerifier, interval time.Duration) {
	check := func(ctx context.Context) error {
		active, err := verifier.VerifyDomain(ctx)
		if err != nil {
			return err
		}
		if !active {
			return ErrDomainInactive
		}
		return nil
	}
	hc.health.AddReadinessCheck("provider", healthcheck.AsyncWithContext(ctx, hc.wrap("provider", check), interval))
}

func (hc *HealthChecker) wrap(name string, check CheckFunc) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCheckTimeout)
		defer cancel()

		if err := check(ctx); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

// LiveEndpoint 存活检查处理器
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查处理器
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// Handler 返回健康检查处理器（挂载 /live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}
