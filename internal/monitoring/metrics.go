package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 命令处理结果
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid_input"
	OutcomeIgnored     = "ignored"
)

// Metrics 监控指标
//
// 所有指标注册在独立的 Registry 上，便于测试中多次创建。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标（运维接口）
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Bot 命令指标
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	UpdatesDropped  prometheus.Counter

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	MailboxesEvicted prometheus.Counter
	MailboxesDeleted prometheus.Counter

	// 用户指标
	UsersRegistered prometheus.Counter

	// 错误指标
	ProviderErrors *prometheus.CounterVec
	PanicsTotal    prometheus.Counter

	// 限流指标
	RateLimitBlocks prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_bot_commands_total",
				Help: "Total number of handled bot commands",
			},
			[]string{"command", "outcome"},
		),

		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_bot_command_duration_seconds",
				Help:    "Bot command handling duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"command"},
		),

		UpdatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_bot_updates_dropped_total",
			Help: "Total number of updates that could not be dispatched",
		}),

		MailboxesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_created_total",
			Help: "Total number of mailboxes created",
		}),

		MailboxesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_evicted_total",
			Help: "Total number of mailboxes evicted by the per-user limit",
		}),

		MailboxesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_deleted_total",
			Help: "Total number of mailboxes deleted by users",
		}),

		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_users_registered_total",
			Help: "Total number of users registered",
		}),

		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_provider_errors_total",
				Help: "Total number of failed address provider calls",
			},
			[]string{"op"},
		),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_panics_total",
			Help: "Total number of recovered panics",
		}),

		RateLimitBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_rate_limit_blocks_total",
			Help: "Total number of commands rejected by the per-user rate limit",
		}),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCommand 记录命令处理结果与耗时
func (m *Metrics) RecordCommand(command, outcome string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordUpdateDropped 记录未能分发的更新
func (m *Metrics) RecordUpdateDropped() {
	m.UpdatesDropped.Inc()
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	m.MailboxesCreated.Inc()
}

// RecordMailboxEvicted 记录邮箱因配额被淘汰
func (m *Metrics) RecordMailboxEvicted() {
	m.MailboxesEvicted.Inc()
}

// RecordMailboxDeleted 记录邮箱删除
func (m *Metrics) RecordMailboxDeleted() {
	m.MailboxesDeleted.Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordProviderError 记录服务商调用失败
func (m *Metrics) RecordProviderError(op string) {
	m.ProviderErrors.WithLabelValues(op).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录被限流的命令
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocks.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
