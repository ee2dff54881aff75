package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingSetting 必需配置缺失，属于启动期致命错误
var ErrMissingSetting = errors.New("missing required setting")

// TelegramConfig 定义 Telegram Bot 的接入配置
type TelegramConfig struct {
	Token          string        // Bot API 令牌
	PollTimeout    int           // 长轮询超时时间（秒），默认 60
	Workers        int           // 并发处理更新的协程数，默认 8
	QueueSize      int           // 待处理更新队列长度，默认 256
	CommandTimeout time.Duration // 单条命令的处理超时，默认 90 秒
	Debug          bool          // 是否打印 Bot API 调试日志
}

// MailgunConfig 定义邮件路由服务商（Mailgun 兼容接口）的配置
type MailgunConfig struct {
	APIKey     string        // API 密钥，使用 "api:<key>" 基本认证
	Domain     string        // 邮箱地址使用的域名
	APIBase    string        // API 基地址，默认 https://api.mailgun.net/v3
	ForwardURL string        // 转发目标，为空时不注册路由
	Timeout    time.Duration // 单次调用超时，默认 30 秒
}

// MailboxConfig 定义每个用户的邮箱配额
type MailboxConfig struct {
	MaxPerUser   int // 单个用户最多持有的邮箱数量，默认 100
	HistoryLimit int // 列表展示的最大条数，默认 100
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string // 数据库类型: "mysql" 或 "postgres"，为空时使用内存存储
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool // 启动时执行 GORM AutoMigrate
}

// RedisConfig 定义 Redis 配置，用于保存会话状态
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// SessionConfig 定义删除对话等会话状态的保存时长
type SessionConfig struct {
	TTL time.Duration
}

// RateLimitConfig 定义单用户命令限流
type RateLimitConfig struct {
	PerMinute int // 每分钟允许的命令数，<=0 表示不限流
	Burst     int
}

// ServerConfig 定义运维 HTTP 服务（健康检查、指标）的监听配置
type ServerConfig struct {
	Host string
	Port int
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string
	Development bool
	File        string // 日志文件路径，为空时只输出到控制台
}

// Config 是系统配置的根结构体，加载后不可变，按值传入各组件
type Config struct {
	Telegram  TelegramConfig
	Mailgun   MailgunConfig
	Mailbox   MailboxConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Server    ServerConfig
	Log       LogConfig
}

// legacyEnv 旧版部署使用的环境变量名，作为 TEMPMAIL_ 前缀变量的后备
var legacyEnv = map[string]string{
	"telegram.token":      "TELEGRAM_BOT_TOKEN",
	"mailgun.api_key":     "MAILGUN_API_KEY",
	"mailgun.domain":      "MAILGUN_DOMAIN",
	"mailgun.forward_url": "MAILGUN_WEBHOOK_URL",
	"database.dsn":        "DATABASE_URL",
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. TEMPMAIL_ 前缀的环境变量，例如 TEMPMAIL_MAILGUN_DOMAIN
//  2. 旧版环境变量名，例如 MAILGUN_DOMAIN
//  3. .env 文件（如果存在）
//  4. 默认值
//
// Load 只校验格式；必需项是否齐全由 Validate 负责。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := "TEMPMAIL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.workers", 8)
	v.SetDefault("telegram.queue_size", 256)
	v.SetDefault("telegram.command_timeout", "90s")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("mailgun.api_key", "")
	v.SetDefault("mailgun.domain", "")
	v.SetDefault("mailgun.api_base", "https://api.mailgun.net/v3")
	v.SetDefault("mailgun.forward_url", "")
	v.SetDefault("mailgun.timeout", "30s")
	v.SetDefault("mailbox.max_per_user", 100)
	v.SetDefault("mailbox.history_limit", 100)
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("ratelimit.per_minute", 20)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")

	commandTimeout, err := time.ParseDuration(v.GetString("telegram.command_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid telegram.command_timeout: %w", err)
	}

	providerTimeout, err := time.ParseDuration(v.GetString("mailgun.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailgun.timeout: %w", err)
	}
	if providerTimeout <= 0 {
		return nil, fmt.Errorf("mailgun.timeout must be positive")
	}

	sessionTTL, err := time.ParseDuration(v.GetString("session.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid session.ttl: %w", err)
	}
	if sessionTTL <= 0 {
		return nil, fmt.Errorf("session.ttl must be positive")
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	maxPerUser := v.GetInt("mailbox.max_per_user")
	if maxPerUser <= 0 {
		return nil, fmt.Errorf("mailbox.max_per_user must be positive")
	}

	historyLimit := v.GetInt("mailbox.history_limit")
	if historyLimit <= 0 {
		historyLimit = 100
	}

	workers := v.GetInt("telegram.workers")
	if workers <= 0 {
		workers = 8
	}

	dbType := strings.ToLower(strings.TrimSpace(v.GetString("database.type")))
	dsn := v.GetString("database.dsn")
	if dbType == "" && dsn != "" {
		// DATABASE_URL 单独提供时按 PostgreSQL 处理
		dbType = "postgres"
	}
	switch dbType {
	case "", "mysql", "postgres":
	case "postgresql":
		dbType = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: mysql, postgres)", dbType)
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:          strings.TrimSpace(v.GetString("telegram.token")),
			PollTimeout:    v.GetInt("telegram.poll_timeout"),
			Workers:        workers,
			QueueSize:      v.GetInt("telegram.queue_size"),
			CommandTimeout: commandTimeout,
			Debug:          v.GetBool("telegram.debug"),
		},
		Mailgun: MailgunConfig{
			APIKey:     strings.TrimSpace(v.GetString("mailgun.api_key")),
			Domain:     strings.ToLower(strings.TrimSpace(v.GetString("mailgun.domain"))),
			APIBase:    strings.TrimRight(v.GetString("mailgun.api_base"), "/"),
			ForwardURL: strings.TrimSpace(v.GetString("mailgun.forward_url")),
			Timeout:    providerTimeout,
		},
		Mailbox: MailboxConfig{
			MaxPerUser:   maxPerUser,
			HistoryLimit: historyLimit,
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             dsn,
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Session: SessionConfig{
			TTL: sessionTTL,
		},
		RateLimit: RateLimitConfig{
			PerMinute: v.GetInt("ratelimit.per_minute"),
			Burst:     v.GetInt("ratelimit.burst"),
		},
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
	}

	return cfg, nil
}

// Validate 检查启动所需的配置是否齐全
//
// 缺失项统一包装 ErrMissingSetting，调用方应拒绝启动。
func (c *Config) Validate() error {
	var missing []string
	if c.Telegram.Token == "" {
		missing = append(missing, "telegram.token (TEMPMAIL_TELEGRAM_TOKEN)")
	}
	if err := c.Mailgun.Validate(); err != nil {
		missing = append(missing, strings.TrimPrefix(err.Error(), ErrMissingSetting.Error()+": "))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}

// Validate 检查服务商凭据是否齐全
func (c MailgunConfig) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "mailgun.api_key (TEMPMAIL_MAILGUN_API_KEY)")
	}
	if c.Domain == "" {
		missing = append(missing, "mailgun.domain (TEMPMAIL_MAILGUN_DOMAIN)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}

// UsesDatabase 是否配置了关系型数据库
func (c DatabaseConfig) UsesDatabase() bool {
	return c.Type != "" && c.DSN != ""
}

// loadEnvFile 尝试加载 .env 文件
//
// 先尝试当前目录，再尝试父目录；文件不存在时静默忽略，
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
