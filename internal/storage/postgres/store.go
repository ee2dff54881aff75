package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempmail/bot/internal/config"
	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/storage"
)

// Store 基于 GORM 的关系型存储实现（PostgreSQL / MySQL）
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore 根据数据库配置创建存储实例
func NewStore(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	store, err := NewStoreWithDialector(dialector, log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.AutoMigrate {
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store.log.Info("database connected",
		zap.String("type", cfg.Type),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
	)
	return store, nil
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// 所有写操作都在 WithTx 中执行
		SkipDefaultTransaction: true,
		// 将唯一键、外键冲突翻译为 gorm.ErrDuplicatedKey / gorm.ErrForeignKeyViolated
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db, log: log.Named("storage")}, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		dsn, err := mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// mysqlDSN 确保 DATETIME 列被解析为 time.Time，并统一使用 UTC
func mysqlDSN(dsn string) (string, error) {
	parsed, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&domain.User{}, &domain.Mailbox{})
}

// WithTx 在数据库事务中执行 fn
func (s *Store) WithTx(ctx context.Context, fn func(repo storage.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// repository 绑定到单个事务
type repository struct {
	db *gorm.DB
}

// ========== User Repository ==========

// GetUser 根据 Telegram ID 获取用户
func (r *repository) GetUser(ctx context.Context, telegramID int64) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser 创建用户
func (r *repository) CreateUser(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Omit("Mailboxes").Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrUserExists
	}
	return err
}

// UpdateUsername 更新用户名（nil 表示清空）
func (r *repository) UpdateUsername(ctx context.Context, telegramID int64, username *string) error {
	return r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("telegram_id = ?", telegramID).
		Update("username", username).Error
}

// DeleteUser 删除用户，邮箱由外键级联删除
func (r *repository) DeleteUser(ctx context.Context, telegramID int64) error {
	result := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Delete(&domain.User{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// ========== Mailbox Repository ==========

// ListMailboxes 按创建时间倒序列出用户邮箱
func (r *repository) ListMailboxes(ctx context.Context, userID int64, activeOnly bool, limit int) ([]domain.Mailbox, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var mailboxes []domain.Mailbox
	if err := query.Order("created_at DESC, id DESC").Find(&mailboxes).Error; err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// OldestMailbox 返回用户最早创建的邮箱
func (r *repository) OldestMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Take(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// GetMailbox 获取属于指定用户的邮箱
func (r *repository) GetMailbox(ctx context.Context, id, userID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// CountMailboxes 统计用户邮箱数量
func (r *repository) CountMailboxes(ctx context.Context, userID int64) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Mailbox{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateMailbox 创建邮箱记录
func (r *repository) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	err := r.db.WithContext(ctx).Create(mailbox).Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.ErrEmailExists
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return storage.ErrUserNotFound
	}
	return err
}

// DeleteMailbox 删除邮箱记录
func (r *repository) DeleteMailbox(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Mailbox{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}
