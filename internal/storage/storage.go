package storage

import (
	"context"
	"errors"

	"tempmail/bot/internal/domain"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 用户已存在（并发首次交互时可能出现）
	ErrUserExists = errors.New("user already exists")
	// ErrMailboxNotFound 邮箱不存在或不属于该用户
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrEmailExists 邮箱地址违反全局唯一约束
	ErrEmailExists = errors.New("email already exists")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	GetUser(ctx context.Context, telegramID int64) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	UpdateUsername(ctx context.Context, telegramID int64, username *string) error
	// DeleteUser 删除用户并级联删除其邮箱；命令流程不会调用
	DeleteUser(ctx context.Context, telegramID int64) error
}

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	// ListMailboxes 按创建时间倒序返回用户的邮箱，最多 limit 条
	ListMailboxes(ctx context.Context, userID int64, activeOnly bool, limit int) ([]domain.Mailbox, error)
	// OldestMailbox 返回用户最早创建的邮箱
	OldestMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error)
	GetMailbox(ctx context.Context, id, userID int64) (*domain.Mailbox, error)
	CountMailboxes(ctx context.Context, userID int64) (int, error)
	// CreateMailbox 写入新邮箱并回填 ID；地址冲突返回 ErrEmailExists
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	DeleteMailbox(ctx context.Context, id int64) error
}

// Repository 是单个事务内可用的全部操作
type Repository interface {
	UserRepository
	MailboxRepository
}

// Store 定义完整的存储接口。
type Store interface {
	// WithTx 在一个事务中执行 fn：返回 nil 时提交，返回错误或 panic 时回滚
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Health(ctx context.Context) error
	Close() error
}
