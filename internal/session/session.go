// Package session 保存删除对话的中间状态：最近一次展示给用户的邮箱列表。
//
// 用户回复的序号按这份列表解析，而不是按回复时的数据库内容，
// 这样在列表展示之后新建或删除邮箱都不会改变序号的含义。
package session

import (
	"context"
	"errors"

	"tempmail/bot/internal/domain"
)

// ErrNotFound 会话不存在或已过期
var ErrNotFound = errors.New("session not found")

// Store 定义会话存储
type Store interface {
	// Save 保存用户的待选择列表并开启（或续期）会话
	Save(ctx context.Context, userID int64, displayed []domain.MailboxRef) error
	// Load 读取待选择列表；会话不存在时返回 ErrNotFound
	Load(ctx context.Context, userID int64) ([]domain.MailboxRef, error)
	// Clear 结束会话；会话不存在时不报错
	Clear(ctx context.Context, userID int64) error
}
