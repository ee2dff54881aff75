package domain

import (
	"time"
)

// 配额相关常量
const (
	// DefaultMaxMailboxesPerUser 单个用户最多持有的邮箱数量
	DefaultMaxMailboxesPerUser = 100
	// DefaultListLimit 列表类查询的返回上限
	DefaultListLimit = 100
)

// Mailbox 表示用户持有的一次性邮箱地址
//
// Email 全局唯一（跨用户）。IsActive 创建时为 true，目前没有任何操作会清除它；
// 删除邮箱即删除记录，不做软删除。
type Mailbox struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;index:ix_mails_user_created,priority:1"`
	Email     string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:ix_mails_user_created,priority:2"`
}

// TableName 返回邮箱表名
func (Mailbox) TableName() string {
	return "mails"
}

// Ref 返回邮箱的引用（用于删除对话中的展示列表）
func (m Mailbox) Ref() MailboxRef {
	return MailboxRef{ID: m.ID, Email: m.Email}
}

// MailboxRef 是展示给用户的邮箱条目快照
type MailboxRef struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Refs 将邮箱列表转换为引用列表，顺序保持不变
func Refs(mailboxes []Mailbox) []MailboxRef {
	refs := make([]MailboxRef, 0, len(mailboxes))
	for _, m := range mailboxes {
		refs = append(refs, m.Ref())
	}
	return refs
}
