package domain

import "time"

// User 表示使用 Bot 的 Telegram 用户
//
// TelegramID 由平台分配且不可变；用户在首次交互时惰性创建，
// 系统自身从不删除用户。删除用户时其邮箱级联删除。
type User struct {
	TelegramID int64     `gorm:"column:telegram_id;primaryKey;autoIncrement:false"`
	Username   *string   `gorm:"column:username;type:varchar(255)"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	Mailboxes  []Mailbox `gorm:"foreignKey:UserID;references:TelegramID;constraint:OnDelete:CASCADE"`
}

// TableName 返回用户表名
func (User) TableName() string {
	return "users"
}

// DisplayName 返回用于日志的用户名
func (u *User) DisplayName() string {
	if u.Username == nil || *u.Username == "" {
		return "-"
	}
	return *u.Username
}

// UserRef 描述一次命令中发起请求的平台用户
type UserRef struct {
	ID       int64
	Username string
}

// UsernamePtr 将空用户名转换为 nil，对应数据库中的 NULL
func (r UserRef) UsernamePtr() *string {
	if r.Username == "" {
		return nil
	}
	name := r.Username
	return &name
}

// SameUsername 判断存储的用户名是否与当前用户名一致
func SameUsername(stored *string, current string) bool {
	if stored == nil {
		return current == ""
	}
	return *stored == current
}
