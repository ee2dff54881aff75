package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"tempmail/bot/internal/domain"
)

const (
	// maxMessageRunes 单条消息的长度上限（Telegram 限制为 4096）
	maxMessageRunes = 4000
	// historyPageSize 历史记录分页时每页条数
	historyPageSize = 20

	separator = "━━━━━━━━━━━━━━━━━━━━━━\n"
)

// 固定回复
const (
	msgGenericError   = "❌ An error occurred. Please try again later."
	msgProviderError  = "❌ Failed to generate email. Please try again later."
	msgDeleteError    = "❌ An error occurred during deletion. Please try again."
	msgRateLimited    = "⏳ Too many requests. Please wait a moment and try again."
	msgSessionExpired = "❌ Session expired. Please use /deletemail again."
	msgNotFound       = "❌ Email not found or already deleted."
	msgCancelled      = "❌ Deletion cancelled."
	msgUnknownCommand = "🤔 Unknown command. Send /start to see available commands."

	msgInvalidSelection = "❌ *Invalid selection*\n\n" +
		"Please reply with a valid number or email address.\n" +
		"Use /cancel to abort."

	msgNoHistory = "📭 *No emails found*\n\n" +
		"Use /newmail to create your first temporary email!"

	msgNothingToDelete = "📭 *No emails to delete*\n\n" +
		"Use /newmail to create an email first!"
)

func welcomeMessage(limit int) string {
	return fmt.Sprintf(`🌟 *Welcome to Temp Mail Bot!* 🌟

Generate temporary email addresses instantly. Perfect for:
• Signing up for services without spam
• Protecting your real email
• One-time verifications

📋 *Available Commands:*

/newmail - Generate a new temporary email
/history - View your last %[1]d emails
/deletemail - Delete an email address
/start - Show this help message

%[2]s💡 *Tips:*
• You can have up to %[1]d active emails
• Oldest emails are auto-deleted when limit is reached
• Emails are unique and instantly active

Start by using /newmail to create your first email!`, limit, separator)
}

func newMailboxMessage(email string, count, limit int) string {
	return fmt.Sprintf("✅ *New Email Created!*\n\n📧 `%s`\n\n_Tap to copy_\n\n📊 You have %d/%d emails", email, count, limit)
}

func evictionMessage(email string, limit int) string {
	return fmt.Sprintf("⚠️ *Mail limit reached (%d)*\n\nAuto-deleted oldest email:\n`%s`", limit, email)
}

func deletedMessage(email string) string {
	return fmt.Sprintf("✅ *Email Deleted Successfully!*\n\n🗑️ `%s`\n\nThis email will no longer receive messages.", email)
}

func historyEntry(idx int, m domain.Mailbox) string {
	status, statusText := "🟢", "Active"
	if !m.IsActive {
		status, statusText = "🔴", "Inactive"
	}
	return fmt.Sprintf("%d. %s `%s`\n   _%s • %s_\n\n", idx, status, m.Email, statusText, m.CreatedAt.UTC().Format("2006-01-02 15:04"))
}

// historyMessages 生成历史记录消息；超过长度上限时按每页 20 条分页
func historyMessages(mailboxes []domain.Mailbox) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Your Email History* (%d emails)\n", len(mailboxes))
	b.WriteString(separator)
	for i, m := range mailboxes {
		b.WriteString(historyEntry(i+1, m))
	}
	b.WriteString(separator)
	b.WriteString("💡 Use /deletemail to remove an email")

	full := b.String()
	if utf8.RuneCountInString(full) <= maxMessageRunes {
		return []string{full}
	}

	totalPages := (len(mailboxes) + historyPageSize - 1) / historyPageSize
	pages := make([]string, 0, totalPages)
	for page := 0; page < totalPages; page++ {
		start := page * historyPageSize
		end := min(start+historyPageSize, len(mailboxes))

		var p strings.Builder
		fmt.Fprintf(&p, "📋 *Email History* (Page %d/%d)\n", page+1, totalPages)
		p.WriteString(separator)
		for i := start; i < end; i++ {
			p.WriteString(historyEntry(i+1, mailboxes[i]))
		}
		pages = append(pages, p.String())
	}
	return pages
}

// deletePromptMessages 生成删除选择列表，超过长度上限时拆分为多条消息
func deletePromptMessages(refs []domain.MailboxRef) []string {
	lines := make([]string, 0, len(refs)+3)
	lines = append(lines, "🗑️ *Select Email to Delete*\n"+separator+"\nReply with the *number* or *email address*:\n\n")
	for i, ref := range refs {
		lines = append(lines, fmt.Sprintf("%d. `%s`\n", i+1, ref.Email))
	}
	lines = append(lines, "\n"+separator+"💡 Send /cancel to abort")
	return packLines(lines, maxMessageRunes)
}

// packLines 将多行文本依次装入长度不超过 limit 的消息
func packLines(lines []string, limit int) []string {
	var (
		messages []string
		current  strings.Builder
		size     int
	)
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		if size > 0 && size+n > limit {
			messages = append(messages, current.String())
			current.Reset()
			size = 0
		}
		current.WriteString(line)
		size += n
	}
	if size > 0 {
		messages = append(messages, current.String())
	}
	return messages
}
