package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/service"
	"tempmail/bot/internal/session"
	"tempmail/bot/internal/storage"
)

// 支持的命令
const (
	CommandStart      = "start"
	CommandNewMail    = "newmail"
	CommandHistory    = "history"
	CommandDeleteMail = "deletemail"
	CommandCancel     = "cancel"

	// commandSelection 删除对话中用户回复的序号或地址
	commandSelection = "selection"
	commandUnknown   = "unknown"
)

// Sender 是 Telegram Bot API 的发送端，*tgbotapi.BotAPI 满足该接口
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Mailboxes 是命令层依赖的邮箱业务操作，由 *service.MailboxService 实现
type Mailboxes interface {
	Register(ctx context.Context, ref domain.UserRef) (*domain.User, bool, error)
	NewMailbox(ctx context.Context, ref domain.UserRef) (*service.NewMailboxResult, error)
	ListMailboxes(ctx context.Context, userID int64) ([]domain.Mailbox, error)
	DeletionCandidates(ctx context.Context, userID int64) ([]domain.Mailbox, error)
	DeleteSelected(ctx context.Context, userID int64, displayed []domain.MailboxRef, selector string) (*domain.Mailbox, error)
	Limit() int
}

// Limiter 按用户限制命令频率
type Limiter interface {
	Allow(userID int64) bool
}

// Recorder 记录命令相关指标，由 *monitoring.Metrics 实现
type Recorder interface {
	RecordCommand(command, outcome string, duration time.Duration)
	RecordUserRegistered()
	RecordRateLimitBlock()
	RecordPanic()
}

type nopRecorder struct{}

func (nopRecorder) RecordCommand(string, string, time.Duration) {}
func (nopRecorder) RecordUserRegistered()                       {}
func (nopRecorder) RecordRateLimitBlock()                       {}
func (nopRecorder) RecordPanic()                                {}

type allowAll struct{}

func (allowAll) Allow(int64) bool { return true }

// HandlerDependencies 命令处理器依赖
type HandlerDependencies struct {
	Sender    Sender
	Mailboxes Mailboxes
	Sessions  session.Store
	Limiter   Limiter  // 可选，为空时不限流
	Recorder  Recorder // 可选
	Logger    *zap.Logger
}

// Handler 把 Telegram 更新分发到各命令
//
// 删除对话的状态（最近展示的列表）保存在会话存储中，因此处理器本身无状态，
// 可以被多个工作协程并发调用。
type Handler struct {
	sender    Sender
	mailboxes Mailboxes
	sessions  session.Store
	limiter   Limiter
	recorder  Recorder
	log       *zap.Logger
}

// NewHandler 创建命令处理器
func NewHandler(deps HandlerDependencies) *Handler {
	h := &Handler{
		sender:    deps.Sender,
		mailboxes: deps.Mailboxes,
		sessions:  deps.Sessions,
		limiter:   deps.Limiter,
		recorder:  deps.Recorder,
		log:       deps.Logger,
	}
	if h.limiter == nil {
		h.limiter = allowAll{}
	}
	if h.recorder == nil {
		h.recorder = nopRecorder{}
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.log = h.log.Named("bot")
	return h
}

// request 是单条消息的处理上下文
type request struct {
	chatID int64
	user   domain.UserRef
	text   string
	log    *zap.Logger
}

// HandleUpdate 处理一条更新；只处理来自用户的文本消息
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	// 贴纸、图片等非文本消息不参与任何命令
	if msg.Text == "" {
		return
	}

	req := &request{
		chatID: msg.Chat.ID,
		user:   domain.UserRef{ID: msg.From.ID, Username: msg.From.UserName},
		text:   msg.Text,
	}
	req.log = h.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.Int("update_id", update.UpdateID),
		zap.Int64("user_id", req.user.ID),
	)

	command := commandSelection
	if msg.IsCommand() {
		command = strings.ToLower(msg.Command())
	}

	start := time.Now()
	outcome := monitoring.OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			h.recorder.RecordPanic()
			req.log.Error("panic while handling update", zap.Any("panic", r), zap.Stack("stack"))
			h.reply(req, msgGenericError, false)
			outcome = monitoring.OutcomeError
		}
		h.recorder.RecordCommand(metricName(command), outcome, time.Since(start))
	}()

	if !h.limiter.Allow(req.user.ID) {
		h.recorder.RecordRateLimitBlock()
		req.log.Debug("command rate limited", zap.String("command", command))
		h.reply(req, msgRateLimited, false)
		outcome = monitoring.OutcomeRateLimited
		return
	}

	req.log.Debug("handling command", zap.String("command", command))

	switch command {
	case CommandStart:
		outcome = h.handleStart(ctx, req)
	case CommandNewMail:
		outcome = h.handleNewMail(ctx, req)
	case CommandHistory:
		outcome = h.handleHistory(ctx, req)
	case CommandDeleteMail:
		outcome = h.handleDeleteMail(ctx, req)
	case CommandCancel:
		outcome = h.handleCancel(ctx, req)
	case commandSelection:
		outcome = h.handleSelection(ctx, req)
	default:
		h.reply(req, msgUnknownCommand, false)
		outcome = monitoring.OutcomeInvalid
	}
}

// metricName 未知命令统一归为一个标签值，避免指标基数失控
func metricName(command string) string {
	switch command {
	case CommandStart, CommandNewMail, CommandHistory, CommandDeleteMail, CommandCancel, commandSelection:
		return command
	default:
		return commandUnknown
	}
}

// ========== 命令 ==========

func (h *Handler) handleStart(ctx context.Context, req *request) string {
	_, created, err := h.mailboxes.Register(ctx, req.user)
	if err != nil {
		req.log.Error("failed to register user", zap.Error(err))
		h.reply(req, msgGenericError, false)
		return monitoring.OutcomeError
	}
	if created {
		h.recorder.RecordUserRegistered()
	}

	h.reply(req, welcomeMessage(h.mailboxes.Limit()), true)
	return monitoring.OutcomeOK
}

func (h *Handler) handleNewMail(ctx context.Context, req *request) string {
	if _, err := h.sender.Request(tgbotapi.NewChatAction(req.chatID, tgbotapi.ChatTyping)); err != nil {
		req.log.Debug("failed to send chat action", zap.Error(err))
	}

	result, err := h.mailboxes.NewMailbox(ctx, req.user)
	if result != nil && result.Evicted != nil {
		h.reply(req, evictionMessage(result.Evicted.Email, result.Limit), true)
	}
	if err != nil {
		req.log.Error("failed to create mailbox", zap.Error(err))
		if errors.Is(err, service.ErrProviderUnavailable) {
			h.reply(req, msgProviderError, false)
		} else {
			h.reply(req, msgGenericError, false)
		}
		return monitoring.OutcomeError
	}

	h.reply(req, newMailboxMessage(result.Mailbox.Email, result.Count, result.Limit), true)
	return monitoring.OutcomeOK
}

func (h *Handler) handleHistory(ctx context.Context, req *request) string {
	mailboxes, err := h.mailboxes.ListMailboxes(ctx, req.user.ID)
	if err != nil {
		req.log.Error("failed to list mailboxes", zap.Error(err))
		h.reply(req, msgGenericError, false)
		return monitoring.OutcomeError
	}
	if len(mailboxes) == 0 {
		h.reply(req, msgNoHistory, true)
		return monitoring.OutcomeOK
	}

	for _, page := range historyMessages(mailboxes) {
		h.reply(req, page, true)
	}
	return monitoring.OutcomeOK
}

// handleDeleteMail 展示可删除的邮箱并进入等待选择状态
func (h *Handler) handleDeleteMail(ctx context.Context, req *request) string {
	candidates, err := h.mailboxes.DeletionCandidates(ctx, req.user.ID)
	if err != nil {
		req.log.Error("failed to list deletion candidates", zap.Error(err))
		h.reply(req, msgGenericError, false)
		return monitoring.OutcomeError
	}
	if len(candidates) == 0 {
		h.clearSession(ctx, req)
		h.reply(req, msgNothingToDelete, true)
		return monitoring.OutcomeOK
	}

	refs := domain.Refs(candidates)
	if err := h.sessions.Save(ctx, req.user.ID, refs); err != nil {
		req.log.Error("failed to save session", zap.Error(err))
		h.reply(req, msgGenericError, false)
		return monitoring.OutcomeError
	}

	for _, text := range deletePromptMessages(refs) {
		h.reply(req, text, true)
	}
	return monitoring.OutcomeOK
}

// handleSelection 处理删除对话中的回复；没有进行中的对话时忽略普通文本
func (h *Handler) handleSelection(ctx context.Context, req *request) string {
	displayed, err := h.sessions.Load(ctx, req.user.ID)
	if errors.Is(err, session.ErrNotFound) {
		req.log.Debug("ignoring text outside deletion conversation")
		return monitoring.OutcomeIgnored
	}
	if err != nil {
		req.log.Error("failed to load session", zap.Error(err))
		h.reply(req, msgGenericError, false)
		return monitoring.OutcomeError
	}
	// 对话仍在但列表已丢失
	if len(displayed) == 0 {
		h.clearSession(ctx, req)
		h.reply(req, msgSessionExpired, false)
		return monitoring.OutcomeInvalid
	}

	deleted, err := h.mailboxes.DeleteSelected(ctx, req.user.ID, displayed, req.text)
	switch {
	case err == nil:
		h.clearSession(ctx, req)
		h.reply(req, deletedMessage(deleted.Email), true)
		return monitoring.OutcomeOK
	case errors.Is(err, domain.ErrInvalidSelection):
		h.reply(req, msgInvalidSelection, true)
		return monitoring.OutcomeInvalid
	case errors.Is(err, storage.ErrMailboxNotFound):
		h.clearSession(ctx, req)
		h.reply(req, msgNotFound, false)
		return monitoring.OutcomeInvalid
	default:
		req.log.Error("failed to delete mailbox", zap.Error(err))
		h.clearSession(ctx, req)
		h.reply(req, msgDeleteError, false)
		return monitoring.OutcomeError
	}
}

func (h *Handler) handleCancel(ctx context.Context, req *request) string {
	h.clearSession(ctx, req)
	h.reply(req, msgCancelled, false)
	return monitoring.OutcomeOK
}

// ========== 辅助函数 ==========

func (h *Handler) clearSession(ctx context.Context, req *request) {
	if err := h.sessions.Clear(ctx, req.user.ID); err != nil {
		req.log.Warn("failed to clear session", zap.Error(err))
	}
}

func (h *Handler) reply(req *request, text string, markdown bool) {
	msg := tgbotapi.NewMessage(req.chatID, text)
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := h.sender.Send(msg); err != nil {
		req.log.Warn("failed to send message", zap.Error(err))
	}
}
