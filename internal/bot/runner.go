package bot

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tempmail/bot/internal/config"
	"tempmail/bot/internal/pool"
)

const defaultCommandTimeout = 90 * time.Second

// ErrUpdatesClosed 更新通道在停止前被关闭
var ErrUpdatesClosed = errors.New("update channel closed")

// UpdateSource 提供长轮询得到的更新，*tgbotapi.BotAPI 满足该接口
type UpdateSource interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// DropRecorder 记录因停机未能处理的更新
type DropRecorder interface {
	RecordUpdateDropped()
}

// Runner 拉取更新并交给协程池处理
type Runner struct {
	source  UpdateSource
	handler *Handler
	pool    *pool.WorkerPool
	cfg     config.TelegramConfig
	drops   DropRecorder
	log     *zap.Logger
}

// NewRunner 创建更新分发器
func NewRunner(source UpdateSource, handler *Handler, cfg config.TelegramConfig, drops DropRecorder, log *zap.Logger) *Runner {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("runner")
	return &Runner{
		source:  source,
		handler: handler,
		pool:    pool.NewWorkerPool(cfg.Workers, cfg.QueueSize, log),
		cfg:     cfg,
		drops:   drops,
		log:     log,
	}
}

// Run 持续分发更新直到 ctx 结束
//
// 停止时不再接收新更新，已排队和正在执行的命令在各自的超时内执行完毕后返回。
// 更新通道意外关闭时返回 ErrUpdatesClosed，使同组的其他服务一起退出。
func (r *Runner) Run(ctx context.Context) error {
	// 工作协程不随 ctx 退出，由 Stop 关闭队列后排空
	r.pool.Start(context.WithoutCancel(ctx))
	defer r.pool.Stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = r.cfg.PollTimeout
	updates := r.source.GetUpdatesChan(u)
	defer r.source.StopReceivingUpdates()

	r.log.Info("bot started polling",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("poll_timeout", r.cfg.PollTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("bot stopping")
			return nil
		case update, ok := <-updates:
			if !ok {
				r.log.Warn("update channel closed")
				return ErrUpdatesClosed
			}
			r.dispatch(ctx, update)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, update tgbotapi.Update) {
	err := r.pool.Submit(ctx, func() {
		cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CommandTimeout)
		defer cancel()
		r.handler.HandleUpdate(cmdCtx, update)
	})
	if err != nil {
		if r.drops != nil {
			r.drops.RecordUpdateDropped()
		}
		r.log.Warn("update dropped", zap.Int("update_id", update.UpdateID), zap.Error(err))
	}
}
