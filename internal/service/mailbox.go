package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/bot/internal/config"
	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/mailgun"
	"tempmail/bot/internal/storage"
)

// ErrProviderUnavailable 服务商未能生成新地址
var ErrProviderUnavailable = errors.New("address provider unavailable")

// Provider 是邮箱地址服务商
type Provider interface {
	CreateAddress(ctx context.Context) (mailgun.Address, error)
	DeleteAddress(ctx context.Context, email string) error
}

// Observer 接收邮箱生命周期事件（用于指标统计）
type Observer interface {
	RecordMailboxCreated()
	RecordMailboxEvicted()
	RecordMailboxDeleted()
	RecordProviderError(op string)
}

type nopObserver struct{}

func (nopObserver) RecordMailboxCreated()      {}
func (nopObserver) RecordMailboxEvicted()      {}
func (nopObserver) RecordMailboxDeleted()      {}
func (nopObserver) RecordProviderError(string) {}

// NewMailboxResult 是一次创建请求的结果
type NewMailboxResult struct {
	Mailbox *domain.Mailbox // 创建失败时为 nil
	Evicted *domain.Mailbox // 因配额被淘汰的邮箱，没有时为 nil
	Count   int             // 创建后的邮箱数量，最大为 Limit
	Limit   int
}

// MailboxService 封装邮箱配额与生命周期相关业务操作。
//
// 同一用户的并发创建请求不做互斥：两个请求可能同时看到 limit-1 个邮箱并都创建成功，
// 使数量暂时超过上限一个，之后的创建每次最多淘汰一个。
type MailboxService struct {
	store     storage.Store
	provider  Provider
	limit     int
	listLimit int
	observer  Observer
	log       *zap.Logger
	now       func() time.Time
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store storage.Store, provider Provider, cfg config.MailboxConfig, log *zap.Logger) *MailboxService {
	limit := cfg.MaxPerUser
	if limit <= 0 {
		limit = domain.DefaultMaxMailboxesPerUser
	}
	listLimit := cfg.HistoryLimit
	if listLimit <= 0 {
		listLimit = domain.DefaultListLimit
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &MailboxService{
		store:     store,
		provider:  provider,
		limit:     limit,
		listLimit: listLimit,
		observer:  nopObserver{},
		log:       log.Named("mailbox"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetObserver 设置事件观察者
func (s *MailboxService) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// Limit 返回单用户邮箱上限
func (s *MailboxService) Limit() int {
	return s.limit
}

// ========== 用户 ==========

// Register 确保用户存在，返回用户以及是否为本次新建
func (s *MailboxService) Register(ctx context.Context, ref domain.UserRef) (*domain.User, bool, error) {
	var (
		user    *domain.User
		created bool
	)
	err := s.withUserTx(ctx, ref, func(_ storage.Repository, u *domain.User, isNew bool) error {
		user, created = u, isNew
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("register user: %w", err)
	}
	if created {
		s.log.Info("user registered", zap.Int64("user_id", ref.ID), zap.String("username", user.DisplayName()))
	}
	return user, created, nil
}

// withUserTx 在事务中确保用户存在（不存在则创建，用户名变化则更新）后执行 fn
//
// 两个请求同时首次创建同一用户时，后提交的一方会得到 ErrUserExists，此时整体重试一次。
func (s *MailboxService) withUserTx(ctx context.Context, ref domain.UserRef, fn func(repo storage.Repository, user *domain.User, created bool) error) error {
	attempt := func() error {
		return s.store.WithTx(ctx, func(repo storage.Repository) error {
			user, created, err := s.ensureUser(ctx, repo, ref)
			if err != nil {
				return err
			}
			return fn(repo, user, created)
		})
	}

	err := attempt()
	if errors.Is(err, storage.ErrUserExists) {
		err = attempt()
	}
	return err
}

func (s *MailboxService) ensureUser(ctx context.Context, repo storage.Repository, ref domain.UserRef) (*domain.User, bool, error) {
	user, err := repo.GetUser(ctx, ref.ID)
	switch {
	case err == nil:
		if !domain.SameUsername(user.Username, ref.Username) {
			if err := repo.UpdateUsername(ctx, ref.ID, ref.UsernamePtr()); err != nil {
				return nil, false, fmt.Errorf("update username: %w", err)
			}
			user.Username = ref.UsernamePtr()
		}
		return user, false, nil
	case errors.Is(err, storage.ErrUserNotFound):
		user = &domain.User{
			TelegramID: ref.ID,
			Username:   ref.UsernamePtr(),
			CreatedAt:  s.now(),
		}
		if err := repo.CreateUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("create user: %w", err)
		}
		return user, true, nil
	default:
		return nil, false, fmt.Errorf("get user: %w", err)
	}
}

// ========== 创建 ==========

// NewMailbox 为用户创建一个新邮箱，必要时淘汰最早的一个
//
// 分两个事务执行：
//  1. 确保用户存在并统计邮箱数；达到上限时淘汰最早的邮箱（服务商删除失败只记录日志），提交。
//  2. 向服务商申请地址后写入新邮箱。
//
// 第 1 步提交后服务商申请失败时，淘汰不会回滚：返回 ErrProviderUnavailable，
// 同时返回的结果中 Evicted 记录了已被淘汰的邮箱。
// 写入失败（地址冲突除外）时尝试在服务商处删除刚生成的地址。
func (s *MailboxService) NewMailbox(ctx context.Context, ref domain.UserRef) (*NewMailboxResult, error) {
	var (
		count   int
		evicted *domain.Mailbox
	)
	err := s.withUserTx(ctx, ref, func(repo storage.Repository, _ *domain.User, _ bool) error {
		evicted = nil

		c, err := repo.CountMailboxes(ctx, ref.ID)
		if err != nil {
			return fmt.Errorf("count mailboxes: %w", err)
		}
		count = c
		if c < s.limit {
			return nil
		}

		oldest, err := repo.OldestMailbox(ctx, ref.ID)
		if err != nil {
			return fmt.Errorf("find oldest mailbox: %w", err)
		}
		s.deleteFromProvider(ctx, oldest.Email)
		if err := repo.DeleteMailbox(ctx, oldest.ID); err != nil && !errors.Is(err, storage.ErrMailboxNotFound) {
			return fmt.Errorf("evict mailbox: %w", err)
		}
		evicted = oldest
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prepare mailbox quota: %w", err)
	}

	result := &NewMailboxResult{
		Evicted: evicted,
		Count:   min(count+1, s.limit),
		Limit:   s.limit,
	}
	if evicted != nil {
		s.observer.RecordMailboxEvicted()
		s.log.Info("mailbox evicted",
			zap.Int64("user_id", ref.ID),
			zap.String("email", evicted.Email),
			zap.Int("count", count),
		)
	}

	addr, err := s.provider.CreateAddress(ctx)
	if err != nil {
		s.observer.RecordProviderError("create")
		s.log.Error("failed to create address", zap.Int64("user_id", ref.ID), zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	mailbox := &domain.Mailbox{
		UserID:    ref.ID,
		Email:     addr.Email,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	err = s.store.WithTx(ctx, func(repo storage.Repository) error {
		return repo.CreateMailbox(ctx, mailbox)
	})
	if err != nil {
		s.log.Error("failed to save mailbox",
			zap.Int64("user_id", ref.ID),
			zap.String("email", addr.Email),
			zap.Error(err),
		)
		// 地址冲突说明该地址属于另一条记录，不能删除它的路由
		if !errors.Is(err, storage.ErrEmailExists) {
			s.deleteFromProvider(context.WithoutCancel(ctx), addr.Email)
		}
		return result, fmt.Errorf("save mailbox: %w", err)
	}

	result.Mailbox = mailbox
	s.observer.RecordMailboxCreated()
	s.log.Info("mailbox created",
		zap.Int64("user_id", ref.ID),
		zap.String("email", mailbox.Email),
		zap.Int("count", result.Count),
	)
	return result, nil
}

// ========== 查询 ==========

// ListMailboxes 按创建时间倒序列出用户的全部邮箱；没有邮箱时返回空切片
func (s *MailboxService) ListMailboxes(ctx context.Context, userID int64) ([]domain.Mailbox, error) {
	return s.list(ctx, userID, false)
}

// DeletionCandidates 列出可删除的（有效的）邮箱，顺序与展示一致
func (s *MailboxService) DeletionCandidates(ctx context.Context, userID int64) ([]domain.Mailbox, error) {
	return s.list(ctx, userID, true)
}

func (s *MailboxService) list(ctx context.Context, userID int64, activeOnly bool) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.store.WithTx(ctx, func(repo storage.Repository) error {
		var err error
		mailboxes, err = repo.ListMailboxes(ctx, userID, activeOnly, s.listLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	if mailboxes == nil {
		mailboxes = []domain.Mailbox{}
	}
	return mailboxes, nil
}

// ========== 删除 ==========

// DeleteMailbox 删除属于用户的邮箱；服务商删除失败只记录日志
func (s *MailboxService) DeleteMailbox(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error) {
	var deleted *domain.Mailbox
	err := s.store.WithTx(ctx, func(repo storage.Repository) error {
		mailbox, err := repo.GetMailbox(ctx, mailboxID, userID)
		if err != nil {
			return err
		}
		s.deleteFromProvider(ctx, mailbox.Email)
		if err := repo.DeleteMailbox(ctx, mailbox.ID); err != nil {
			return err
		}
		deleted = mailbox
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete mailbox: %w", err)
	}

	s.observer.RecordMailboxDeleted()
	s.log.Info("mailbox deleted", zap.Int64("user_id", userID), zap.String("email", deleted.Email))
	return deleted, nil
}

// DeleteSelected 按用户输入从展示列表中选中邮箱并删除
//
// selector 为 1 起始的序号或大小写不敏感的完整地址；无法解析时返回
// domain.ErrInvalidSelection 且不做任何修改。
func (s *MailboxService) DeleteSelected(ctx context.Context, userID int64, displayed []domain.MailboxRef, selector string) (*domain.Mailbox, error) {
	ref, err := domain.ResolveSelection(displayed, selector)
	if err != nil {
		return nil, err
	}
	return s.DeleteMailbox(ctx, userID, ref.ID)
}

func (s *MailboxService) deleteFromProvider(ctx context.Context, email string) {
	if err := s.provider.DeleteAddress(ctx, email); err != nil {
		s.observer.RecordProviderError("delete")
		s.log.Warn("failed to delete address from provider", zap.String("email", email), zap.Error(err))
	}
}
