package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/storage"
)

func seedUser(t *testing.T, store *Store, id int64) {
	t.Helper()
	err := store.WithTx(context.Background(), func(repo storage.Repository) error {
		return repo.CreateUser(context.Background(), &domain.User{TelegramID: id})
	})
	require.NoError(t, err)
}

func addMailbox(t *testing.T, store *Store, userID int64, email string, createdAt time.Time) domain.Mailbox {
	t.Helper()
	m := domain.Mailbox{UserID: userID, Email: email, IsActive: true, CreatedAt: createdAt}
	err := store.WithTx(context.Background(), func(repo storage.Repository) error {
		return repo.CreateMailbox(context.Background(), &m)
	})
	require.NoError(t, err)
	return m
}

func listAll(t *testing.T, store *Store, userID int64) []domain.Mailbox {
	t.Helper()
	var out []domain.Mailbox
	err := store.WithTx(context.Background(), func(repo storage.Repository) error {
		var err error
		out, err = repo.ListMailboxes(context.Background(), userID, false, 0)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestMemoryStore_UserOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("创建并读取用户", func(t *testing.T) {
		name := "alice"
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.CreateUser(ctx, &domain.User{TelegramID: 42, Username: &name})
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(repo storage.Repository) error {
			u, err := repo.GetUser(ctx, 42)
			require.NoError(t, err)
			require.NotNil(t, u.Username)
			assert.Equal(t, "alice", *u.Username)
			assert.False(t, u.CreatedAt.IsZero())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("重复创建返回已存在", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.CreateUser(ctx, &domain.User{TelegramID: 42})
		})
		assert.ErrorIs(t, err, storage.ErrUserExists)
	})

	t.Run("更新用户名", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.UpdateUsername(ctx, 42, nil)
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(repo storage.Repository) error {
			u, err := repo.GetUser(ctx, 42)
			require.NoError(t, err)
			assert.Nil(t, u.Username)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("不存在的用户", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			_, err := repo.GetUser(ctx, 7)
			return err
		})
		assert.ErrorIs(t, err, storage.ErrUserNotFound)

		err = store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.UpdateUsername(ctx, 7, nil)
		})
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})
}

func TestMemoryStore_MailboxOrdering(t *testing.T) {
	store := NewStore()
	seedUser(t, store, 1)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := addMailbox(t, store, 1, "a@x", base)
	b := addMailbox(t, store, 1, "b@x", base.Add(time.Minute))
	c := addMailbox(t, store, 1, "c@x", base.Add(time.Minute)) // 与 b 同一时刻

	mailboxes := listAll(t, store, 1)
	require.Len(t, mailboxes, 3)
	assert.Equal(t, []int64{c.ID, b.ID, a.ID}, []int64{mailboxes[0].ID, mailboxes[1].ID, mailboxes[2].ID})

	err := store.WithTx(context.Background(), func(repo storage.Repository) error {
		oldest, err := repo.OldestMailbox(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, a.ID, oldest.ID)

		limited, err := repo.ListMailboxes(context.Background(), 1, true, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		count, err := repo.CountMailboxes(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_MailboxConstraints(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedUser(t, store, 1)
	seedUser(t, store, 2)
	m := addMailbox(t, store, 1, "dup@x", time.Now())

	t.Run("地址跨用户唯一", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.CreateMailbox(ctx, &domain.Mailbox{UserID: 2, Email: "dup@x", IsActive: true})
		})
		assert.ErrorIs(t, err, storage.ErrEmailExists)
	})

	t.Run("用户必须存在", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.CreateMailbox(ctx, &domain.Mailbox{UserID: 99, Email: "new@x", IsActive: true})
		})
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("按所有者读取", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			_, err := repo.GetMailbox(ctx, m.ID, 2)
			return err
		})
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("删除不存在的邮箱", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.DeleteMailbox(ctx, 12345)
		})
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("删除用户级联删除邮箱", func(t *testing.T) {
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			return repo.DeleteUser(ctx, 1)
		})
		require.NoError(t, err)
		assert.Empty(t, listAll(t, store, 1))

		// 地址释放后可再次使用
		addMailbox(t, store, 2, "dup@x", time.Now())
	})
}

func TestMemoryStore_Rollback(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedUser(t, store, 1)

	t.Run("返回错误时丢弃写入", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.WithTx(ctx, func(repo storage.Repository) error {
			require.NoError(t, repo.CreateMailbox(ctx, &domain.Mailbox{UserID: 1, Email: "a@x", IsActive: true}))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, listAll(t, store, 1))
	})

	t.Run("panic 时丢弃写入", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = store.WithTx(ctx, func(repo storage.Repository) error {
				require.NoError(t, repo.CreateMailbox(ctx, &domain.Mailbox{UserID: 1, Email: "b@x", IsActive: true}))
				panic("boom")
			})
		})
		assert.Empty(t, listAll(t, store, 1))
	})

	t.Run("已取消的上下文", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := store.WithTx(cctx, func(repo storage.Repository) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStore_CommitConflict(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedUser(t, store, 1)

	// 两个事务都在对方提交前看到地址空闲，后提交者在提交时失败
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	errs := make(chan error, 2)

	for _, owner := range []int64{1, 1} {
		go func(owner int64) {
			errs <- store.WithTx(ctx, func(repo storage.Repository) error {
				if err := repo.CreateMailbox(ctx, &domain.Mailbox{UserID: owner, Email: "race@x", IsActive: true}); err != nil {
					return err
				}
				started.Done()
				<-release
				return nil
			})
		}(owner)
	}

	started.Wait()
	close(release)

	var failed, succeeded int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.ErrorIs(t, err, storage.ErrEmailExists)
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Len(t, listAll(t, store, 1), 1)
}

func TestMemoryStore_Health(t *testing.T) {
	store := NewStore()
	assert.NoError(t, store.Health(context.Background()))
	assert.NoError(t, store.Close())
}
