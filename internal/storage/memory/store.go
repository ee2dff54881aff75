package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/storage"
)

// Store 使用内存保存用户与邮箱数据，主要用于开发验证和测试。
//
// 事务在开始时获取一份快照，事务内的读写只作用于快照；
// 提交时把事务内的写操作按顺序重放到最新数据上，并在此时检查唯一约束和外键。
// 因此并发事务之间不会互相阻塞，行为接近数据库的读已提交隔离级别。
type Store struct {
	mu     sync.Mutex
	data   *state
	nextID atomic.Int64
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{data: newState()}
}

// WithTx 在快照上执行 fn，成功后提交。
func (s *Store) WithTx(ctx context.Context, fn func(repo storage.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	t := &tx{store: s, view: snapshot}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	for _, apply := range t.ops {
		if err := apply(next); err != nil {
			return err
		}
	}
	s.data = next
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health(ctx context.Context) error {
	return ctx.Err()
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// state 是某一时刻的全部数据
type state struct {
	users   map[int64]domain.User
	mails   map[int64]domain.Mailbox
	byEmail map[string]int64 // email -> mailboxID
}

func newState() *state {
	return &state{
		users:   make(map[int64]domain.User),
		mails:   make(map[int64]domain.Mailbox),
		byEmail: make(map[string]int64),
	}
}

func (st *state) clone() *state {
	out := &state{
		users:   make(map[int64]domain.User, len(st.users)),
		mails:   make(map[int64]domain.Mailbox, len(st.mails)),
		byEmail: make(map[string]int64, len(st.byEmail)),
	}
	for id, u := range st.users {
		out.users[id] = copyUser(u)
	}
	for id, m := range st.mails {
		out.mails[id] = m
	}
	for email, id := range st.byEmail {
		out.byEmail[email] = id
	}
	return out
}

func (st *state) insertUser(u domain.User) error {
	if _, ok := st.users[u.TelegramID]; ok {
		return storage.ErrUserExists
	}
	st.users[u.TelegramID] = copyUser(u)
	return nil
}

func (st *state) setUsername(id int64, username *string) bool {
	u, ok := st.users[id]
	if !ok {
		return false
	}
	u.Username = copyString(username)
	st.users[id] = u
	return true
}

func (st *state) removeUser(id int64) bool {
	if _, ok := st.users[id]; !ok {
		return false
	}
	delete(st.users, id)
	for mid, m := range st.mails {
		if m.UserID == id {
			st.removeMailbox(mid)
		}
	}
	return true
}

func (st *state) insertMailbox(m domain.Mailbox) error {
	if _, ok := st.users[m.UserID]; !ok {
		return storage.ErrUserNotFound
	}
	if _, ok := st.byEmail[m.Email]; ok {
		return storage.ErrEmailExists
	}
	st.mails[m.ID] = m
	st.byEmail[m.Email] = m.ID
	return nil
}

func (st *state) removeMailbox(id int64) bool {
	m, ok := st.mails[id]
	if !ok {
		return false
	}
	delete(st.mails, id)
	delete(st.byEmail, m.Email)
	return true
}

// userMailboxes 返回用户的邮箱，按创建时间倒序（相同时间按 ID 倒序）
func (st *state) userMailboxes(userID int64, activeOnly bool) []domain.Mailbox {
	out := make([]domain.Mailbox, 0)
	for _, m := range st.mails {
		if m.UserID != userID {
			continue
		}
		if activeOnly && !m.IsActive {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// tx 是单个事务的视图，记录待提交的写操作
type tx struct {
	store *Store
	view  *state
	ops   []func(*state) error
}

// ========== User Repository ==========

func (t *tx) GetUser(_ context.Context, telegramID int64) (*domain.User, error) {
	u, ok := t.view.users[telegramID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	out := copyUser(u)
	return &out, nil
}

func (t *tx) CreateUser(_ context.Context, user *domain.User) error {
	u := copyUser(*user)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := t.view.insertUser(u); err != nil {
		return err
	}
	t.ops = append(t.ops, func(st *state) error {
		return st.insertUser(u)
	})
	user.CreatedAt = u.CreatedAt
	return nil
}

func (t *tx) UpdateUsername(_ context.Context, telegramID int64, username *string) error {
	if !t.view.setUsername(telegramID, username) {
		return storage.ErrUserNotFound
	}
	name := copyString(username)
	t.ops = append(t.ops, func(st *state) error {
		st.setUsername(telegramID, name)
		return nil
	})
	return nil
}

func (t *tx) DeleteUser(_ context.Context, telegramID int64) error {
	if !t.view.removeUser(telegramID) {
		return storage.ErrUserNotFound
	}
	t.ops = append(t.ops, func(st *state) error {
		st.removeUser(telegramID)
		return nil
	})
	return nil
}

// ========== Mailbox Repository ==========

func (t *tx) ListMailboxes(_ context.Context, userID int64, activeOnly bool, limit int) ([]domain.Mailbox, error) {
	mailboxes := t.view.userMailboxes(userID, activeOnly)
	if limit > 0 && len(mailboxes) > limit {
		mailboxes = mailboxes[:limit]
	}
	return mailboxes, nil
}

func (t *tx) OldestMailbox(_ context.Context, userID int64) (*domain.Mailbox, error) {
	mailboxes := t.view.userMailboxes(userID, false)
	if len(mailboxes) == 0 {
		return nil, storage.ErrMailboxNotFound
	}
	oldest := mailboxes[len(mailboxes)-1]
	return &oldest, nil
}

func (t *tx) GetMailbox(_ context.Context, id, userID int64) (*domain.Mailbox, error) {
	m, ok := t.view.mails[id]
	if !ok || m.UserID != userID {
		return nil, storage.ErrMailboxNotFound
	}
	return &m, nil
}

func (t *tx) CountMailboxes(_ context.Context, userID int64) (int, error) {
	count := 0
	for _, m := range t.view.mails {
		if m.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (t *tx) CreateMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	m := *mailbox
	m.ID = t.store.nextID.Add(1)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := t.view.insertMailbox(m); err != nil {
		return err
	}
	t.ops = append(t.ops, func(st *state) error {
		return st.insertMailbox(m)
	})
	mailbox.ID = m.ID
	mailbox.CreatedAt = m.CreatedAt
	return nil
}

func (t *tx) DeleteMailbox(_ context.Context, id int64) error {
	if !t.view.removeMailbox(id) {
		return storage.ErrMailboxNotFound
	}
	t.ops = append(t.ops, func(st *state) error {
		// 已被其他事务删除时与数据库一致：影响 0 行，不报错
		st.removeMailbox(id)
		return nil
	})
	return nil
}

func copyUser(u domain.User) domain.User {
	u.Username = copyString(u.Username)
	u.Mailboxes = nil
	return u
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
