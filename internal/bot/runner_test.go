package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/bot/internal/config"
)

type fakeSource struct {
	updates chan tgbotapi.Update
	timeout atomic.Int64
	stopped atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{updates: make(chan tgbotapi.Update, 10)}
}

func (s *fakeSource) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	s.timeout.Store(int64(cfg.Timeout))
	return s.updates
}

func (s *fakeSource) StopReceivingUpdates() {
	s.stopped.Store(true)
}

type dropCounter struct {
	n atomic.Int64
}

func (d *dropCounter) RecordUpdateDropped() {
	d.n.Add(1)
}

func TestRunner_Run(t *testing.T) {
	env := newTestEnv(t, 100)
	source := newFakeSource()
	cfg := config.TelegramConfig{PollTimeout: 30, Workers: 2, QueueSize: 4, CommandTimeout: time.Second}
	runner := NewRunner(source, env.handler, cfg, &dropCounter{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	source.updates <- textUpdate(uid, "/start")
	source.updates <- textUpdate(uid+1, "/newmail")

	require.Eventually(t, func() bool {
		return len(env.sender.sent()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.True(t, source.stopped.Load())
	assert.Equal(t, int64(30), source.timeout.Load())
}

func TestRunner_StopsWhenChannelClosed(t *testing.T) {
	env := newTestEnv(t, 100)
	source := newFakeSource()
	runner := NewRunner(source, env.handler, config.TelegramConfig{Workers: 1}, nil, nil)

	source.updates <- textUpdate(uid, "/start")
	close(source.updates)

	assert.ErrorIs(t, runner.Run(context.Background()), ErrUpdatesClosed)
	// 停止前排队的更新已处理完
	assert.Len(t, env.sender.sent(), 1)
}

func TestRunner_DropsAfterPoolStopped(t *testing.T) {
	env := newTestEnv(t, 100)
	drops := &dropCounter{}
	runner := NewRunner(newFakeSource(), env.handler, config.TelegramConfig{Workers: 1}, drops, nil)
	runner.pool.Stop()

	runner.dispatch(context.Background(), textUpdate(uid, "/start"))

	assert.Equal(t, int64(1), drops.n.Load())
	assert.Empty(t, env.sender.sent())
}

func TestRunner_ClosedChannelStopsGroup(t *testing.T) {
	env := newTestEnv(t, 100)
	source := newFakeSource()
	runner := NewRunner(source, env.handler, config.TelegramConfig{Workers: 1}, nil, nil)
	close(source.updates)

	group, groupCtx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		// 模拟运维服务：直到组被取消才退出
		<-groupCtx.Done()
		return nil
	})
	group.Go(func() error {
		return runner.Run(groupCtx)
	})

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrUpdatesClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop after update channel closed")
	}
}
