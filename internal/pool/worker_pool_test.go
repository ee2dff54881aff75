package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := NewWorkerPool(4, 16, zap.NewNop())
	p.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { done.Add(1) }))
	}
	p.Stop()

	assert.Equal(t, int32(20), done.Load())
}

func TestWorkerPool_RecoversPanic(t *testing.T) {
	p := NewWorkerPool(1, 1, zap.NewNop())
	p.Start(context.Background())

	var after atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func() { after.Store(true) }))
	p.Stop()

	assert.True(t, after.Load(), "panic 后工作协程继续运行")
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	err := p.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	p := NewWorkerPool(1, 0, nil)
	// 未启动工作协程，无缓冲队列上的提交会一直阻塞

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
