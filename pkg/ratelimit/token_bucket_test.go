package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenBucketAllow 桶内令牌耗尽后Allow返回false
func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(60, 2) // 每秒1个令牌, 容量2

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "令牌耗尽后应拒绝")
}

// TestTokenBucketWaitRespectsContext 上下文取消时Wait立即返回
func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(6, 1) // 每10秒1个令牌
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestRetryWithBackoffNonRetryable 不可重试的错误只执行一次
func TestRetryWithBackoffNonRetryable(t *testing.T) {
	tb := NewTokenBucket(600, 10)

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("维度不匹配")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// TestRetryWithBackoffRetryable 可重试的错误按策略重试
func TestRetryWithBackoffRetryable(t *testing.T) {
	tb := NewTokenBucket(600, 10).WithRetryPolicy(time.Millisecond, 2)

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
