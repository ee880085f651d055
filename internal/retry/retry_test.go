package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil错误", nil, false},
		{"连接被拒绝", errors.New("dial tcp: connection refused"), true},
		{"请求超时", errors.New("context deadline exceeded: i/o timeout"), true},
		{"限流", errors.New("429 too many requests"), true},
		{"节点状态缺失", errors.New("missing trie node"), true},
		{"合约回滚不可重试", errors.New("execution reverted: Company not verified"), false},
		{"用户拒绝不可重试", errors.New("user rejected the request"), false},
		{"普通业务错误", errors.New("company name too short"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}

func TestIsRetryableError_Interface(t *testing.T) {
	// 实现了RetryableError接口的错误以接口判定为准
	retryable := NewRetryableError(errors.New("自定义"), true)
	assert.True(t, IsRetryableError(retryable))

	nonRetryable := NewRetryableError(errors.New("timeout"), false)
	assert.False(t, IsRetryableError(nonRetryable))
}

func TestRetrier_Execute_SucceedsAfterRetries(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		BackoffFactor:   2.0,
	}
	retrier := NewRetrier(config, newTestLogger())

	attempts := 0
	err := retrier.Execute(context.Background(), KindRead, "test_op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_Execute_NonRetryableStopsImmediately(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig, newTestLogger())

	attempts := 0
	err := retrier.Execute(context.Background(), KindRead, "test_op", func() error {
		attempts++
		return errors.New("execution reverted: Not authorized")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_Execute_ExhaustsAttempts(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2.0,
	}
	retrier := NewRetrier(config, newTestLogger())

	attempts := 0
	err := retrier.Execute(context.Background(), KindRead, "test_op", func() error {
		attempts++
		return errors.New("i/o timeout")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "重试 3 次后失败")
}

func TestRetrier_Execute_RefusesWriteOperations(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig, newTestLogger())

	attempts := 0
	err := retrier.Execute(context.Background(), KindWrite, "submit_tx", func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, ErrWriteOperation)
	// 写交易连第一次都不该由重试器执行
	assert.Equal(t, 0, attempts)
}

func TestRetrier_Execute_ContextCancelled(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retrier.Execute(ctx, KindRead, "test_op", func() error {
		return errors.New("connection refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrier_ExecuteWithResult(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2.0,
	}
	retrier := NewRetrier(config, newTestLogger())

	attempts := 0
	result, err := retrier.ExecuteWithResult(context.Background(), KindRead, "test_op", func() (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("timeout")
		}
		return "ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestCalculateDelay_Bounds(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:         10,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         time.Second,
		BackoffFactor:       2.0,
		RandomizationFactor: 0.1,
		EnableJitter:        true,
	}
	retrier := NewRetrier(config, newTestLogger())

	for attempt := 1; attempt <= 10; attempt++ {
		delay := retrier.calculateDelay(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		// 抖动最多放大MaxInterval的RandomizationFactor
		assert.LessOrEqual(t, delay, time.Second+time.Second/5)
	}
}
