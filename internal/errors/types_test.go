package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceError(t *testing.T) {
	err := NewTraceError(ErrorTypeNetwork, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeNetwork, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 网络错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeCache, SeverityMedium, "WRAPPED_ERROR", "包装错误")

	assert.NotNil(t, wrappedErr)
	assert.Equal(t, ErrorTypeCache, wrappedErr.Type)
	assert.Equal(t, SeverityMedium, wrappedErr.Severity)
	assert.Equal(t, "WRAPPED_ERROR", wrappedErr.Code)
	assert.Equal(t, "包装错误", wrappedErr.Message)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Contains(t, wrappedErr.Error(), "原始错误")
}

func TestTraceError_Error(t *testing.T) {
	// 测试没有原因的错误
	err := NewTraceError(ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	expected := "[TEST_CODE] 测试消息"
	assert.Equal(t, expected, err.Error())

	// 测试有原因的错误
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	expectedWithCause := "[TEST_CODE] 测试消息: 原始错误"
	assert.Equal(t, expectedWithCause, wrappedErr.Error())

	// 回滚原因优先展示
	revertErr := NewTraceError(ErrorTypeTransactionReverted, SeverityMedium, "TX_REVERTED", "交易被合约回滚")
	revertErr.WithRevertReason("Company not verified")
	assert.Equal(t, "[TX_REVERTED] 交易被合约回滚: Company not verified", revertErr.Error())
}

func TestTraceError_Unwrap(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeCache, SeverityMedium, "WRAPPED", "包装")

	unwrapped := wrappedErr.Unwrap()
	assert.Equal(t, originalErr, unwrapped)

	// 测试没有原因的错误
	standaloneErr := NewTraceError(ErrorTypeValidation, SeverityLow, "STANDALONE", "独立错误")
	assert.Nil(t, standaloneErr.Unwrap())
}

func TestTraceError_IsRetryable(t *testing.T) {
	// 可重试的错误
	retryableErr := NewTraceError(ErrorTypeNetwork, SeverityMedium, "NETWORK_ERROR", "网络错误")
	assert.True(t, retryableErr.IsRetryable())

	// 不可重试的错误
	nonRetryableErr := NewTraceError(ErrorTypeConfig, SeverityCritical, "CONFIG_INVALID", "配置错误")
	assert.False(t, nonRetryableErr.IsRetryable())

	// 用户拒绝不可重试
	rejectedErr := NewTraceError(ErrorTypeUserRejected, SeverityLow, "USER_REJECTED", "用户拒绝")
	assert.False(t, rejectedErr.IsRetryable())

	// 回滚不可重试
	revertedErr := NewTraceError(ErrorTypeTransactionReverted, SeverityMedium, "TX_REVERTED", "回滚")
	assert.False(t, revertedErr.IsRetryable())
}

func TestTraceError_IsDisplayState(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  bool
	}{
		{ErrorTypeAuthorization, true},
		{ErrorTypeInvalidEventType, true},
		{ErrorTypeNotFound, true},
		{ErrorTypeNetwork, false},
		{ErrorTypeUserRejected, false},
		{ErrorTypeTransactionReverted, false},
	}

	for _, tt := range tests {
		err := NewTraceError(tt.errorType, SeverityLow, "CODE", "消息")
		assert.Equal(t, tt.expected, err.IsDisplayState(), "errorType=%v", tt.errorType)
	}
}

func TestTraceError_WithContext(t *testing.T) {
	err := NewTraceError(ErrorTypeContractCall, SeverityMedium, "CALL_EXCEPTION", "合约调用错误")

	err.WithContext("method", "getCompanyDetails")
	err.WithContext("attempt", 3)

	assert.NotNil(t, err.Context)
	assert.Equal(t, "getCompanyDetails", err.Context["method"])
	assert.Equal(t, 3, err.Context["attempt"])
}

func TestTraceError_WithWallet(t *testing.T) {
	err := NewTraceError(ErrorTypeAuthorization, SeverityLow, "NOT_AUTHORIZED", "未授权")

	wallet := "0x627306090abab3a6e1400e9345bc60c78a8bef57"
	err.WithWallet(wallet)

	assert.NotNil(t, err.Wallet)
	assert.Equal(t, wallet, *err.Wallet)
}

func TestTraceError_WithTxHash(t *testing.T) {
	err := NewTraceError(ErrorTypeTransactionReverted, SeverityMedium, "TX_REVERTED", "交易回滚")

	txHash := "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
	err.WithTxHash(txHash)

	assert.NotNil(t, err.TxHash)
	assert.Equal(t, txHash, *err.TxHash)
}

func TestDetermineRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeContractCall, true},
		{ErrorTypeUserRejected, false},
		{ErrorTypeTransactionReverted, false},
		{ErrorTypeAuthorization, false},
		{ErrorTypeValidation, false},
		{ErrorTypeSession, false},
		{ErrorTypeConfig, false},
	}

	for _, tt := range tests {
		result := determineRetryable(tt.errorType)
		assert.Equal(t, tt.expected, result, "errorType=%v", tt.errorType)
	}
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrorTypeWallet, "Wallet"},
		{ErrorTypeUserRejected, "UserRejected"},
		{ErrorTypeNetwork, "Network"},
		{ErrorTypeNetworkMismatch, "NetworkMismatch"},
		{ErrorTypeContractCall, "ContractCall"},
		{ErrorTypeNotFound, "NotFound"},
		{ErrorType(999), "Unknown(999)"}, // 未知类型
	}

	for _, tt := range tests {
		result := tt.errorType.String()
		assert.Equal(t, tt.expected, result)
	}
}

func TestErrorSeverity_String(t *testing.T) {
	tests := []struct {
		severity ErrorSeverity
		expected string
	}{
		{SeverityLow, "Low"},
		{SeverityMedium, "Medium"},
		{SeverityHigh, "High"},
		{SeverityCritical, "Critical"},
		{ErrorSeverity(999), "Unknown(999)"}, // 未知严重级别
	}

	for _, tt := range tests {
		result := tt.severity.String()
		assert.Equal(t, tt.expected, result)
	}
}

func TestAsTraceError(t *testing.T) {
	assert.Nil(t, AsTraceError(nil))

	te := NewTraceError(ErrorTypeValidation, SeverityLow, "V", "验证")
	assert.Equal(t, te, AsTraceError(te))

	plain := errors.New("普通错误")
	converted := AsTraceError(plain)
	assert.Equal(t, "UNKNOWN_ERROR", converted.Code)
	assert.Equal(t, plain, converted.Cause)
}

func TestIsCode(t *testing.T) {
	err := NewTraceError(ErrorTypeUserRejected, SeverityLow, "USER_REJECTED", "用户拒绝")
	assert.True(t, IsCode(err, "USER_REJECTED"))
	assert.False(t, IsCode(err, "TX_REVERTED"))
	assert.False(t, IsCode(errors.New("plain"), "USER_REJECTED"))
}

func TestErrorStats_RecordError(t *testing.T) {
	stats := NewErrorStats()

	err1 := NewTraceError(ErrorTypeNetwork, SeverityMedium, "NETWORK_ERROR", "网络错误")
	err2 := NewTraceError(ErrorTypeContractCall, SeverityHigh, "CALL_EXCEPTION", "调用错误")
	err3 := NewTraceError(ErrorTypeNetwork, SeverityLow, "NETWORK_ERROR", "网络超时")

	stats.RecordError(err1)
	stats.RecordError(err2)
	stats.RecordError(err3)

	assert.Equal(t, int64(3), stats.TotalCount())
	assert.Equal(t, int64(2), stats.CountByCode("NETWORK_ERROR"))
	assert.Equal(t, int64(1), stats.CountByCode("CALL_EXCEPTION"))

	last, at := stats.LastError()
	assert.Equal(t, err3, last)
	assert.False(t, at.IsZero())
}

func TestPredefinedErrors(t *testing.T) {
	// 测试预定义错误是否正确初始化
	assert.Equal(t, ErrorTypeUserRejected, ErrUserRejected.Type)
	assert.Equal(t, "USER_REJECTED", ErrUserRejected.Code)
	assert.False(t, ErrUserRejected.Retryable)

	assert.Equal(t, ErrorTypeNetworkMismatch, ErrNetworkMismatch.Type)
	assert.Equal(t, SeverityHigh, ErrNetworkMismatch.Severity)
	assert.Equal(t, "NETWORK_MISMATCH", ErrNetworkMismatch.Code)

	assert.Equal(t, ErrorTypeConfig, ErrConfigInvalid.Type)
	assert.Equal(t, SeverityCritical, ErrConfigInvalid.Severity)
	assert.False(t, ErrConfigInvalid.Retryable)

	assert.Equal(t, ErrorTypeTransactionReverted, ErrTransactionReverted.Type)
	assert.False(t, ErrTransactionReverted.Retryable)
}

// 基准测试
func BenchmarkNewTraceError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewTraceError(ErrorTypeNetwork, SeverityMedium, "BENCH_ERROR", "基准测试错误")
	}
}

func BenchmarkTraceError_Error(b *testing.B) {
	err := NewTraceError(ErrorTypeNetwork, SeverityMedium, "BENCH_ERROR", "基准测试错误")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = err.Error()
	}
}
