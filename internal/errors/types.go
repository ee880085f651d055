package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 钱包相关错误
	ErrorTypeWallet ErrorType = iota
	ErrorTypeUserRejected

	// 网络相关错误
	ErrorTypeNetwork
	ErrorTypeNetworkMismatch

	// 合约相关错误
	ErrorTypeContractCall
	ErrorTypeTransactionReverted

	// 业务门禁错误（正常的展示状态，不是故障）
	ErrorTypeAuthorization
	ErrorTypeInvalidEventType
	ErrorTypeNotFound

	// 数据相关错误
	ErrorTypeValidation
	ErrorTypeSession

	// 系统相关错误
	ErrorTypeCache
	ErrorTypeConfig
	ErrorTypeKafka
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// TraceError 自定义错误类型
type TraceError struct {
	Type         ErrorType              `json:"type"`
	Severity     ErrorSeverity          `json:"severity"`
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
	RevertReason string                 `json:"revert_reason,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Cause        error                  `json:"cause,omitempty"`
	Retryable    bool                   `json:"retryable"`
	Component    string                 `json:"component"`
	Wallet       *string                `json:"wallet,omitempty"`
	TxHash       *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *TraceError) Error() string {
	if e.RevertReason != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.RevertReason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *TraceError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试（只对读操作有意义，写操作一律不自动重试）
func (e *TraceError) IsRetryable() bool {
	return e.Retryable
}

// IsDisplayState 判断是否为正常的展示状态（未授权/未找到不是故障）
func (e *TraceError) IsDisplayState() bool {
	switch e.Type {
	case ErrorTypeAuthorization, ErrorTypeInvalidEventType, ErrorTypeNotFound:
		return true
	default:
		return false
	}
}

// WithContext 添加上下文信息
func (e *TraceError) WithContext(key string, value interface{}) *TraceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithWallet 添加钱包地址
func (e *TraceError) WithWallet(wallet string) *TraceError {
	e.Wallet = &wallet
	return e
}

// WithTxHash 添加交易哈希
func (e *TraceError) WithTxHash(txHash string) *TraceError {
	e.TxHash = &txHash
	return e
}

// WithRevertReason 添加合约回滚原因
func (e *TraceError) WithRevertReason(reason string) *TraceError {
	e.RevertReason = reason
	return e
}

// WithComponent 标记来源组件
func (e *TraceError) WithComponent(component string) *TraceError {
	e.Component = component
	return e
}

// NewTraceError 创建新的错误
func NewTraceError(errorType ErrorType, severity ErrorSeverity, code, message string) *TraceError {
	return &TraceError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *TraceError {
	return &TraceError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork:
		return true
	case ErrorTypeContractCall:
		// 读调用失败（节点抖动、临时不可达）可重试；回滚不可重试
		return true
	default:
		// 用户拒绝、权限、验证、回滚、会话过期都需要新的显式用户操作
		return false
	}
}

// 预定义错误
var (
	// 钱包错误
	ErrWalletUnavailable = NewTraceError(
		ErrorTypeWallet,
		SeverityCritical,
		"WALLET_UNAVAILABLE",
		"未检测到可用的钱包",
	)

	ErrUserRejected = NewTraceError(
		ErrorTypeUserRejected,
		SeverityLow,
		"USER_REJECTED",
		"用户拒绝了钱包请求",
	)

	// 网络错误
	ErrNetworkMismatch = NewTraceError(
		ErrorTypeNetworkMismatch,
		SeverityHigh,
		"NETWORK_MISMATCH",
		"当前链与合约部署链不一致",
	)

	ErrNetworkFailed = NewTraceError(
		ErrorTypeNetwork,
		SeverityMedium,
		"NETWORK_ERROR",
		"节点网络请求失败",
	)

	// 合约错误
	ErrCallException = NewTraceError(
		ErrorTypeContractCall,
		SeverityMedium,
		"CALL_EXCEPTION",
		"合约读调用失败",
	)

	ErrTransactionReverted = NewTraceError(
		ErrorTypeTransactionReverted,
		SeverityMedium,
		"TX_REVERTED",
		"交易被合约回滚",
	)

	// 业务门禁
	ErrNotAuthorized = NewTraceError(
		ErrorTypeAuthorization,
		SeverityLow,
		"NOT_AUTHORIZED",
		"当前公司未通过验证或无权执行该操作",
	)

	ErrInvalidEventType = NewTraceError(
		ErrorTypeInvalidEventType,
		SeverityLow,
		"INVALID_EVENT_TYPE",
		"当前角色不允许记录该事件类型",
	)

	ErrNotFound = NewTraceError(
		ErrorTypeNotFound,
		SeverityLow,
		"NOT_FOUND",
		"目标记录不存在",
	)

	// 数据错误
	ErrValidationFailed = NewTraceError(
		ErrorTypeValidation,
		SeverityMedium,
		"VALIDATION_FAILED",
		"输入数据验证失败",
	)

	ErrSessionStale = NewTraceError(
		ErrorTypeSession,
		SeverityMedium,
		"SESSION_STALE",
		"会话已切换，操作结果被丢弃",
	)

	// 系统错误
	ErrCacheIOFailed = NewTraceError(
		ErrorTypeCache,
		SeverityHigh,
		"CACHE_IO_FAILED",
		"本地缓存读写失败",
	)

	ErrConfigInvalid = NewTraceError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrKafkaPublishFailed = NewTraceError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PUBLISH_FAILED",
		"Kafka消息发送失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeWallet:              "Wallet",
	ErrorTypeUserRejected:        "UserRejected",
	ErrorTypeNetwork:             "Network",
	ErrorTypeNetworkMismatch:     "NetworkMismatch",
	ErrorTypeContractCall:        "ContractCall",
	ErrorTypeTransactionReverted: "TransactionReverted",
	ErrorTypeAuthorization:       "Authorization",
	ErrorTypeInvalidEventType:    "InvalidEventType",
	ErrorTypeNotFound:            "NotFound",
	ErrorTypeValidation:          "Validation",
	ErrorTypeSession:             "Session",
	ErrorTypeCache:               "Cache",
	ErrorTypeConfig:              "Config",
	ErrorTypeKafka:               "Kafka",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// AsTraceError 尝试把任意error还原为TraceError；无法还原时包装为网络类错误
func AsTraceError(err error) *TraceError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TraceError); ok {
		return te
	}
	return WrapError(err, ErrorTypeNetwork, SeverityMedium, "UNKNOWN_ERROR", "未分类错误")
}

// IsCode 判断错误是否属于指定错误码
func IsCode(err error, code string) bool {
	te, ok := err.(*TraceError)
	return ok && te.Code == code
}
