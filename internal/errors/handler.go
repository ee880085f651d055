package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误处理策略
	strategies map[ErrorType]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *TraceError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *TraceError)

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
	}

	// 默认策略：所有错误都记录日志，门禁类降级为Debug
	loggingStrategy := &LoggingStrategy{logger: logger}
	for errorType := range errorTypeNames {
		eh.strategies[errorType] = loggingStrategy
	}

	return eh
}

// HandleError 处理错误
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	traceErr := AsTraceError(err)
	if traceErr == nil {
		return nil
	}

	// 记录错误统计
	eh.mu.Lock()
	eh.stats.RecordError(traceErr)
	eh.mu.Unlock()

	// 执行回调
	eh.executeCallbacks(traceErr)

	// 执行处理策略
	return eh.executeStrategy(ctx, traceErr)
}

// executeCallbacks 执行错误回调
func (eh *ErrorHandler) executeCallbacks(err *TraceError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

// executeStrategy 执行处理策略
func (eh *ErrorHandler) executeStrategy(ctx context.Context, err *TraceError) error {
	eh.mu.RLock()
	strategy, exists := eh.strategies[err.Type]
	eh.mu.RUnlock()
	if !exists {
		strategy = &LoggingStrategy{logger: eh.logger}
	}

	return strategy.Handle(ctx, err)
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *TraceError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
		"context":    err.Context,
	})
	if err.Wallet != nil {
		logEntry = logEntry.WithField("wallet", *err.Wallet)
	}
	if err.TxHash != nil {
		logEntry = logEntry.WithField("tx_hash", *err.TxHash)
	}

	// 门禁类错误是正常展示状态，不按故障级别刷日志
	if err.IsDisplayState() {
		logEntry.Debug(err.Message)
		return err
	}

	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	case SeverityHigh:
		logEntry.Error(err.Message)
	case SeverityCritical:
		logEntry.Error(err.Message)
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// GetStats 获取错误统计信息
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats
}

// ErrorStats 错误统计
type ErrorStats struct {
	mu         sync.RWMutex
	totalCount int64
	byCode     map[string]int64
	byType     map[ErrorType]int64
	lastError  *TraceError
	lastAt     time.Time
	recent     []time.Time
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		byCode: make(map[string]int64),
		byType: make(map[ErrorType]int64),
		recent: make([]time.Time, 0, 128),
	}
}

// RecordError 记录一次错误
func (es *ErrorStats) RecordError(err *TraceError) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.totalCount++
	es.byCode[err.Code]++
	es.byType[err.Type]++
	es.lastError = err
	es.lastAt = time.Now()

	es.recent = append(es.recent, es.lastAt)
	if len(es.recent) > 1024 {
		es.recent = es.recent[len(es.recent)-1024:]
	}
}

// TotalCount 返回错误总数
func (es *ErrorStats) TotalCount() int64 {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.totalCount
}

// CountByCode 返回指定错误码的计数
func (es *ErrorStats) CountByCode(code string) int64 {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.byCode[code]
}

// GetErrorRate 返回指定时间窗口内的错误数
func (es *ErrorStats) GetErrorRate(window time.Duration) float64 {
	es.mu.RLock()
	defer es.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, t := range es.recent {
		if t.After(cutoff) {
			count++
		}
	}
	return float64(count)
}

// LastError 返回最近一次错误
func (es *ErrorStats) LastError() (*TraceError, time.Time) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.lastError, es.lastAt
}
