package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	traceerrors "supplytrace/internal/errors"
)

// statusFor 把错误类型映射到HTTP状态码
// 业务门禁（未授权/未找到/事件类型越权）是正常的展示状态，用4xx表达
func statusFor(te *traceerrors.TraceError) int {
	switch te.Type {
	case traceerrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case traceerrors.ErrorTypeWallet:
		return http.StatusServiceUnavailable
	case traceerrors.ErrorTypeUserRejected, traceerrors.ErrorTypeSession, traceerrors.ErrorTypeNetworkMismatch:
		return http.StatusConflict
	case traceerrors.ErrorTypeAuthorization:
		return http.StatusForbidden
	case traceerrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case traceerrors.ErrorTypeInvalidEventType:
		return http.StatusUnprocessableEntity
	case traceerrors.ErrorTypeNetwork, traceerrors.ErrorTypeContractCall,
		traceerrors.ErrorTypeTransactionReverted, traceerrors.ErrorTypeKafka:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError 以统一格式输出错误响应
func writeError(c *gin.Context, err error) {
	var te *traceerrors.TraceError
	if !stderrors.As(err, &te) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL",
			"message": err.Error(),
		})
		return
	}

	body := gin.H{
		"error":         te.Code,
		"message":       te.Message,
		"display_state": te.IsDisplayState(),
		"retryable":     te.IsRetryable(),
	}
	if te.RevertReason != "" {
		body["revert_reason"] = te.RevertReason
	}
	if te.TxHash != nil {
		body["tx_hash"] = *te.TxHash
	}

	c.JSON(statusFor(te), body)
}
