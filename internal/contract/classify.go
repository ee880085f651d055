package contract

import (
	"strings"

	traceerrors "supplytrace/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// ExtractRevertReason 从节点返回的错误里提取合约回滚原因
func ExtractRevertReason(err error) string {
	if err == nil {
		return ""
	}

	// 节点通过DataError携带revert数据时走ABI解码
	if dataErr, ok := err.(rpc.DataError); ok {
		if data, ok := dataErr.ErrorData().(string); ok && strings.HasPrefix(data, "0x") {
			raw := common.FromHex(data)
			if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
				return reason
			}
		}
	}

	// 退化为解析错误文本 "execution reverted: <reason>"
	msg := err.Error()
	marker := "execution reverted"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len(marker):]
	rest = strings.TrimLeft(rest, ": ")
	return strings.TrimSpace(rest)
}

// ClassifyCallError 把节点调用错误归入错误分类
func ClassifyCallError(err error, method string) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*traceerrors.TraceError); ok {
		return te
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied"):
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeUserRejected,
			traceerrors.SeverityLow,
			"USER_REJECTED",
			"用户拒绝了钱包请求",
		).WithComponent("contract_client").WithContext("method", method)

	case strings.Contains(msg, "execution reverted"):
		traceErr := traceerrors.WrapError(err,
			traceerrors.ErrorTypeTransactionReverted,
			traceerrors.SeverityMedium,
			"TX_REVERTED",
			"调用被合约回滚",
		).WithComponent("contract_client").WithContext("method", method)
		if reason := ExtractRevertReason(err); reason != "" {
			traceErr.WithRevertReason(reason)
		}
		return traceErr

	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "too many requests"):
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeNetwork,
			traceerrors.SeverityMedium,
			"NETWORK_ERROR",
			"节点网络请求失败",
		).WithComponent("contract_client").WithContext("method", method)

	default:
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeContractCall,
			traceerrors.SeverityMedium,
			"CALL_EXCEPTION",
			"合约调用失败",
		).WithComponent("contract_client").WithContext("method", method)
	}
}

// ClassifySignError 把签名阶段的错误归入错误分类
// 签名失败发生在广播之前，链上不会留下任何痕迹
func ClassifySignError(err error, method string) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied"):
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeUserRejected,
			traceerrors.SeverityLow,
			"USER_REJECTED",
			"用户拒绝了签名请求",
		).WithComponent("contract_client").WithContext("method", method)

	case strings.Contains(msg, "locked") || strings.Contains(msg, "no key") || strings.Contains(msg, "unknown account"):
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeWallet,
			traceerrors.SeverityHigh,
			"WALLET_UNAVAILABLE",
			"签名账户不可用或未解锁",
		).WithComponent("contract_client").WithContext("method", method)

	default:
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeWallet,
			traceerrors.SeverityMedium,
			"WALLET_UNAVAILABLE",
			"交易签名失败",
		).WithComponent("contract_client").WithContext("method", method)
	}
}
