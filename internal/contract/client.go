package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"supplytrace/internal/connection"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/internal/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// TxHandle 已广播交易的句柄
// Wait在交易上链前阻塞，回滚时返回TX_REVERTED
type TxHandle interface {
	Hash() string
	Wait(ctx context.Context) (*types.Receipt, error)
}

// Client 合约客户端抽象
// Read是只读调用，Write发起交易并返回句柄
type Client interface {
	Read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	Write(ctx context.Context, method string, value *big.Int, args ...interface{}) (TxHandle, error)
	Close() error
}

// BoundClient 绑定到具体合约地址的客户端
type BoundClient struct {
	pool     *connection.ConnectionPool
	address  common.Address
	contract abi.ABI
	ks       *keystore.KeyStore
	from     common.Address
	chainID  *big.Int
	retrier  *retry.Retrier
	logger   *logrus.Logger

	waitPoll time.Duration
}

// NewBoundClient 创建合约客户端
// 签名账户需要事先在keystore中解锁
func NewBoundClient(pool *connection.ConnectionPool, contractAddress string, ks *keystore.KeyStore, from string, chainID *big.Int, logger *logrus.Logger) (*BoundClient, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeConfig,
			traceerrors.SeverityCritical,
			"CONFIG_INVALID",
			fmt.Sprintf("非法的合约地址: %s", contractAddress),
		).WithComponent("contract_client")
	}

	contractABI, err := SupplyChainABI()
	if err != nil {
		return nil, traceerrors.WrapError(err,
			traceerrors.ErrorTypeConfig,
			traceerrors.SeverityCritical,
			"CONFIG_INVALID",
			"合约ABI解析失败",
		).WithComponent("contract_client")
	}

	return &BoundClient{
		pool:     pool,
		address:  common.HexToAddress(contractAddress),
		contract: contractABI,
		ks:       ks,
		from:     common.HexToAddress(from),
		chainID:  chainID,
		retrier:  retry.NewRetrier(retry.ReadRetryConfig, logger),
		logger:   logger,
		waitPoll: 2 * time.Second,
	}, nil
}

// SetFrom 切换签名账户
func (bc *BoundClient) SetFrom(from string) {
	bc.from = common.HexToAddress(from)
}

// Read 执行只读调用
// 只有读调用走重试，失败分类后原样返回
func (bc *BoundClient) Read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := bc.contract.Pack(method, args...)
	if err != nil {
		return nil, traceerrors.WrapError(err,
			traceerrors.ErrorTypeContractCall,
			traceerrors.SeverityMedium,
			"CALL_EXCEPTION",
			fmt.Sprintf("打包调用参数失败: %s", method),
		).WithComponent("contract_client")
	}

	var output []byte
	err = bc.retrier.Execute(ctx, retry.KindRead, "contract_read_"+method, func() error {
		wrapper, err := bc.pool.NewConnectionWrapper()
		if err != nil {
			return err
		}
		defer wrapper.Close()

		msg := ethereum.CallMsg{From: bc.from, To: &bc.address, Data: input}
		output, err = wrapper.Client().CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, ClassifyCallError(err, method)
	}

	values, err := bc.contract.Unpack(method, output)
	if err != nil {
		return nil, traceerrors.WrapError(err,
			traceerrors.ErrorTypeContractCall,
			traceerrors.SeverityMedium,
			"CALL_EXCEPTION",
			fmt.Sprintf("解包返回值失败: %s", method),
		).WithComponent("contract_client").WithContext("method", method)
	}

	return values, nil
}

// Write 构造、签名并广播交易
func (bc *BoundClient) Write(ctx context.Context, method string, value *big.Int, args ...interface{}) (TxHandle, error) {
	input, err := bc.contract.Pack(method, args...)
	if err != nil {
		return nil, traceerrors.WrapError(err,
			traceerrors.ErrorTypeContractCall,
			traceerrors.SeverityMedium,
			"CALL_EXCEPTION",
			fmt.Sprintf("打包交易参数失败: %s", method),
		).WithComponent("contract_client")
	}
	if value == nil {
		value = big.NewInt(0)
	}

	wrapper, err := bc.pool.NewConnectionWrapper()
	if err != nil {
		return nil, traceerrors.WrapError(err,
			traceerrors.ErrorTypeNetwork,
			traceerrors.SeverityMedium,
			"NETWORK_ERROR",
			"获取节点连接失败",
		).WithComponent("contract_client")
	}
	defer wrapper.Close()
	client := wrapper.Client()

	nonce, err := client.PendingNonceAt(ctx, bc.from)
	if err != nil {
		return nil, ClassifyCallError(err, method)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, ClassifyCallError(err, method)
	}

	msg := ethereum.CallMsg{From: bc.from, To: &bc.address, Value: value, Data: input}
	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		// 预估阶段的回滚意味着链上必然失败，此时还没有广播
		return nil, ClassifyCallError(err, method)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &bc.address,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signedTx, err := bc.ks.SignTx(accounts.Account{Address: bc.from}, tx, bc.chainID)
	if err != nil {
		return nil, ClassifySignError(err, method)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, ClassifyCallError(err, method)
	}

	txHash := signedTx.Hash()
	bc.logger.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": txHash.Hex(),
		"from":    strings.ToLower(bc.from.Hex()),
	}).Info("交易已广播")

	return &chainTxHandle{
		client:   bc,
		hash:     txHash,
		callMsg:  msg,
		method:   method,
		pollStep: bc.waitPoll,
	}, nil
}

// Close 关闭客户端
func (bc *BoundClient) Close() error {
	return nil
}

// chainTxHandle 链上交易句柄
type chainTxHandle struct {
	client   *BoundClient
	hash     common.Hash
	callMsg  ethereum.CallMsg
	method   string
	pollStep time.Duration
}

// Hash 返回交易哈希
func (h *chainTxHandle) Hash() string {
	return h.hash.Hex()
}

// Wait 轮询等待交易确认
func (h *chainTxHandle) Wait(ctx context.Context) (*types.Receipt, error) {
	ticker := time.NewTicker(h.pollStep)
	defer ticker.Stop()

	for {
		receipt, err := h.lookupReceipt(ctx)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, h.revertError(ctx, receipt)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, traceerrors.WrapError(ctx.Err(),
				traceerrors.ErrorTypeNetwork,
				traceerrors.SeverityMedium,
				"NETWORK_ERROR",
				"等待交易确认超时",
			).WithComponent("contract_client").WithTxHash(h.hash.Hex())
		case <-ticker.C:
		}
	}
}

// lookupReceipt 查询交易回执
func (h *chainTxHandle) lookupReceipt(ctx context.Context) (*types.Receipt, error) {
	wrapper, err := h.client.pool.NewConnectionWrapper()
	if err != nil {
		return nil, err
	}
	defer wrapper.Close()

	return wrapper.Client().TransactionReceipt(ctx, h.hash)
}

// revertError 在交易所在区块重放调用以提取回滚原因
func (h *chainTxHandle) revertError(ctx context.Context, receipt *types.Receipt) error {
	reason := ""

	wrapper, err := h.client.pool.NewConnectionWrapper()
	if err == nil {
		defer wrapper.Close()
		_, callErr := wrapper.Client().CallContract(ctx, h.callMsg, receipt.BlockNumber)
		if callErr != nil {
			reason = ExtractRevertReason(callErr)
		}
	}

	traceErr := traceerrors.NewTraceError(
		traceerrors.ErrorTypeTransactionReverted,
		traceerrors.SeverityMedium,
		"TX_REVERTED",
		"交易被合约回滚",
	).WithComponent("contract_client").
		WithTxHash(h.hash.Hex()).
		WithContext("method", h.method)
	if reason != "" {
		traceErr.WithRevertReason(reason)
	}
	return traceErr
}

// DecimalString 将合约返回的整数转换为十进制字符串
func DecimalString(v interface{}) string {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return "0"
		}
		return value.String()
	case uint8:
		return fmt.Sprintf("%d", value)
	case uint64:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// AddressString 将合约返回的地址转换为小写十六进制字符串
func AddressString(v interface{}) string {
	if addr, ok := v.(common.Address); ok {
		return strings.ToLower(addr.Hex())
	}
	return strings.ToLower(fmt.Sprintf("%v", v))
}
