package events

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"supplytrace/internal/config"
	"supplytrace/internal/contract"
	"supplytrace/internal/output"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"supplytrace/pkg/models"
)

// LogSource 日志查询来源，ethclient.Client满足该接口
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// CompanyVerifiedListener 公司验证事件回调
type CompanyVerifiedListener func(*models.CompanyVerifiedEvent)

// Watcher 合约事件监听器
// 轮询FilterLogs解码合约事件并转发到输出
type Watcher struct {
	source       LogSource
	sink         output.Sink
	cursor       *Cursor
	logger       *logrus.Logger
	address      common.Address
	contractABI  abi.ABI
	pollInterval time.Duration
	batchBlocks  uint64
	clock        func() time.Time
	onVerified   []CompanyVerifiedListener
}

// NewWatcher 创建事件监听器
func NewWatcher(source LogSource, sink output.Sink, cursor *Cursor, cfg *config.WatcherConfig, contractAddress string, logger *logrus.Logger) (*Watcher, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("无效的合约地址: %s", contractAddress)
	}

	contractABI, err := contract.SupplyChainABI()
	if err != nil {
		return nil, fmt.Errorf("解析合约ABI失败: %w", err)
	}

	pollInterval := 5 * time.Second
	if cfg != nil && cfg.PollInterval != "" {
		if parsed, err := time.ParseDuration(cfg.PollInterval); err == nil {
			pollInterval = parsed
		}
	}

	batchBlocks := uint64(1000)
	if cfg != nil && cfg.BatchBlocks > 0 {
		batchBlocks = cfg.BatchBlocks
	}

	watcher := &Watcher{
		source:       source,
		sink:         sink,
		cursor:       cursor,
		logger:       logger,
		address:      common.HexToAddress(contractAddress),
		contractABI:  contractABI,
		pollInterval: pollInterval,
		batchBlocks:  batchBlocks,
		clock:        time.Now,
	}

	if cfg != nil && cfg.StartBlock > 0 {
		if err := cursor.SetStartBlock(cfg.StartBlock); err != nil {
			logger.Warnf("设置起始区块失败: %v", err)
		}
	}

	return watcher, nil
}

// SetClock 替换时钟，仅用于测试
func (w *Watcher) SetClock(clock func() time.Time) {
	w.clock = clock
}

// OnCompanyVerified 注册公司验证事件回调
// 用于在链上确认后让身份缓存失效，必须在Run之前调用
func (w *Watcher) OnCompanyVerified(fn CompanyVerifiedListener) {
	w.onVerified = append(w.onVerified, fn)
}

// Run 启动监听循环，阻塞直到ctx取消
func (w *Watcher) Run(ctx context.Context) error {
	// 游标为空时从最新区块开始，不回放历史
	if w.cursor.LastScannedBlock() == 0 {
		head, err := w.source.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("查询最新区块失败: %w", err)
		}
		if err := w.cursor.SetStartBlock(head); err != nil {
			w.logger.Warnf("初始化游标失败: %v", err)
		}
	}

	w.logger.WithFields(logrus.Fields{
		"contract":      w.address.Hex(),
		"poll_interval": w.pollInterval.String(),
		"from_block":    w.cursor.LastScannedBlock(),
	}).Info("事件监听已启动")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("事件监听已停止")
			return nil
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				w.logger.Warnf("事件轮询失败: %v", err)
			}
		}
	}
}

// Poll 执行一轮日志扫描
// 单独导出便于命令行一次性扫描与测试驱动
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("查询最新区块失败: %w", err)
	}

	from := w.cursor.LastScannedBlock() + 1
	if from > head {
		return nil
	}

	to := from + w.batchBlocks - 1
	if to > head {
		to = head
	}

	logs, err := w.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.address},
	})
	if err != nil {
		return fmt.Errorf("查询合约日志失败: %w", err)
	}

	var companyVerified, productCreated, productEvents uint64
	for _, entry := range logs {
		if len(entry.Topics) == 0 {
			continue
		}

		switch entry.Topics[0] {
		case w.contractABI.Events["CompanyVerified"].ID:
			if err := w.handleCompanyVerified(entry); err != nil {
				w.logger.Warnf("处理CompanyVerified事件失败: %v", err)
				continue
			}
			companyVerified++
		case w.contractABI.Events["ProductCreated"].ID:
			if err := w.handleProductCreated(entry); err != nil {
				w.logger.Warnf("处理ProductCreated事件失败: %v", err)
				continue
			}
			productCreated++
		case w.contractABI.Events["ProductEventRecorded"].ID:
			if err := w.handleProductEvent(entry); err != nil {
				w.logger.Warnf("处理ProductEventRecorded事件失败: %v", err)
				continue
			}
			productEvents++
		}
	}

	if err := w.cursor.Advance(to, companyVerified, productCreated, productEvents); err != nil {
		return fmt.Errorf("推进游标失败: %w", err)
	}

	if companyVerified > 0 || productCreated > 0 || productEvents > 0 {
		w.logger.WithFields(logrus.Fields{
			"from_block":       from,
			"to_block":         to,
			"company_verified": companyVerified,
			"product_created":  productCreated,
			"product_events":   productEvents,
		}).Info("扫描到合约事件")
	}

	return nil
}

// handleCompanyVerified 解码并转发CompanyVerified事件
func (w *Watcher) handleCompanyVerified(entry types.Log) error {
	if len(entry.Topics) < 2 {
		return fmt.Errorf("CompanyVerified事件缺少索引主题")
	}

	var payload struct {
		Name   string
		Wallet common.Address
	}
	if err := w.contractABI.UnpackIntoInterface(&payload, "CompanyVerified", entry.Data); err != nil {
		return fmt.Errorf("解码事件数据失败: %w", err)
	}

	companyID := new(big.Int).SetBytes(entry.Topics[1].Bytes())

	event := &models.CompanyVerifiedEvent{
		CompanyID:   companyID.String(),
		Name:        payload.Name,
		Wallet:      contract.AddressString(payload.Wallet),
		BlockNumber: entry.BlockNumber,
		TxHash:      entry.TxHash.Hex(),
		ObservedAt:  w.clock(),
	}

	for _, fn := range w.onVerified {
		fn(event)
	}

	return w.sink.WriteCompanyVerified(event)
}

// handleProductCreated 解码并转发ProductCreated事件
func (w *Watcher) handleProductCreated(entry types.Log) error {
	if len(entry.Topics) < 2 {
		return fmt.Errorf("ProductCreated事件缺少索引主题")
	}

	var payload struct {
		ContentHash      string
		CreatorCompanyId *big.Int
		SupplyChainId    *big.Int
	}
	if err := w.contractABI.UnpackIntoInterface(&payload, "ProductCreated", entry.Data); err != nil {
		return fmt.Errorf("解码事件数据失败: %w", err)
	}

	productID := new(big.Int).SetBytes(entry.Topics[1].Bytes())

	return w.sink.WriteProductCreated(&models.ProductCreatedEvent{
		ProductID:     productID.String(),
		ContentHash:   payload.ContentHash,
		CompanyID:     contract.DecimalString(payload.CreatorCompanyId),
		SupplyChainID: contract.DecimalString(payload.SupplyChainId),
		BlockNumber:   entry.BlockNumber,
		TxHash:        entry.TxHash.Hex(),
		ObservedAt:    w.clock(),
	})
}

// handleProductEvent 解码并转发ProductEventRecorded事件
func (w *Watcher) handleProductEvent(entry types.Log) error {
	var payload struct {
		ContentHash string
		EventType   string
		Location    string
		Actor       common.Address
	}
	if err := w.contractABI.UnpackIntoInterface(&payload, "ProductEventRecorded", entry.Data); err != nil {
		return fmt.Errorf("解码事件数据失败: %w", err)
	}

	return w.sink.WriteProductEvent(&models.ProductEventNotice{
		ContentHash: payload.ContentHash,
		EventType:   payload.EventType,
		Location:    payload.Location,
		ActorWallet: contract.AddressString(payload.Actor),
		BlockNumber: entry.BlockNumber,
		TxHash:      entry.TxHash.Hex(),
		ObservedAt:  w.clock(),
	})
}
