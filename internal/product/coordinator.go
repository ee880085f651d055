package product

import (
	"context"
	"math/big"
	"strings"

	"supplytrace/internal/company"
	"supplytrace/internal/contract"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/internal/validation"
	"supplytrace/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Coordinator 产品生命周期协调器
// 负责创建产品、记录流转事件与链上查询
// 所有授权与输入检查在广播前完成，被拒的操作不产生链上交易
type Coordinator struct {
	client    contract.Client
	resolver  *company.Resolver
	validator *validation.Validator
	guard     company.SessionGuard
	hasher    *Hasher
	origin    string
	logger    *logrus.Logger
}

// NewCoordinator 创建产品协调器
// origin用于拼接产品详情链接
func NewCoordinator(client contract.Client, resolver *company.Resolver, validator *validation.Validator, guard company.SessionGuard, origin string, logger *logrus.Logger) *Coordinator {
	if guard == nil {
		guard = company.AlwaysCurrent()
	}
	return &Coordinator{
		client:    client,
		resolver:  resolver,
		validator: validator,
		guard:     guard,
		hasher:    NewHasher(),
		origin:    strings.TrimRight(origin, "/"),
		logger:    logger,
	}
}

// Hasher 返回内部哈希生成器
func (c *Coordinator) Hasher() *Hasher {
	return c.hasher
}

// CreateProduct 创建产品
// 要求会话公司已注册并通过验证；哈希在客户端生成后随交易上链
func (c *Coordinator) CreateProduct(ctx context.Context, session *models.WalletSession, input *models.CreateProductInput) (*models.CreateResult, error) {
	if result := c.validator.ValidateProductInput(input); !result.Valid {
		return nil, result.FirstError()
	}

	identity, err := c.resolver.Resolve(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := requireVerifiedCompany(identity); err != nil {
		return nil, err
	}

	contentHash := c.hasher.ComputeContentHash(input, identity.Company.CompanyID)

	supplyChainID, ok := new(big.Int).SetString(input.SupplyChainID, 10)
	if !ok {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeValidation,
			traceerrors.SeverityMedium,
			"INVALID_SUPPLY_CHAIN_ID",
			"供应链ID必须为十进制数字",
		).WithComponent("product_coordinator")
	}

	handle, err := c.client.Write(ctx, "createProduct", nil,
		input.Name,
		input.Description,
		input.BatchNumber,
		supplyChainID,
		contentHash,
		big.NewInt(input.ProductionDate.Unix()),
	)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return nil, err
	}

	if !c.guard.IsCurrent(session.Token) {
		return nil, staleSessionError(session, handle.Hash())
	}

	// 确认后回读，保证返回的是链上视角的记录
	record, err := c.GetProductByHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}

	result := &models.CreateResult{
		Hash:    record.ContentHash,
		TxHash:  handle.Hash(),
		QRLink:  c.QRLink(record.ContentHash),
		Company: record.CreatorCompanyID,
	}

	c.logger.WithFields(logrus.Fields{
		"wallet":       session.Address,
		"content_hash": result.Hash,
		"tx_hash":      result.TxHash,
	}).Info("产品创建已确认")

	return result, nil
}

// RecordEvent 记录产品流转事件
// 事件类型受会话角色的白名单约束，越权在广播前被拒绝
func (c *Coordinator) RecordEvent(ctx context.Context, session *models.WalletSession, contentHash, eventType, location, notes string) (string, error) {
	if result := c.validator.ValidateContentHash(contentHash); !result.Valid {
		return "", result.FirstError()
	}

	identity, err := c.resolver.Resolve(ctx, session)
	if err != nil {
		return "", err
	}
	if err := requireVerifiedCompany(identity); err != nil {
		return "", err
	}
	if result := c.validator.ValidateEventInput(identity.Role, eventType, location); !result.Valid {
		return "", result.FirstError()
	}

	// 目标产品必须存在，避免对空键发交易
	record, err := c.GetProductByHash(ctx, contentHash)
	if err != nil {
		return "", err
	}
	if !record.Exists {
		return "", NotFoundError(contentHash)
	}

	handle, err := c.client.Write(ctx, "recordProductEvent", nil, contentHash, eventType, location, notes)
	if err != nil {
		return "", err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return handle.Hash(), err
	}

	if !c.guard.IsCurrent(session.Token) {
		return handle.Hash(), staleSessionError(session, handle.Hash())
	}

	c.logger.WithFields(logrus.Fields{
		"wallet":       session.Address,
		"content_hash": contentHash,
		"event_type":   eventType,
		"tx_hash":      handle.Hash(),
	}).Info("产品事件已记录")

	return handle.Hash(), nil
}

// NotFoundError 未知哈希的展示态错误，由需要失败语义的调用方构造
func NotFoundError(contentHash string) *traceerrors.TraceError {
	return traceerrors.NewTraceError(
		traceerrors.ErrorTypeNotFound,
		traceerrors.SeverityLow,
		"NOT_FOUND",
		"产品不存在",
	).WithComponent("product_coordinator").WithContext("content_hash", contentHash)
}

// GetProductByHash 按内容哈希查询产品
// 未知哈希返回exists为false的零值记录，不作为错误
func (c *Coordinator) GetProductByHash(ctx context.Context, contentHash string) (*models.ProductRecord, error) {
	if result := c.validator.ValidateContentHash(contentHash); !result.Valid {
		return nil, result.FirstError()
	}

	values, err := c.client.Read(ctx, "getProductByHash", contentHash)
	if err != nil {
		return nil, err
	}

	exists, _ := values[8].(bool)
	if !exists {
		return &models.ProductRecord{Exists: false}, nil
	}

	productionDate, ok := values[4].(*big.Int)
	if !ok {
		productionDate = big.NewInt(0)
	}

	return &models.ProductRecord{
		ID:               contract.DecimalString(values[0]),
		Name:             values[1].(string),
		Description:      values[2].(string),
		BatchNumber:      values[3].(string),
		ProductionDate:   productionDate.Int64(),
		CreatorCompanyID: contract.DecimalString(values[5]),
		SupplyChainID:    contract.DecimalString(values[6]),
		ContentHash:      values[7].(string),
		Exists:           true,
	}, nil
}

// GetHistory 查询产品历史事件
// 链上以六个并行数组返回，这里聚合为事件切片，保持插入顺序
func (c *Coordinator) GetHistory(ctx context.Context, contentHash string) ([]*models.HistoryEvent, error) {
	if result := c.validator.ValidateContentHash(contentHash); !result.Valid {
		return nil, result.FirstError()
	}

	values, err := c.client.Read(ctx, "getProductHistory", contentHash)
	if err != nil {
		return nil, err
	}

	timestamps := values[0].([]*big.Int)
	actors := values[1].([]common.Address)
	companyIDs := values[2].([]*big.Int)
	eventTypes := values[3].([]string)
	locations := values[4].([]string)
	notes := values[5].([]string)

	events := make([]*models.HistoryEvent, 0, len(timestamps))
	for i := range timestamps {
		events = append(events, &models.HistoryEvent{
			Timestamp:      timestamps[i].Int64(),
			ActorWallet:    contract.AddressString(actors[i]),
			ActorCompanyID: contract.DecimalString(companyIDs[i]),
			EventType:      eventTypes[i],
			Location:       locations[i],
			Notes:          notes[i],
		})
	}
	return events, nil
}

// QRLink 构造产品详情链接
func (c *Coordinator) QRLink(contentHash string) string {
	return c.origin + "/product/" + contentHash
}

// requireVerifiedCompany 产品操作要求已验证的公司身份
func requireVerifiedCompany(identity *company.Identity) error {
	if !identity.Company.IsRegistered() {
		return traceerrors.NewTraceError(
			traceerrors.ErrorTypeAuthorization,
			traceerrors.SeverityLow,
			"NOT_AUTHORIZED",
			"该钱包未注册公司",
		).WithComponent("product_coordinator").WithWallet(identity.Session.Address)
	}
	if !identity.Company.IsVerified {
		return traceerrors.NewTraceError(
			traceerrors.ErrorTypeAuthorization,
			traceerrors.SeverityLow,
			"NOT_AUTHORIZED",
			"公司尚未通过验证",
		).WithComponent("product_coordinator").WithWallet(identity.Session.Address)
	}
	return nil
}

// staleSessionError 会话过期错误
func staleSessionError(session *models.WalletSession, txHash string) error {
	return traceerrors.NewTraceError(
		traceerrors.ErrorTypeSession,
		traceerrors.SeverityMedium,
		"SESSION_STALE",
		"会话已切换，操作结果被丢弃",
	).WithComponent("product_coordinator").
		WithWallet(session.Address).
		WithTxHash(txHash)
}
