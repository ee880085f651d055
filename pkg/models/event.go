package models

import (
	"time"
)

// CompanyVerifiedEvent 合约 CompanyVerified 通知
type CompanyVerifiedEvent struct {
	CompanyID   string    `json:"company_id"`   // 公司ID（十进制字符串）
	Name        string    `json:"name"`         // 公司名称
	Wallet      string    `json:"wallet"`       // 公司钱包地址（小写）
	BlockNumber uint64    `json:"block_number"` // 事件所在区块
	TxHash      string    `json:"tx_hash"`      // 事件所在交易
	ObservedAt  time.Time `json:"observed_at"`  // 本地观测时间
}

// ToKafkaMessage 转换为Kafka消息格式
func (e *CompanyVerifiedEvent) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":         "company_verified",
		"company_id":   e.CompanyID,
		"name":         e.Name,
		"wallet":       e.Wallet,
		"block_number": e.BlockNumber,
		"tx_hash":      e.TxHash,
		"observed_at":  e.ObservedAt.Unix(),
	}
}

// ProductEventNotice 合约 ProductEventRecorded 通知
type ProductEventNotice struct {
	ContentHash string    `json:"content_hash"` // 产品内容哈希
	EventType   string    `json:"event_type"`   // 事件类型
	Location    string    `json:"location"`     // 位置
	ActorWallet string    `json:"actor_wallet"` // 记录方钱包地址（小写）
	BlockNumber uint64    `json:"block_number"` // 事件所在区块
	TxHash      string    `json:"tx_hash"`      // 确认交易哈希
	ObservedAt  time.Time `json:"observed_at"`  // 本地观测时间
}

// ToKafkaMessage 转换为Kafka消息格式
func (e *ProductEventNotice) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":         "product_event",
		"content_hash": e.ContentHash,
		"event_type":   e.EventType,
		"location":     e.Location,
		"actor_wallet": e.ActorWallet,
		"block_number": e.BlockNumber,
		"tx_hash":      e.TxHash,
		"observed_at":  e.ObservedAt.Unix(),
	}
}

// ProductCreatedEvent 合约 ProductCreated 通知
type ProductCreatedEvent struct {
	ProductID     string    `json:"product_id"`      // 产品ID（十进制字符串）
	ContentHash   string    `json:"content_hash"`    // 产品内容哈希
	CompanyID     string    `json:"company_id"`      // 创建公司ID
	SupplyChainID string    `json:"supply_chain_id"` // 供应链ID
	BlockNumber   uint64    `json:"block_number"`    // 事件所在区块
	TxHash        string    `json:"tx_hash"`         // 事件所在交易
	ObservedAt    time.Time `json:"observed_at"`     // 本地观测时间
}

// ToKafkaMessage 转换为Kafka消息格式
func (e *ProductCreatedEvent) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":            "product_created",
		"product_id":      e.ProductID,
		"content_hash":    e.ContentHash,
		"company_id":      e.CompanyID,
		"supply_chain_id": e.SupplyChainID,
		"block_number":    e.BlockNumber,
		"tx_hash":         e.TxHash,
		"observed_at":     e.ObservedAt.Unix(),
	}
}
