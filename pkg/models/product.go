package models

import (
	"time"
)

// ProductRecord 产品记录
type ProductRecord struct {
	ID               string `json:"id"`                 // 链上产品ID（十进制字符串）
	Name             string `json:"name"`               // 产品名称
	Description      string `json:"description"`        // 产品描述
	BatchNumber      string `json:"batch_number"`       // 批次号（BATCH-####）
	ProductionDate   int64  `json:"production_date"`    // 生产日期（Unix秒）
	CreatorCompanyID string `json:"creator_company_id"` // 创建公司ID（十进制字符串）
	SupplyChainID    string `json:"supply_chain_id"`    // 供应链ID（十进制字符串）
	ContentHash      string `json:"content_hash"`       // 64位十六进制内容哈希（链上查询键）
	Exists           bool   `json:"exists"`             // 产品是否存在；全零哨兵时为false
}

// HistoryEvent 产品生命周期事件（按链上插入顺序排列，一经记录不可变）
type HistoryEvent struct {
	Timestamp      int64  `json:"timestamp"`        // 记录时间（Unix秒）
	ActorWallet    string `json:"actor_wallet"`     // 记录方钱包地址（小写）
	ActorCompanyID string `json:"actor_company_id"` // 记录方公司ID（十进制字符串）
	EventType      string `json:"event_type"`       // 事件类型（受角色约束）
	Location       string `json:"location"`         // 位置
	Notes          string `json:"notes"`            // 备注
}

// CreateProductInput 产品创建输入
type CreateProductInput struct {
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	BatchNumber    string    `json:"batch_number"`
	ProductionDate time.Time `json:"production_date"`
	SupplyChainID  string    `json:"supply_chain_id"`
}

// CreateResult 产品创建结果
type CreateResult struct {
	Hash    string `json:"hash"`     // 客户端生成的内容哈希
	TxHash  string `json:"tx_hash"`  // 确认交易哈希
	QRLink  string `json:"qr_link"`  // 用于QR编码的产品详情链接
	Company string `json:"company"`  // 创建公司ID
}
