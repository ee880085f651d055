package models

import (
	"strings"
)

// UnregisteredCompanyID 未注册哨兵值（合约返回0表示钱包未绑定公司）
const UnregisteredCompanyID = "0"

// CompanyRecord 公司记录
type CompanyRecord struct {
	CompanyID   string `json:"company_id"`  // 十进制字符串，"0" 表示未注册
	Name        string `json:"name"`        // 公司名称
	Description string `json:"description"` // 公司描述
	Wallet      string `json:"wallet"`      // 小写十六进制钱包地址
	IsVerified  bool   `json:"is_verified"` // 是否已通过管理员验证
}

// UnregisteredCompany 创建未注册哨兵记录
func UnregisteredCompany(wallet string) *CompanyRecord {
	return &CompanyRecord{
		CompanyID:  UnregisteredCompanyID,
		Wallet:     strings.ToLower(wallet),
		IsVerified: false,
	}
}

// IsRegistered 判断公司是否已在链上注册
func (c *CompanyRecord) IsRegistered() bool {
	return c != nil && c.CompanyID != "" && c.CompanyID != UnregisteredCompanyID
}

// Status 返回公司的展示状态
func (c *CompanyRecord) Status() string {
	switch {
	case !c.IsRegistered():
		return "unregistered"
	case !c.IsVerified:
		return "pending_verification"
	default:
		return "verified"
	}
}
