package models

// 注册请求状态
const (
	RequestStatusPending        = "pending"          // 仅本地记录，尚未上链
	RequestStatusPendingOnChain = "pending_on_chain" // 已上链，等待管理员验证
	RequestStatusApproved       = "approved"         // 已验证（通常随即被权威状态清除）
)

// RegistrationRequest 公司注册请求（本地缓存记录，仅作参考，链上状态优先）
type RegistrationRequest struct {
	Wallet      string `json:"wallet"`       // 小写钱包地址
	Name        string `json:"name"`         // 公司名称
	Description string `json:"description"`  // 公司描述
	Status      string `json:"status"`       // pending / pending_on_chain / approved
	TxHash      string `json:"tx_hash"`      // 注册交易哈希（如已上链）
	SubmittedAt int64  `json:"submitted_at"` // 提交时间（unix秒）
}

// InviteRecord 参与方邀请记录（本地缓存记录）
type InviteRecord struct {
	Wallet    string `json:"wallet"`     // 被邀请钱包地址（小写）
	Role      Role   `json:"role"`       // 授予的角色
	InvitedBy string `json:"invited_by"` // 发起邀请的管理员地址（小写）
	TxHash    string `json:"tx_hash"`    // 邀请交易哈希
	InvitedAt int64  `json:"invited_at"` // 邀请时间（unix秒）
}
