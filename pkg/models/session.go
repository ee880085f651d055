package models

// WalletSession 钱包会话
//
// 连接时创建；账户或链切换时整体替换（新令牌）；断开时销毁。
// 只由钱包会话适配器持有和替换。
type WalletSession struct {
	Address string `json:"address"`  // 小写十六进制地址
	ChainID string `json:"chain_id"` // 链ID（十进制字符串）
	Token   uint64 `json:"token"`    // 会话令牌；用于在途操作的过期判定
}

// SameIdentity 判断两个会话是否指向相同的账户与链
func (s *WalletSession) SameIdentity(other *WalletSession) bool {
	if s == nil || other == nil {
		return false
	}
	return s.Address == other.Address && s.ChainID == other.ChainID
}
