package models

import (
	"fmt"
)

// Role 参与方角色（与合约中的枚举下标保持一致）
type Role uint8

const (
	RoleNone Role = iota
	RoleSupplier
	RoleShipper
	RoleRetailer
	RoleDeliveryHub
)

// 角色名称映射
var roleNames = map[Role]string{
	RoleNone:        "None",
	RoleSupplier:    "Supplier",
	RoleShipper:     "Shipper",
	RoleRetailer:    "Retailer",
	RoleDeliveryHub: "DeliveryHub",
}

// 每个角色允许记录的事件类型集合
var permittedEventTypes = map[Role][]string{
	RoleSupplier:    {"Produced", "Quality Check", "Packaged"},
	RoleShipper:     {"Shipped", "In Transit", "Arrived At Hub"},
	RoleRetailer:    {"Received", "On Shelf", "Sold"},
	RoleDeliveryHub: {"Hub Intake", "Dispatched", "Delivered"},
}

// String 返回角色的字符串表示
func (r Role) String() string {
	if name, exists := roleNames[r]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(r))
}

// Valid 判断角色值是否在已知范围内
func (r Role) Valid() bool {
	_, exists := roleNames[r]
	return exists
}

// PermittedEventTypes 返回该角色允许记录的事件类型
func (r Role) PermittedEventTypes() []string {
	types := permittedEventTypes[r]
	out := make([]string, len(types))
	copy(out, types)
	return out
}

// CanRecord 判断该角色是否允许记录指定事件类型
func (r Role) CanRecord(eventType string) bool {
	for _, t := range permittedEventTypes[r] {
		if t == eventType {
			return true
		}
	}
	return false
}

// ParseRole 从数字解析角色
func ParseRole(v uint8) (Role, error) {
	r := Role(v)
	if !r.Valid() {
		return RoleNone, fmt.Errorf("未知的角色值: %d", v)
	}
	return r, nil
}
