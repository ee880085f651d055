package viewstate

import (
	"fmt"
	"sync"

	"supplytrace/internal/company"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/pkg/models"
)

// ScreenState 会话屏幕状态
type ScreenState string

const (
	ScreenConnecting          ScreenState = "connecting"
	ScreenResolving           ScreenState = "resolving"
	ScreenUnregistered        ScreenState = "unregistered"
	ScreenPendingVerification ScreenState = "pending_verification"
	ScreenReady               ScreenState = "ready"
	ScreenUnauthorized        ScreenState = "unauthorized"
)

// screenTransitions 屏幕状态的合法迁移表
// 账户或链切换允许从任意非终态回到connecting；unauthorized是终态
var screenTransitions = map[ScreenState][]ScreenState{
	ScreenConnecting:          {ScreenResolving},
	ScreenResolving:           {ScreenUnregistered, ScreenPendingVerification, ScreenReady, ScreenUnauthorized, ScreenConnecting},
	ScreenUnregistered:        {ScreenResolving, ScreenConnecting},
	ScreenPendingVerification: {ScreenResolving, ScreenConnecting},
	ScreenReady:               {ScreenResolving, ScreenConnecting},
	ScreenUnauthorized:        {},
}

// ScreenMachine 会话屏幕状态机
// 错误维度与屏幕状态正交：展示错误时不丢失底层状态
type ScreenMachine struct {
	mu      sync.RWMutex
	current ScreenState
	lastErr *traceerrors.TraceError
}

// NewScreenMachine 创建屏幕状态机，初始为connecting
func NewScreenMachine() *ScreenMachine {
	return &ScreenMachine{current: ScreenConnecting}
}

// Current 返回当前屏幕状态
func (m *ScreenMachine) Current() ScreenState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition 执行状态迁移，非法迁移被拒绝
func (m *ScreenMachine) Transition(to ScreenState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range screenTransitions[m.current] {
		if allowed == to {
			m.current = to
			return nil
		}
	}
	return traceerrors.NewTraceError(
		traceerrors.ErrorTypeValidation,
		traceerrors.SeverityLow,
		"INVALID_TRANSITION",
		fmt.Sprintf("屏幕状态不允许从 %s 迁移到 %s", m.current, to),
	).WithComponent("viewstate")
}

// ApplyIdentity 根据身份解析结果迁移屏幕状态
// 必须处于resolving状态
func (m *ScreenMachine) ApplyIdentity(identity *company.Identity) error {
	return m.Transition(ScreenForIdentity(identity))
}

// SetError 记录展示错误，不改变屏幕状态
func (m *ScreenMachine) SetError(err error) {
	m.mu.Lock()
	m.lastErr = traceerrors.AsTraceError(err)
	m.mu.Unlock()
}

// ClearError 清除展示错误
func (m *ScreenMachine) ClearError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// LastError 返回当前展示错误，可能为nil
func (m *ScreenMachine) LastError() *traceerrors.TraceError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// ScreenForIdentity 身份解析结果对应的目标屏幕
func ScreenForIdentity(identity *company.Identity) ScreenState {
	switch {
	case identity == nil:
		return ScreenConnecting
	case identity.IsAdmin:
		return ScreenReady
	case !identity.Company.IsRegistered():
		return ScreenUnregistered
	case !identity.Company.IsVerified:
		return ScreenPendingVerification
	default:
		return ScreenReady
	}
}

// ScreenForAdminView 管理员视图对应的目标屏幕
// 非管理员钱包落在unauthorized终态，只能换账户重连退出
func ScreenForAdminView(identity *company.Identity) ScreenState {
	switch {
	case identity == nil:
		return ScreenConnecting
	case !identity.IsAdmin:
		return ScreenUnauthorized
	default:
		return ScreenReady
	}
}

// ProductState 产品详情页状态
type ProductState string

const (
	ProductIdle       ProductState = "idle"
	ProductLoading    ProductState = "loading"
	ProductFound      ProductState = "found"
	ProductNotFound   ProductState = "not_found"
	ProductFailed     ProductState = "failed"
	ProductSubmitting ProductState = "submitting"
	ProductConfirmed  ProductState = "confirmed"
	ProductRejected   ProductState = "rejected"
)

// productTransitions 产品页状态的合法迁移表
// 确认后回到loading刷新链上记录；被拒后可重试提交
var productTransitions = map[ProductState][]ProductState{
	ProductIdle:       {ProductLoading},
	ProductLoading:    {ProductFound, ProductNotFound, ProductFailed},
	ProductFound:      {ProductSubmitting, ProductLoading},
	ProductNotFound:   {ProductLoading},
	ProductFailed:     {ProductLoading},
	ProductSubmitting: {ProductConfirmed, ProductRejected},
	ProductConfirmed:  {ProductLoading},
	ProductRejected:   {ProductSubmitting, ProductFound, ProductLoading},
}

// ProductMachine 产品详情页状态机
type ProductMachine struct {
	mu      sync.RWMutex
	current ProductState
	record  *models.ProductRecord
	lastErr *traceerrors.TraceError
}

// NewProductMachine 创建产品状态机，初始为idle
func NewProductMachine() *ProductMachine {
	return &ProductMachine{current: ProductIdle}
}

// Current 返回当前产品页状态
func (m *ProductMachine) Current() ProductState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Record 返回已加载的产品记录，可能为nil
func (m *ProductMachine) Record() *models.ProductRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record
}

// LastError 返回最近一次失败原因，可能为nil
func (m *ProductMachine) LastError() *traceerrors.TraceError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Transition 执行状态迁移，非法迁移被拒绝
func (m *ProductMachine) Transition(to ProductState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *ProductMachine) transitionLocked(to ProductState) error {
	for _, allowed := range productTransitions[m.current] {
		if allowed == to {
			m.current = to
			return nil
		}
	}
	return traceerrors.NewTraceError(
		traceerrors.ErrorTypeValidation,
		traceerrors.SeverityLow,
		"INVALID_TRANSITION",
		fmt.Sprintf("产品状态不允许从 %s 迁移到 %s", m.current, to),
	).WithComponent("viewstate")
}

// ApplyLookup 根据查询结果从loading迁移
// exists为false的零值记录与NOT_FOUND错误都映射到not_found展示态，其余错误映射到failed
func (m *ProductMachine) ApplyLookup(record *models.ProductRecord, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		traced := traceerrors.AsTraceError(err)
		m.lastErr = traced
		if traceerrors.IsCode(err, "NOT_FOUND") {
			return m.transitionLocked(ProductNotFound)
		}
		return m.transitionLocked(ProductFailed)
	}

	if record == nil || !record.Exists {
		m.lastErr = nil
		return m.transitionLocked(ProductNotFound)
	}

	m.record = record
	m.lastErr = nil
	return m.transitionLocked(ProductFound)
}

// ApplySubmit 根据提交结果从submitting迁移
func (m *ProductMachine) ApplySubmit(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.lastErr = traceerrors.AsTraceError(err)
		return m.transitionLocked(ProductRejected)
	}
	m.lastErr = nil
	return m.transitionLocked(ProductConfirmed)
}
