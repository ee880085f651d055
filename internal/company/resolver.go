package company

import (
	"context"
	"strings"
	"sync"

	"supplytrace/internal/cache"
	"supplytrace/internal/contract"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/internal/retry"
	"supplytrace/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Identity 解析后的链上身份
type Identity struct {
	Session *models.WalletSession `json:"session"`
	Company *models.CompanyRecord `json:"company"`
	Role    models.Role           `json:"role"`
	IsAdmin bool                  `json:"is_admin"`
}

// Resolver 钱包身份解析器
// 解析结果按会话令牌缓存，账户或链切换后自动失效
type Resolver struct {
	client  contract.Client
	store   cache.Store
	retrier *retry.Retrier
	logger  *logrus.Logger

	mu     sync.RWMutex
	cached *Identity
}

// NewResolver 创建身份解析器
func NewResolver(client contract.Client, store cache.Store, logger *logrus.Logger) *Resolver {
	return &Resolver{
		client:  client,
		store:   store,
		retrier: retry.NewRetrier(retry.ResolveRetryConfig, logger),
		logger:  logger,
	}
}

// Resolve 解析会话对应的公司、角色与管理员身份
// companyId为0时直接短路返回未注册身份，不再请求公司详情
func (r *Resolver) Resolve(ctx context.Context, session *models.WalletSession) (*Identity, error) {
	if session == nil {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeWallet,
			traceerrors.SeverityMedium,
			"WALLET_UNAVAILABLE",
			"没有活跃的钱包会话",
		).WithComponent("company_resolver")
	}

	r.mu.RLock()
	if r.cached != nil && r.cached.Session.Token == session.Token {
		cached := r.cached
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	// 解析失败会把界面卡在加载态，走专用重试配置
	var identity *Identity
	err := r.retrier.Execute(ctx, retry.KindResolve, "resolve_identity", func() error {
		fresh, rerr := r.resolveFresh(ctx, session)
		if rerr != nil {
			return rerr
		}
		identity = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// 只缓存仍然是最新令牌的结果
	if r.cached == nil || r.cached.Session.Token <= session.Token {
		r.cached = identity
	}
	r.mu.Unlock()

	return identity, nil
}

// resolveFresh 绕过缓存执行完整解析
func (r *Resolver) resolveFresh(ctx context.Context, session *models.WalletSession) (*Identity, error) {
	wallet := strings.ToLower(session.Address)
	walletAddr := common.HexToAddress(wallet)

	adminValues, err := r.client.Read(ctx, "admin")
	if err != nil {
		return nil, err
	}
	adminAddr := contract.AddressString(adminValues[0])
	isAdmin := adminAddr == wallet

	idValues, err := r.client.Read(ctx, "getCompanyIdByWallet", walletAddr)
	if err != nil {
		return nil, err
	}
	companyID := contract.DecimalString(idValues[0])

	var record *models.CompanyRecord
	if companyID == models.UnregisteredCompanyID {
		// 未注册身份短路，省掉一次链上请求
		record = models.UnregisteredCompany(wallet)
	} else {
		details, err := r.client.Read(ctx, "getCompanyDetails", idValues[0])
		if err != nil {
			return nil, err
		}
		record = &models.CompanyRecord{
			CompanyID:   contract.DecimalString(details[0]),
			Name:        details[1].(string),
			Description: details[2].(string),
			Wallet:      contract.AddressString(details[3]),
			IsVerified:  details[4].(bool),
		}
	}

	roleValues, err := r.client.Read(ctx, "roles", walletAddr)
	if err != nil {
		return nil, err
	}
	role, _ := models.ParseRole(roleValues[0].(uint8))

	identity := &Identity{
		Session: session,
		Company: record,
		Role:    role,
		IsAdmin: isAdmin,
	}

	r.reconcileRequestCache(identity)

	r.logger.WithFields(logrus.Fields{
		"wallet":     wallet,
		"company_id": record.CompanyID,
		"verified":   record.IsVerified,
		"role":       role.String(),
		"is_admin":   isAdmin,
	}).Debug("身份解析完成")

	return identity, nil
}

// reconcileRequestCache 用链上状态校正本地注册请求缓存
// 公司已验证时删除本地标记；已注册未验证时标记等待链上验证
func (r *Resolver) reconcileRequestCache(identity *Identity) {
	if r.store == nil {
		return
	}
	wallet := identity.Company.Wallet
	if wallet == "" {
		wallet = identity.Session.Address
	}

	req, ok, err := r.store.GetRequest(wallet)
	if err != nil {
		r.logger.Warnf("读取注册请求缓存失败: %v", err)
		return
	}
	if !ok {
		return
	}

	if !identity.Company.IsRegistered() {
		return
	}

	if identity.Company.IsVerified {
		if err := r.store.DeleteRequest(wallet); err != nil {
			r.logger.Warnf("删除已完成的注册请求失败: %v", err)
		}
		return
	}

	if req.Status != models.RequestStatusPendingOnChain {
		req.Status = models.RequestStatusPendingOnChain
		if err := r.store.PutRequest(req); err != nil {
			r.logger.Warnf("更新注册请求状态失败: %v", err)
		}
	}
}

// Invalidate 使缓存失效
// 账户切换、链切换、以及任何改写公司状态的交易确认后都应调用
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// CachedToken 返回当前缓存对应的会话令牌，仅用于观测
func (r *Resolver) CachedToken() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == nil {
		return 0, false
	}
	return r.cached.Session.Token, true
}
