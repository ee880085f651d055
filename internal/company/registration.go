package company

import (
	"context"
	"math/big"
	"strings"
	"time"

	"supplytrace/internal/cache"
	"supplytrace/internal/contract"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/internal/validation"
	"supplytrace/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// SessionGuard 会话令牌校验
type SessionGuard interface {
	IsCurrent(token uint64) bool
}

// alwaysCurrent 不做会话校验的占位实现
type alwaysCurrent struct{}

func (alwaysCurrent) IsCurrent(uint64) bool { return true }

// AlwaysCurrent 返回永远通过的会话校验，用于不跟踪会话的调用方
func AlwaysCurrent() SessionGuard { return alwaysCurrent{} }

// Service 公司注册、验证与邀请服务
// 所有门禁检查在广播前完成，被拒的操作不会产生任何链上交易
type Service struct {
	client    contract.Client
	resolver  *Resolver
	store     cache.Store
	validator *validation.Validator
	guard     SessionGuard
	logger    *logrus.Logger
	clock     func() time.Time
}

// NewService 创建公司服务
func NewService(client contract.Client, resolver *Resolver, store cache.Store, validator *validation.Validator, guard SessionGuard, logger *logrus.Logger) *Service {
	if guard == nil {
		guard = alwaysCurrent{}
	}
	return &Service{
		client:    client,
		resolver:  resolver,
		store:     store,
		validator: validator,
		guard:     guard,
		logger:    logger,
		clock:     time.Now,
	}
}

// Register 提交公司注册
// 已注册的钱包在广播前被拒绝
func (s *Service) Register(ctx context.Context, session *models.WalletSession, name, description string) (*models.RegistrationRequest, error) {
	if result := s.validator.ValidateCompanyInput(name, description); !result.Valid {
		return nil, result.FirstError()
	}

	identity, err := s.resolver.Resolve(ctx, session)
	if err != nil {
		return nil, err
	}
	if identity.Company.IsRegistered() {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeValidation,
			traceerrors.SeverityMedium,
			"VALIDATION_FAILED",
			"该钱包已注册公司",
		).WithComponent("company_service").WithWallet(session.Address)
	}

	handle, err := s.client.Write(ctx, "createCompany", nil, name, description)
	if err != nil {
		return nil, err
	}

	request := &models.RegistrationRequest{
		Wallet:      session.Address,
		Name:        name,
		Description: description,
		Status:      models.RequestStatusPending,
		TxHash:      handle.Hash(),
		SubmittedAt: s.clock().Unix(),
	}
	if err := s.store.PutRequest(request); err != nil {
		s.logger.Warnf("写入注册请求缓存失败: %v", err)
	}

	if _, err := handle.Wait(ctx); err != nil {
		// 交易回滚后本地标记没有意义
		if delErr := s.store.DeleteRequest(session.Address); delErr != nil {
			s.logger.Warnf("清理失败的注册请求失败: %v", delErr)
		}
		return nil, err
	}

	request.Status = models.RequestStatusPendingOnChain
	if err := s.store.PutRequest(request); err != nil {
		s.logger.Warnf("更新注册请求状态失败: %v", err)
	}

	s.resolver.Invalidate()

	if !s.guard.IsCurrent(session.Token) {
		return nil, staleSessionError(session, handle.Hash())
	}

	s.logger.WithFields(logrus.Fields{
		"wallet":  session.Address,
		"company": name,
		"tx_hash": handle.Hash(),
	}).Info("公司注册已上链，等待管理员验证")

	return request, nil
}

// Verify 管理员验证公司
// 非管理员在广播前被拒绝
func (s *Service) Verify(ctx context.Context, session *models.WalletSession, companyID string) (string, error) {
	identity, err := s.resolver.Resolve(ctx, session)
	if err != nil {
		return "", err
	}
	if !identity.IsAdmin {
		return "", traceerrors.NewTraceError(
			traceerrors.ErrorTypeAuthorization,
			traceerrors.SeverityLow,
			"NOT_AUTHORIZED",
			"只有管理员可以验证公司",
		).WithComponent("company_service").WithWallet(session.Address)
	}

	id, ok := new(big.Int).SetString(companyID, 10)
	if !ok {
		return "", traceerrors.NewTraceError(
			traceerrors.ErrorTypeValidation,
			traceerrors.SeverityMedium,
			"VALIDATION_FAILED",
			"公司ID必须为十进制数字",
		).WithComponent("company_service")
	}

	// 预取公司钱包，确认后用于清理本地标记
	details, err := s.client.Read(ctx, "getCompanyDetails", id)
	if err != nil {
		return "", err
	}
	if contract.DecimalString(details[0]) == models.UnregisteredCompanyID {
		return "", traceerrors.NewTraceError(
			traceerrors.ErrorTypeNotFound,
			traceerrors.SeverityLow,
			"NOT_FOUND",
			"公司不存在",
		).WithComponent("company_service").WithContext("company_id", companyID)
	}
	companyWallet := contract.AddressString(details[3])

	handle, err := s.client.Write(ctx, "verifyCompany", nil, id)
	if err != nil {
		return "", err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return handle.Hash(), err
	}

	if err := s.store.DeleteRequest(companyWallet); err != nil {
		s.logger.Warnf("清理已验证公司的注册请求失败: %v", err)
	}
	s.resolver.Invalidate()

	if !s.guard.IsCurrent(session.Token) {
		return handle.Hash(), staleSessionError(session, handle.Hash())
	}

	s.logger.WithFields(logrus.Fields{
		"company_id": companyID,
		"wallet":     companyWallet,
		"tx_hash":    handle.Hash(),
	}).Info("公司已通过验证")

	return handle.Hash(), nil
}

// Invite 管理员邀请钱包并授予角色
func (s *Service) Invite(ctx context.Context, session *models.WalletSession, wallet string, role models.Role) (*models.InviteRecord, error) {
	identity, err := s.resolver.Resolve(ctx, session)
	if err != nil {
		return nil, err
	}
	if !identity.IsAdmin {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeAuthorization,
			traceerrors.SeverityLow,
			"NOT_AUTHORIZED",
			"只有管理员可以发出邀请",
		).WithComponent("company_service").WithWallet(session.Address)
	}

	if result := s.validator.ValidateAddress(wallet); !result.Valid {
		return nil, result.FirstError()
	}
	if !role.Valid() {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeValidation,
			traceerrors.SeverityMedium,
			"VALIDATION_FAILED",
			"无效的供应链角色",
		).WithComponent("company_service").WithContext("role", uint8(role))
	}

	handle, err := s.client.Write(ctx, "inviteUser", nil, common.HexToAddress(wallet), uint8(role))
	if err != nil {
		return nil, err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return nil, err
	}

	invite := &models.InviteRecord{
		Wallet:    strings.ToLower(wallet),
		Role:      role,
		InvitedBy: session.Address,
		TxHash:    handle.Hash(),
		InvitedAt: s.clock().Unix(),
	}
	if err := s.store.PutInvite(invite); err != nil {
		s.logger.Warnf("写入邀请记录失败: %v", err)
	}

	s.resolver.Invalidate()

	if !s.guard.IsCurrent(session.Token) {
		return nil, staleSessionError(session, handle.Hash())
	}

	return invite, nil
}

// RoleOf 查询钱包的供应链角色
func (s *Service) RoleOf(ctx context.Context, wallet string) (models.Role, error) {
	if result := s.validator.ValidateAddress(wallet); !result.Valid {
		return models.RoleNone, result.FirstError()
	}

	values, err := s.client.Read(ctx, "roles", common.HexToAddress(wallet))
	if err != nil {
		return models.RoleNone, err
	}
	role, _ := models.ParseRole(values[0].(uint8))
	return role, nil
}

// PendingRequests 列出本地缓存的注册请求
func (s *Service) PendingRequests(ctx context.Context) ([]*models.RegistrationRequest, error) {
	return s.store.ListRequests()
}

// Invites 列出本地缓存的邀请记录
func (s *Service) Invites(ctx context.Context) ([]*models.InviteRecord, error) {
	return s.store.ListInvites()
}

// staleSessionError 会话过期错误
func staleSessionError(session *models.WalletSession, txHash string) error {
	return traceerrors.NewTraceError(
		traceerrors.ErrorTypeSession,
		traceerrors.SeverityMedium,
		"SESSION_STALE",
		"会话已切换，操作结果被丢弃",
	).WithComponent("company_service").
		WithWallet(session.Address).
		WithTxHash(txHash)
}
