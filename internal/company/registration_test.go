package company

import (
	"context"
	"math/big"
	"testing"

	"supplytrace/internal/cache"
	"supplytrace/internal/contract"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/internal/validation"
	"supplytrace/pkg/models"

	"github.com/stretchr/testify/assert"
)

// staticGuard 固定返回值的会话校验
type staticGuard struct {
	current bool
}

func (g staticGuard) IsCurrent(uint64) bool { return g.current }

type serviceEnv struct {
	sim     *contract.Sim
	store   *cache.MemoryStore
	service *Service
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	logger := quietLogger()
	sim := contract.NewSim(testAdmin)
	store := cache.NewMemoryStore()
	resolver := NewResolver(sim, store, logger)
	service := NewService(sim, resolver, store, validation.NewValidator(logger), staticGuard{current: true}, logger)
	return &serviceEnv{sim: sim, store: store, service: service}
}

func TestService_RegisterSuccess(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testSupplier)

	request, err := env.service.Register(context.Background(), testSession(testSupplier, 1), "Fresh Farms", "Organic produce supplier")
	assert.NoError(t, err)
	assert.Equal(t, models.RequestStatusPendingOnChain, request.Status)
	assert.NotEmpty(t, request.TxHash)
	assert.Equal(t, 1, env.sim.Broadcasts())

	stored, ok, err := env.store.GetRequest(testSupplier)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.RequestStatusPendingOnChain, stored.Status)
}

func TestService_RegisterValidationNoBroadcast(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testSupplier)

	_, err := env.service.Register(context.Background(), testSession(testSupplier, 1), "ab", "Organic produce supplier")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "COMPANY_NAME_TOO_SHORT"))
	assert.Zero(t, env.sim.Broadcasts())
}

func TestService_RegisterAlreadyRegistered(t *testing.T) {
	env := newServiceEnv(t)
	registerCompany(t, env.sim, testSupplier, "Fresh Farms", "Organic produce supplier")
	before := env.sim.Broadcasts()

	_, err := env.service.Register(context.Background(), testSession(testSupplier, 1), "Second Farms", "Another produce supplier")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "VALIDATION_FAILED"))
	assert.Equal(t, before, env.sim.Broadcasts())
}

func TestService_RegisterUserRejected(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testSupplier)
	env.sim.RejectNext()

	_, err := env.service.Register(context.Background(), testSession(testSupplier, 1), "Fresh Farms", "Organic produce supplier")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "USER_REJECTED"))
	assert.Zero(t, env.sim.Broadcasts())

	// 签名被拒时不应留下本地标记
	_, ok, err := env.store.GetRequest(testSupplier)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestService_VerifyRequiresAdmin(t *testing.T) {
	env := newServiceEnv(t)
	registerCompany(t, env.sim, testSupplier, "Fresh Farms", "Organic produce supplier")
	before := env.sim.Broadcasts()

	env.sim.SetFrom(testShipper)
	_, err := env.service.Verify(context.Background(), testSession(testShipper, 1), "1")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "NOT_AUTHORIZED"))
	assert.Equal(t, before, env.sim.Broadcasts())
}

func TestService_VerifySuccess(t *testing.T) {
	env := newServiceEnv(t)
	registerCompany(t, env.sim, testSupplier, "Fresh Farms", "Organic produce supplier")
	assert.NoError(t, env.store.PutRequest(&models.RegistrationRequest{
		Wallet: testSupplier,
		Name:   "Fresh Farms",
		Status: models.RequestStatusPendingOnChain,
	}))

	env.sim.SetFrom(testAdmin)
	txHash, err := env.service.Verify(context.Background(), testSession(testAdmin, 1), "1")
	assert.NoError(t, err)
	assert.NotEmpty(t, txHash)

	values, err := env.sim.Read(context.Background(), "getCompanyDetails", mustBigInt(t, "1"))
	assert.NoError(t, err)
	assert.True(t, values[4].(bool))

	// 验证通过后本地标记被清理
	_, ok, err := env.store.GetRequest(testSupplier)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestService_VerifyUnknownCompany(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testAdmin)

	_, err := env.service.Verify(context.Background(), testSession(testAdmin, 1), "42")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "NOT_FOUND"))
	assert.Zero(t, env.sim.Broadcasts())
}

func TestService_VerifyBadCompanyID(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testAdmin)

	_, err := env.service.Verify(context.Background(), testSession(testAdmin, 1), "not-a-number")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "VALIDATION_FAILED"))
	assert.Zero(t, env.sim.Broadcasts())
}

func TestService_InviteRequiresAdmin(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testShipper)

	_, err := env.service.Invite(context.Background(), testSession(testShipper, 1), testSupplier, models.RoleSupplier)
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "NOT_AUTHORIZED"))
	assert.Zero(t, env.sim.Broadcasts())
}

func TestService_InviteAssignsRole(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testAdmin)

	invite, err := env.service.Invite(context.Background(), testSession(testAdmin, 1), testSupplier, models.RoleSupplier)
	assert.NoError(t, err)
	assert.Equal(t, testSupplier, invite.Wallet)
	assert.Equal(t, models.RoleSupplier, invite.Role)
	assert.Equal(t, testAdmin, invite.InvitedBy)

	role, err := env.service.RoleOf(context.Background(), testSupplier)
	assert.NoError(t, err)
	assert.Equal(t, models.RoleSupplier, role)

	invites, err := env.service.Invites(context.Background())
	assert.NoError(t, err)
	assert.Len(t, invites, 1)
}

func TestService_InviteInvalidRole(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testAdmin)

	_, err := env.service.Invite(context.Background(), testSession(testAdmin, 1), testSupplier, models.Role(9))
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "VALIDATION_FAILED"))
	assert.Zero(t, env.sim.Broadcasts())
}

func TestService_StaleSessionAfterRegister(t *testing.T) {
	logger := quietLogger()
	sim := contract.NewSim(testAdmin)
	store := cache.NewMemoryStore()
	resolver := NewResolver(sim, store, logger)
	service := NewService(sim, resolver, store, validation.NewValidator(logger), staticGuard{current: false}, logger)

	sim.SetFrom(testSupplier)
	_, err := service.Register(context.Background(), testSession(testSupplier, 1), "Fresh Farms", "Organic produce supplier")
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "SESSION_STALE"))

	// 交易已上链，只是结果被丢弃
	assert.Equal(t, 1, sim.Broadcasts())
}

func TestService_PendingRequests(t *testing.T) {
	env := newServiceEnv(t)
	env.sim.SetFrom(testSupplier)

	_, err := env.service.Register(context.Background(), testSession(testSupplier, 1), "Fresh Farms", "Organic produce supplier")
	assert.NoError(t, err)

	requests, err := env.service.PendingRequests(context.Background())
	assert.NoError(t, err)
	assert.Len(t, requests, 1)
}

func mustBigInt(t *testing.T, s string) interface{} {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	assert.True(t, ok)
	return v
}
