package company

import (
	"context"
	"io"
	"math/big"
	"testing"

	"supplytrace/internal/cache"
	"supplytrace/internal/contract"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

const (
	testAdmin    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testSupplier = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testShipper  = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSession(address string, token uint64) *models.WalletSession {
	return &models.WalletSession{
		Address: address,
		ChainID: "1337",
		Token:   token,
	}
}

func registerCompany(t *testing.T, sim *contract.Sim, wallet, name, description string) {
	t.Helper()
	sim.SetFrom(wallet)
	handle, err := sim.Write(context.Background(), "createCompany", nil, name, description)
	assert.NoError(t, err)
	_, err = handle.Wait(context.Background())
	assert.NoError(t, err)
}

func verifyCompanyOnChain(t *testing.T, sim *contract.Sim, companyID string) {
	t.Helper()
	sim.SetFrom(sim.Admin())
	id, ok := new(big.Int).SetString(companyID, 10)
	assert.True(t, ok)
	handle, err := sim.Write(context.Background(), "verifyCompany", nil, id)
	assert.NoError(t, err)
	_, err = handle.Wait(context.Background())
	assert.NoError(t, err)
}

func TestResolver_NilSession(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	resolver := NewResolver(sim, cache.NewMemoryStore(), quietLogger())

	_, err := resolver.Resolve(context.Background(), nil)
	assert.Error(t, err)
	assert.True(t, traceerrors.IsCode(err, "WALLET_UNAVAILABLE"))
}

func TestResolver_UnregisteredWallet(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	resolver := NewResolver(sim, cache.NewMemoryStore(), quietLogger())

	identity, err := resolver.Resolve(context.Background(), testSession(testSupplier, 1))
	assert.NoError(t, err)
	assert.False(t, identity.Company.IsRegistered())
	assert.Equal(t, models.UnregisteredCompanyID, identity.Company.CompanyID)
	assert.Equal(t, models.RoleNone, identity.Role)
	assert.False(t, identity.IsAdmin)
}

func TestResolver_AdminIdentity(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	resolver := NewResolver(sim, cache.NewMemoryStore(), quietLogger())

	identity, err := resolver.Resolve(context.Background(), testSession(testAdmin, 1))
	assert.NoError(t, err)
	assert.True(t, identity.IsAdmin)
}

func TestResolver_RegisteredCompanyDetails(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	resolver := NewResolver(sim, cache.NewMemoryStore(), quietLogger())

	registerCompany(t, sim, testSupplier, "Fresh Farms", "Organic produce supplier")

	identity, err := resolver.Resolve(context.Background(), testSession(testSupplier, 1))
	assert.NoError(t, err)
	assert.True(t, identity.Company.IsRegistered())
	assert.Equal(t, "1", identity.Company.CompanyID)
	assert.Equal(t, "Fresh Farms", identity.Company.Name)
	assert.False(t, identity.Company.IsVerified)
}

func TestResolver_CachesByToken(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	resolver := NewResolver(sim, cache.NewMemoryStore(), quietLogger())
	session := testSession(testSupplier, 5)

	first, err := resolver.Resolve(context.Background(), session)
	assert.NoError(t, err)
	assert.False(t, first.Company.IsRegistered())

	token, ok := resolver.CachedToken()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), token)

	// 链上状态变化但令牌未变，命中缓存，不暴露新状态
	registerCompany(t, sim, testSupplier, "Fresh Farms", "Organic produce supplier")

	second, err := resolver.Resolve(context.Background(), session)
	assert.NoError(t, err)
	assert.False(t, second.Company.IsRegistered())

	// 失效后重新解析，读取最新链上状态
	resolver.Invalidate()
	third, err := resolver.Resolve(context.Background(), session)
	assert.NoError(t, err)
	assert.True(t, third.Company.IsRegistered())
}

func TestResolver_NewTokenBypassesCache(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	resolver := NewResolver(sim, cache.NewMemoryStore(), quietLogger())

	_, err := resolver.Resolve(context.Background(), testSession(testSupplier, 1))
	assert.NoError(t, err)

	registerCompany(t, sim, testSupplier, "Fresh Farms", "Organic produce supplier")

	// 账户重连产生新令牌，必须重新解析
	identity, err := resolver.Resolve(context.Background(), testSession(testSupplier, 2))
	assert.NoError(t, err)
	assert.True(t, identity.Company.IsRegistered())
}

func TestResolver_ReconcileMarksPendingOnChain(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	store := cache.NewMemoryStore()
	resolver := NewResolver(sim, store, quietLogger())

	assert.NoError(t, store.PutRequest(&models.RegistrationRequest{
		Wallet: testSupplier,
		Name:   "Fresh Farms",
		Status: models.RequestStatusPending,
	}))

	registerCompany(t, sim, testSupplier, "Fresh Farms", "Organic produce supplier")

	_, err := resolver.Resolve(context.Background(), testSession(testSupplier, 1))
	assert.NoError(t, err)

	req, ok, err := store.GetRequest(testSupplier)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.RequestStatusPendingOnChain, req.Status)
}

func TestResolver_ReconcileDeletesVerified(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	store := cache.NewMemoryStore()
	resolver := NewResolver(sim, store, quietLogger())

	assert.NoError(t, store.PutRequest(&models.RegistrationRequest{
		Wallet: testSupplier,
		Name:   "Fresh Farms",
		Status: models.RequestStatusPendingOnChain,
	}))

	registerCompany(t, sim, testSupplier, "Fresh Farms", "Organic produce supplier")
	verifyCompanyOnChain(t, sim, "1")

	_, err := resolver.Resolve(context.Background(), testSession(testSupplier, 1))
	assert.NoError(t, err)

	_, ok, err := store.GetRequest(testSupplier)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_ReconcileLeavesUnregistered(t *testing.T) {
	sim := contract.NewSim(testAdmin)
	store := cache.NewMemoryStore()
	resolver := NewResolver(sim, store, quietLogger())

	assert.NoError(t, store.PutRequest(&models.RegistrationRequest{
		Wallet: testSupplier,
		Name:   "Fresh Farms",
		Status: models.RequestStatusPending,
	}))

	_, err := resolver.Resolve(context.Background(), testSession(testSupplier, 1))
	assert.NoError(t, err)

	req, ok, err := store.GetRequest(testSupplier)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.RequestStatusPending, req.Status)
}
