package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplytrace/internal/cache"
	"supplytrace/internal/company"
	"supplytrace/internal/contract"
	"supplytrace/internal/product"
	"supplytrace/internal/validation"
	"supplytrace/internal/wallet"
)

const (
	apiAdmin    = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	apiSupplier = "0xffffffffffffffffffffffffffffffffffffffff"
)

type stubSubscription struct{}

func (stubSubscription) Unsubscribe() {}

// stubProvider 固定账户与链的钱包提供者
type stubProvider struct {
	accounts []string
	chainID  string
}

func (p *stubProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	return p.accounts, nil
}

func (p *stubProvider) ChainID(ctx context.Context) (string, error) {
	return p.chainID, nil
}

func (p *stubProvider) SubscribeAccountsChanged(fn func([]string)) wallet.Subscription {
	return stubSubscription{}
}

func (p *stubProvider) SubscribeChainChanged(fn func(string)) wallet.Subscription {
	return stubSubscription{}
}

func (p *stubProvider) Close() error { return nil }

type apiEnv struct {
	sim     *contract.Sim
	store   cache.Store
	manager *wallet.Manager
	router  *gin.Engine
}

func newAPIEnv(t *testing.T, account string) *apiEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sim := contract.NewSim(apiAdmin)
	sim.SetFrom(account)

	store := cache.NewMemoryStore()
	validator := validation.NewValidator(logger)
	resolver := company.NewResolver(sim, store, logger)
	service := company.NewService(sim, resolver, store, validator, company.AlwaysCurrent(), logger)
	coordinator := product.NewCoordinator(sim, resolver, validator, company.AlwaysCurrent(), "http://localhost:8080", logger)

	provider := &stubProvider{accounts: []string{account}, chainID: "31337"}
	manager := wallet.NewManager(provider, "31337", logger)

	server := NewServer(Deps{
		Wallet:    manager,
		Resolver:  resolver,
		Companies: service,
		Products:  coordinator,
		Store:     store,
	}, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	server.setupRoutes(router)

	return &apiEnv{sim: sim, store: store, manager: manager, router: router}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestServer_HealthCheck(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}

func TestServer_SessionLifecycle(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["connected"])

	w = env.do(t, http.MethodPost, "/api/v1/session/connect", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	session := body["session"].(map[string]interface{})
	assert.Equal(t, apiSupplier, session["address"])
	assert.Equal(t, true, body["on_matching_chain"])

	w = env.do(t, http.MethodPost, "/api/v1/session/disconnect", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, false, decodeBody(t, w)["connected"])
}

func TestServer_RegisterCompanyRequiresSession(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodPost, "/api/v1/companies", gin.H{
		"name":        "绿源农业",
		"description": "有机蔬果生产",
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "WALLET_UNAVAILABLE", decodeBody(t, w)["error"])
}

func TestServer_RegisterCompany(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)
	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	w := env.do(t, http.MethodPost, "/api/v1/companies", gin.H{
		"name":        "绿源农业",
		"description": "有机蔬果生产",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	request := decodeBody(t, w)["request"].(map[string]interface{})
	assert.Equal(t, "pending_on_chain", request["status"])
	assert.Equal(t, apiSupplier, request["wallet"])
	assert.Equal(t, 1, env.sim.Broadcasts())
}

func TestServer_RegisterCompanyValidation(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)
	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	w := env.do(t, http.MethodPost, "/api/v1/companies", gin.H{
		"name": "A",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "COMPANY_NAME_TOO_SHORT", decodeBody(t, w)["error"])
	assert.Zero(t, env.sim.Broadcasts())
}

func TestServer_VerifyCompanyRequiresAdmin(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)
	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	w := env.do(t, http.MethodPost, "/api/v1/companies/1/verify", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "NOT_AUTHORIZED", body["error"])
	assert.Equal(t, true, body["display_state"])
}

func TestServer_GetProductNotFound(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	hash := strings.Repeat("ab", 32)
	w := env.do(t, http.MethodGet, "/api/v1/products/"+hash, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "NOT_FOUND", body["error"])
	assert.Equal(t, true, body["display_state"])
}

func TestServer_GetProductBadHash(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/api/v1/products/zzzz", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CONTENT_HASH", decodeBody(t, w)["error"])
}

func TestServer_CreateProductMissingFields(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)
	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	w := env.do(t, http.MethodPost, "/api/v1/products", gin.H{
		"name": "有机苹果",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeBody(t, w)["error"])
}

func TestServer_CreateProductBadDate(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)
	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	w := env.do(t, http.MethodPost, "/api/v1/products", gin.H{
		"name":            "有机苹果",
		"batch_number":    "BATCH-0042",
		"production_date": "15/01/2025",
		"supply_chain_id": "7",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_GetRoleUnassigned(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/api/v1/roles/"+apiSupplier, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["role"])
}

func TestServer_ScreenFollowsIdentity(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/api/v1/screen", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connecting", decodeBody(t, w)["screen"])

	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	w = env.do(t, http.MethodGet, "/api/v1/screen", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unregistered", decodeBody(t, w)["screen"])
}

func TestServer_AdminScreenRejectsNonAdmin(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)
	env.do(t, http.MethodPost, "/api/v1/session/connect", nil)

	// 普通钱包的管理员视图落在unauthorized终态
	w := env.do(t, http.MethodGet, "/api/v1/screen?view=admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, w)["screen"])

	// 普通视图不受影响
	w = env.do(t, http.MethodGet, "/api/v1/screen", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unregistered", decodeBody(t, w)["screen"])
}

func TestServer_WatcherDisabled(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/api/v1/watcher", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["enabled"])
}

func TestServer_ErrorStatsCountFailures(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	hash := strings.Repeat("cd", 32)
	env.do(t, http.MethodGet, "/api/v1/products/"+hash, nil)

	w := env.do(t, http.MethodGet, "/api/v1/errors", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.GreaterOrEqual(t, body["total"], float64(1))
}

func TestServer_RequestsAndInvitesEmpty(t *testing.T) {
	env := newAPIEnv(t, apiSupplier)

	w := env.do(t, http.MethodGet, "/api/v1/requests", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["total"])

	w = env.do(t, http.MethodGet, "/api/v1/invites", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["total"])
}
