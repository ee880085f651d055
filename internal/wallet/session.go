package wallet

import (
	"context"
	"strings"
	"sync"

	traceerrors "supplytrace/internal/errors"
	"supplytrace/pkg/models"

	"github.com/sirupsen/logrus"
)

// SessionListener 会话变更回调
// session为nil表示断开连接
type SessionListener func(session *models.WalletSession)

// Manager 钱包会话管理器
// 每次账户或链变更都会产生新的会话令牌，旧令牌下发起的操作结果应当被丢弃
type Manager struct {
	provider        Provider
	expectedChainID string
	logger          *logrus.Logger

	mu        sync.RWMutex
	current   *models.WalletSession
	token     uint64
	listeners map[int]SessionListener
	nextSubID int

	accountSub Subscription
	chainSub   Subscription
}

// NewManager 创建会话管理器
func NewManager(provider Provider, expectedChainID string, logger *logrus.Logger) *Manager {
	m := &Manager{
		provider:        provider,
		expectedChainID: expectedChainID,
		logger:          logger,
		listeners:       make(map[int]SessionListener),
	}

	m.accountSub = provider.SubscribeAccountsChanged(m.onAccountsChanged)
	m.chainSub = provider.SubscribeChainChanged(m.onChainChanged)

	return m
}

// Connect 建立钱包会话
// 链不匹配时返回NETWORK_MISMATCH但仍建立会话，由上层决定是否放行只读操作
func (m *Manager) Connect(ctx context.Context) (*models.WalletSession, error) {
	accounts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeWallet,
			traceerrors.SeverityCritical,
			"WALLET_UNAVAILABLE",
			"钱包未返回任何账户",
		).WithComponent("wallet_session")
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	session := m.install(accounts[0], chainID)

	if m.expectedChainID != "" && chainID != m.expectedChainID {
		return session, traceerrors.NewTraceError(
			traceerrors.ErrorTypeNetworkMismatch,
			traceerrors.SeverityHigh,
			"NETWORK_MISMATCH",
			"当前链与合约部署链不一致",
		).WithComponent("wallet_session").
			WithContext("expected_chain_id", m.expectedChainID).
			WithContext("actual_chain_id", chainID)
	}

	return session, nil
}

// install 安装新会话并通知监听者
func (m *Manager) install(address, chainID string) *models.WalletSession {
	m.mu.Lock()
	m.token++
	session := &models.WalletSession{
		Address: strings.ToLower(address),
		ChainID: chainID,
		Token:   m.token,
	}
	m.current = session
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"wallet":   session.Address,
		"chain_id": session.ChainID,
		"token":    session.Token,
	}).Info("钱包会话已建立")

	for _, fn := range listeners {
		fn(session)
	}
	return session
}

// onAccountsChanged 账户变更回调
// 空账户列表视为断开
func (m *Manager) onAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		m.Disconnect()
		return
	}

	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	newAddr := strings.ToLower(accounts[0])
	if current != nil && current.Address == newAddr {
		return
	}

	chainID := ""
	if current != nil {
		chainID = current.ChainID
	}
	m.install(newAddr, chainID)
}

// onChainChanged 链变更回调
// 链切换后所有缓存身份全部失效，必须发新令牌
func (m *Manager) onChainChanged(chainID string) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	if current == nil {
		return
	}

	m.install(current.Address, chainID)

	if m.expectedChainID != "" && chainID != m.expectedChainID {
		m.logger.Warnf("链切换到 %s，与合约部署链 %s 不一致", chainID, m.expectedChainID)
	}
}

// Disconnect 断开会话
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	m.token++
	m.current = nil
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.logger.Info("钱包会话已断开")
	for _, fn := range listeners {
		fn(nil)
	}
}

// Current 返回当前会话
func (m *Manager) Current() (*models.WalletSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, false
	}
	session := *m.current
	return &session, true
}

// IsCurrent 判断令牌是否仍然有效
func (m *Manager) IsCurrent(token uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.Token == token
}

// OnMatchingChain 判断当前会话是否在合约部署链上
func (m *Manager) OnMatchingChain() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return false
	}
	return m.expectedChainID == "" || m.current.ChainID == m.expectedChainID
}

// Subscribe 订阅会话变更
func (m *Manager) Subscribe(fn SessionListener) Subscription {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return &funcSubscription{fn: func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}}
}

// snapshotListenersLocked 复制监听者列表，调用方需持有锁
func (m *Manager) snapshotListenersLocked() []SessionListener {
	listeners := make([]SessionListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

// Close 停止会话管理器
func (m *Manager) Close() error {
	if m.accountSub != nil {
		m.accountSub.Unsubscribe()
	}
	if m.chainSub != nil {
		m.chainSub.Unsubscribe()
	}
	return nil
}
