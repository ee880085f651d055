package wallet

import (
	"context"
	"strings"
	"sync"
	"time"

	"supplytrace/internal/connection"
	traceerrors "supplytrace/internal/errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/sirupsen/logrus"
)

// Provider 钱包提供者抽象
// 账户与链的变更通过订阅回调推送，取消订阅后不再收到任何通知
type Provider interface {
	// RequestAccounts 请求授权的账户列表，首个为当前选中账户
	RequestAccounts(ctx context.Context) ([]string, error)

	// ChainID 返回当前链ID（十进制字符串）
	ChainID(ctx context.Context) (string, error)

	// SubscribeAccountsChanged 订阅账户变更，空列表表示断开
	SubscribeAccountsChanged(fn func(accounts []string)) Subscription

	// SubscribeChainChanged 订阅链变更
	SubscribeChainChanged(fn func(chainID string)) Subscription

	// Close 释放底层资源
	Close() error
}

// Subscription 订阅句柄
type Subscription interface {
	Unsubscribe()
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(s.fn)
}

// KeystoreProvider 基于go-ethereum keystore的钱包提供者
type KeystoreProvider struct {
	ks     *keystore.KeyStore
	pool   *connection.ConnectionPool
	logger *logrus.Logger

	mu            sync.RWMutex
	accountSubs   map[int]func([]string)
	chainSubs     map[int]func(string)
	nextSubID     int
	lastChainID   string
	lastAccounts  []string
	pollInterval  time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	defaultWallet string
}

// NewKeystoreProvider 创建keystore钱包提供者
func NewKeystoreProvider(keystoreDir string, defaultAccount string, pool *connection.ConnectionPool, pollInterval time.Duration, logger *logrus.Logger) *KeystoreProvider {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	p := &KeystoreProvider{
		ks:            keystore.NewKeyStore(keystoreDir, keystore.StandardScryptN, keystore.StandardScryptP),
		pool:          pool,
		logger:        logger,
		accountSubs:   make(map[int]func([]string)),
		chainSubs:     make(map[int]func(string)),
		pollInterval:  pollInterval,
		stopCh:        make(chan struct{}),
		defaultWallet: strings.ToLower(defaultAccount),
	}

	go p.watchAccounts()
	go p.watchChain()

	return p
}

// RequestAccounts 请求授权的账户列表
func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	accts := p.ks.Accounts()
	if len(accts) == 0 {
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeWallet,
			traceerrors.SeverityCritical,
			"WALLET_UNAVAILABLE",
			"keystore中没有任何账户",
		).WithComponent("wallet_provider")
	}

	addresses := make([]string, 0, len(accts))
	for _, acct := range accts {
		addresses = append(addresses, strings.ToLower(acct.Address.Hex()))
	}

	// 配置了默认账户时把它排到首位
	if p.defaultWallet != "" {
		for i, addr := range addresses {
			if addr == p.defaultWallet && i != 0 {
				addresses[0], addresses[i] = addresses[i], addresses[0]
				break
			}
		}
	}

	p.mu.Lock()
	p.lastAccounts = append([]string(nil), addresses...)
	p.mu.Unlock()

	return addresses, nil
}

// ChainID 查询当前链ID
func (p *KeystoreProvider) ChainID(ctx context.Context) (string, error) {
	wrapper, err := p.pool.NewConnectionWrapper()
	if err != nil {
		return "", traceerrors.WrapError(err,
			traceerrors.ErrorTypeNetwork,
			traceerrors.SeverityMedium,
			"NETWORK_ERROR",
			"获取节点连接失败",
		).WithComponent("wallet_provider")
	}
	defer wrapper.Close()

	chainID, err := wrapper.Client().ChainID(ctx)
	if err != nil {
		return "", traceerrors.WrapError(err,
			traceerrors.ErrorTypeNetwork,
			traceerrors.SeverityMedium,
			"NETWORK_ERROR",
			"查询链ID失败",
		).WithComponent("wallet_provider")
	}

	return chainID.String(), nil
}

// SubscribeAccountsChanged 订阅账户变更
func (p *KeystoreProvider) SubscribeAccountsChanged(fn func(accounts []string)) Subscription {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.accountSubs[id] = fn
	p.mu.Unlock()

	return &funcSubscription{fn: func() {
		p.mu.Lock()
		delete(p.accountSubs, id)
		p.mu.Unlock()
	}}
}

// SubscribeChainChanged 订阅链变更
func (p *KeystoreProvider) SubscribeChainChanged(fn func(chainID string)) Subscription {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.chainSubs[id] = fn
	p.mu.Unlock()

	return &funcSubscription{fn: func() {
		p.mu.Lock()
		delete(p.chainSubs, id)
		p.mu.Unlock()
	}}
}

// watchAccounts 监听keystore账户事件
func (p *KeystoreProvider) watchAccounts() {
	events := make(chan accounts.WalletEvent, 16)
	walletSub := p.ks.Subscribe(events)
	defer walletSub.Unsubscribe()

	for {
		select {
		case <-p.stopCh:
			return
		case <-events:
			accts := p.ks.Accounts()
			addresses := make([]string, 0, len(accts))
			for _, acct := range accts {
				addresses = append(addresses, strings.ToLower(acct.Address.Hex()))
			}

			p.mu.Lock()
			p.lastAccounts = append([]string(nil), addresses...)
			subs := make([]func([]string), 0, len(p.accountSubs))
			for _, fn := range p.accountSubs {
				subs = append(subs, fn)
			}
			p.mu.Unlock()

			p.logger.Debugf("keystore账户变更，当前 %d 个账户", len(addresses))
			for _, fn := range subs {
				fn(append([]string(nil), addresses...))
			}
		}
	}
}

// watchChain 轮询链ID变更
func (p *KeystoreProvider) watchChain() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.pollInterval)
			chainID, err := p.ChainID(ctx)
			cancel()
			if err != nil {
				continue
			}

			p.mu.Lock()
			changed := p.lastChainID != "" && p.lastChainID != chainID
			p.lastChainID = chainID
			subs := make([]func(string), 0, len(p.chainSubs))
			if changed {
				for _, fn := range p.chainSubs {
					subs = append(subs, fn)
				}
			}
			p.mu.Unlock()

			if changed {
				p.logger.Infof("链ID变更为 %s", chainID)
				for _, fn := range subs {
					fn(chainID)
				}
			}
		}
	}
}

// Keystore 暴露底层keystore供签名使用
func (p *KeystoreProvider) Keystore() *keystore.KeyStore {
	return p.ks
}

// Close 停止监听
func (p *KeystoreProvider) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	return nil
}
