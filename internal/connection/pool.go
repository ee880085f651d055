package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"supplytrace/internal/config"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout     = 10 * time.Second
	probeTimeout    = 5 * time.Second
	recheckInterval = 30 * time.Second
	maxClientsPer   = 10
)

// ConnectionPool 以太坊节点连接池
// 节点按优先级提供连接；链ID与期望不符的节点视为不健康，不参与分配
type ConnectionPool struct {
	expectedChainID string
	nodes           []*config.NodeConfig
	ordered         []*nodePool // 优先级升序
	byName          map[string]*nodePool
	logger          *logrus.Logger
	mu              sync.RWMutex
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// nodePool 单个节点的连接池
type nodePool struct {
	cfg             *config.NodeConfig
	expectedChainID string
	clients         chan *ethclient.Client
	logger          *logrus.Logger

	mu          sync.Mutex
	current     int
	healthy     bool
	wrongChain  bool
	actualChain string
	lastCheck   time.Time
}

// NewConnectionPool 创建连接池
// expectedChainID为合约部署链的链ID（十进制字符串），空串表示不校验
func NewConnectionPool(nodes []*config.NodeConfig, expectedChainID string, logger *logrus.Logger) *ConnectionPool {
	return &ConnectionPool{
		expectedChainID: expectedChainID,
		nodes:           nodes,
		byName:          make(map[string]*nodePool),
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// Initialize 建立各节点的连接池并启动后台健康检查
func (cp *ConnectionPool) Initialize() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for _, node := range orderByPriority(cp.nodes) {
		pool := newNodePool(node, cp.expectedChainID, cp.logger)
		if err := pool.warmUp(); err != nil {
			cp.logger.Warnf("节点 %s 预热失败: %v", node.Name, err)
			continue
		}
		cp.ordered = append(cp.ordered, pool)
		cp.byName[node.Name] = pool
		cp.logger.Infof("节点 %s 连接池已初始化", node.Name)
	}

	if len(cp.ordered) == 0 {
		return fmt.Errorf("没有可用的节点连接池")
	}

	go cp.healthChecker()
	return nil
}

// orderByPriority 按优先级升序排列节点，数值小者先被选用
func orderByPriority(nodes []*config.NodeConfig) []*config.NodeConfig {
	ordered := make([]*config.NodeConfig, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return ordered
}

func newNodePool(cfg *config.NodeConfig, expectedChainID string, logger *logrus.Logger) *nodePool {
	return &nodePool{
		cfg:             cfg,
		expectedChainID: expectedChainID,
		clients:         make(chan *ethclient.Client, maxClientsPer),
		logger:          logger,
		healthy:         true,
	}
}

// warmUp 预建一个连接并校验链ID
func (np *nodePool) warmUp() error {
	client, err := np.dial()
	if err != nil {
		return err
	}

	select {
	case np.clients <- client:
		np.mu.Lock()
		np.current++
		np.mu.Unlock()
	default:
		client.Close()
	}
	return nil
}

// dial 建立新连接并确认节点在期望的链上
func (np *nodePool) dial() (*ethclient.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, np.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("查询链ID失败: %w", err)
	}

	if np.expectedChainID != "" && chainID.String() != np.expectedChainID {
		client.Close()
		np.mu.Lock()
		np.wrongChain = true
		np.actualChain = chainID.String()
		np.mu.Unlock()
		return nil, fmt.Errorf("节点 %s 在链 %s 上，期望链 %s", np.cfg.Name, chainID.String(), np.expectedChainID)
	}

	np.mu.Lock()
	np.wrongChain = false
	np.actualChain = chainID.String()
	np.mu.Unlock()
	return client, nil
}

// GetClient 按优先级获取一个健康节点的连接
func (cp *ConnectionPool) GetClient() (*ethclient.Client, string, error) {
	cp.mu.RLock()
	ordered := make([]*nodePool, len(cp.ordered))
	copy(ordered, cp.ordered)
	cp.mu.RUnlock()

	for _, pool := range ordered {
		if !pool.isHealthy() {
			continue
		}
		client, err := pool.getClient()
		if err != nil {
			cp.logger.Debugf("从节点 %s 获取连接失败: %v", pool.cfg.Name, err)
			continue
		}
		return client, pool.cfg.Name, nil
	}

	return nil, "", fmt.Errorf("没有可用的健康节点")
}

// getClient 优先复用池内连接，复用前探活
func (np *nodePool) getClient() (*ethclient.Client, error) {
	select {
	case client := <-np.clients:
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		_, err := client.ChainID(ctx)
		cancel()
		if err != nil {
			client.Close()
			np.mu.Lock()
			np.current--
			np.mu.Unlock()
			return np.grow()
		}
		return client, nil
	default:
		return np.grow()
	}
}

// grow 新建连接，受池上限约束
func (np *nodePool) grow() (*ethclient.Client, error) {
	np.mu.Lock()
	if np.current >= maxClientsPer {
		np.mu.Unlock()
		return nil, fmt.Errorf("连接池已满")
	}
	np.mu.Unlock()

	client, err := np.dial()
	if err != nil {
		np.mu.Lock()
		np.healthy = false
		np.mu.Unlock()
		return nil, err
	}

	np.mu.Lock()
	np.current++
	np.mu.Unlock()
	return client, nil
}

// ReturnClient 归还连接；池满时直接关闭
func (cp *ConnectionPool) ReturnClient(client *ethclient.Client, nodeName string) {
	if client == nil {
		return
	}

	cp.mu.RLock()
	pool, exists := cp.byName[nodeName]
	cp.mu.RUnlock()

	if !exists {
		client.Close()
		return
	}
	pool.returnClient(client)
}

func (np *nodePool) returnClient(client *ethclient.Client) {
	select {
	case np.clients <- client:
	default:
		client.Close()
		np.mu.Lock()
		np.current--
		np.mu.Unlock()
	}
}

// isHealthy 结合缓存结果判断节点可用性，间隔到期后重新探测
func (np *nodePool) isHealthy() bool {
	np.mu.Lock()
	if time.Since(np.lastCheck) < recheckInterval && np.healthy && !np.wrongChain {
		np.mu.Unlock()
		return true
	}
	np.mu.Unlock()

	return np.probe()
}

// probe 建立一条探测连接，同时刷新链ID匹配状态
func (np *nodePool) probe() bool {
	client, err := np.dial()

	np.mu.Lock()
	defer np.mu.Unlock()
	np.lastCheck = time.Now()

	if err != nil {
		np.healthy = false
		return false
	}
	client.Close()
	np.healthy = true
	return true
}

// healthChecker 后台巡检，Close后退出
func (cp *ConnectionPool) healthChecker() {
	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cp.stopCh:
			return
		case <-ticker.C:
			cp.mu.RLock()
			ordered := make([]*nodePool, len(cp.ordered))
			copy(ordered, cp.ordered)
			cp.mu.RUnlock()

			for _, pool := range ordered {
				if pool.probe() {
					cp.logger.Debugf("节点 %s 健康检查通过", pool.cfg.Name)
				} else {
					cp.logger.Warnf("节点 %s 健康检查失败", pool.cfg.Name)
				}
			}
		}
	}
}

// VerifyChainID 确认至少有一个健康节点在期望的链上
// 不匹配的节点逐个告警；全部不可用或不匹配时返回错误
func (cp *ConnectionPool) VerifyChainID(ctx context.Context) error {
	cp.mu.RLock()
	ordered := make([]*nodePool, len(cp.ordered))
	copy(ordered, cp.ordered)
	cp.mu.RUnlock()

	matched := 0
	for _, pool := range ordered {
		if !pool.isHealthy() {
			pool.mu.Lock()
			if pool.wrongChain {
				cp.logger.Warnf("节点 %s 在链 %s 上，期望链 %s", pool.cfg.Name, pool.actualChain, cp.expectedChainID)
			}
			pool.mu.Unlock()
			continue
		}
		matched++
	}

	if matched == 0 {
		return fmt.Errorf("没有健康节点在期望链 %s 上", cp.expectedChainID)
	}
	return nil
}

// GetStats 各节点连接池的运行状态
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	stats := make(map[string]interface{})
	for name, pool := range cp.byName {
		pool.mu.Lock()
		stats[name] = map[string]interface{}{
			"priority":     pool.cfg.Priority,
			"max_size":     maxClientsPer,
			"current_size": pool.current,
			"available":    len(pool.clients),
			"is_healthy":   pool.healthy && !pool.wrongChain,
			"chain_id":     pool.actualChain,
			"last_check":   pool.lastCheck.Format(time.RFC3339),
		}
		pool.mu.Unlock()
	}
	return stats
}

// Close 停止巡检并关闭全部连接
func (cp *ConnectionPool) Close() error {
	cp.stopOnce.Do(func() { close(cp.stopCh) })

	cp.mu.Lock()
	defer cp.mu.Unlock()

	var errs []error
	for name, pool := range cp.byName {
		if err := pool.close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭节点 %s 连接池失败: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭连接池时发生错误: %v", errs)
	}
	cp.logger.Info("连接池已关闭")
	return nil
}

func (np *nodePool) close() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	close(np.clients)
	for client := range np.clients {
		client.Close()
	}
	np.current = 0
	return nil
}

// ConnectionWrapper 连接包装器，用完随Close自动归还
type ConnectionWrapper struct {
	client   *ethclient.Client
	nodeName string
	pool     *ConnectionPool
}

// NewConnectionWrapper 取一条连接并包装
func (cp *ConnectionPool) NewConnectionWrapper() (*ConnectionWrapper, error) {
	client, nodeName, err := cp.GetClient()
	if err != nil {
		return nil, err
	}

	return &ConnectionWrapper{
		client:   client,
		nodeName: nodeName,
		pool:     cp,
	}, nil
}

// Client 获取以太坊客户端
func (cw *ConnectionWrapper) Client() *ethclient.Client {
	return cw.client
}

// NodeName 获取节点名称
func (cw *ConnectionWrapper) NodeName() string {
	return cw.nodeName
}

// Close 归还连接
func (cw *ConnectionWrapper) Close() {
	if cw.client != nil {
		cw.pool.ReturnClient(cw.client, cw.nodeName)
		cw.client = nil
	}
}
