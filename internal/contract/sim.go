package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	traceerrors "supplytrace/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// simCompany 模拟器中的公司状态
type simCompany struct {
	id          *big.Int
	name        string
	description string
	wallet      string
	verified    bool
}

// simProduct 模拟器中的产品状态
type simProduct struct {
	id               *big.Int
	name             string
	description      string
	batchNumber      string
	productionDate   *big.Int
	creatorCompanyID *big.Int
	supplyChainID    *big.Int
	contentHash      string
}

// simEvent 模拟器中的产品事件
type simEvent struct {
	timestamp      *big.Int
	actor          string
	actorCompanyID *big.Int
	eventType      string
	location       string
	notes          string
}

// Sim 内存版合约模拟器
// 写操作在Wait时才生效，贴合真实链上先广播后确认的时序
type Sim struct {
	mu sync.Mutex

	admin           string
	nextCompanyID   *big.Int
	nextProductID   *big.Int
	companies       map[string]*simCompany // key: companyId十进制
	companyByWallet map[string]*big.Int    // key: 小写钱包地址
	roles           map[string]uint8
	products        map[string]*simProduct
	histories       map[string][]*simEvent

	from       string
	chainID    string
	clock      func() time.Time
	txCounter  uint64
	broadcasts int

	rejectNext   bool
	deferReverts bool
	blockNumber  uint64
}

// NewSim 创建模拟器，admin为管理员钱包地址
func NewSim(admin string) *Sim {
	return &Sim{
		admin:           strings.ToLower(admin),
		nextCompanyID:   big.NewInt(1),
		nextProductID:   big.NewInt(1),
		companies:       make(map[string]*simCompany),
		companyByWallet: make(map[string]*big.Int),
		roles:           make(map[string]uint8),
		products:        make(map[string]*simProduct),
		histories:       make(map[string][]*simEvent),
		from:            strings.ToLower(admin),
		chainID:         "1337",
		clock:           time.Now,
		blockNumber:     1,
	}
}

// SetFrom 切换调用方身份
func (s *Sim) SetFrom(from string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.from = strings.ToLower(from)
}

// SetClock 注入测试时钟
func (s *Sim) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// RejectNext 下一次写操作模拟用户拒绝，不产生任何广播
func (s *Sim) RejectNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// DeferReverts 让回滚推迟到Wait阶段暴露（默认在广播前的预估阶段暴露）
func (s *Sim) DeferReverts(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferReverts = v
}

// Broadcasts 返回已广播的交易数
func (s *Sim) Broadcasts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcasts
}

// Admin 返回管理员地址
func (s *Sim) Admin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// Read 执行只读调用
func (s *Sim) Read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch method {
	case "admin":
		return []interface{}{common.HexToAddress(s.admin)}, nil

	case "nextCompanyId":
		return []interface{}{new(big.Int).Set(s.nextCompanyID)}, nil

	case "getCompanyIdByWallet":
		wallet := strings.ToLower(args[0].(common.Address).Hex())
		if id, ok := s.companyByWallet[wallet]; ok {
			return []interface{}{new(big.Int).Set(id)}, nil
		}
		return []interface{}{big.NewInt(0)}, nil

	case "getCompanyDetails":
		id := args[0].(*big.Int)
		company, ok := s.companies[id.String()]
		if !ok {
			return []interface{}{big.NewInt(0), "", "", common.Address{}, false}, nil
		}
		return []interface{}{
			new(big.Int).Set(company.id),
			company.name,
			company.description,
			common.HexToAddress(company.wallet),
			company.verified,
		}, nil

	case "roles":
		wallet := strings.ToLower(args[0].(common.Address).Hex())
		return []interface{}{s.roles[wallet]}, nil

	case "getProductByHash":
		hash := args[0].(string)
		product, ok := s.products[hash]
		if !ok {
			return []interface{}{
				big.NewInt(0), "", "", "", big.NewInt(0),
				big.NewInt(0), big.NewInt(0), "", false,
			}, nil
		}
		return []interface{}{
			new(big.Int).Set(product.id),
			product.name,
			product.description,
			product.batchNumber,
			new(big.Int).Set(product.productionDate),
			new(big.Int).Set(product.creatorCompanyID),
			new(big.Int).Set(product.supplyChainID),
			product.contentHash,
			true,
		}, nil

	case "getProductHistory":
		hash := args[0].(string)
		events := s.histories[hash]
		timestamps := make([]*big.Int, 0, len(events))
		actors := make([]common.Address, 0, len(events))
		companyIDs := make([]*big.Int, 0, len(events))
		eventTypes := make([]string, 0, len(events))
		locations := make([]string, 0, len(events))
		notes := make([]string, 0, len(events))
		for _, ev := range events {
			timestamps = append(timestamps, new(big.Int).Set(ev.timestamp))
			actors = append(actors, common.HexToAddress(ev.actor))
			companyIDs = append(companyIDs, new(big.Int).Set(ev.actorCompanyID))
			eventTypes = append(eventTypes, ev.eventType)
			locations = append(locations, ev.location)
			notes = append(notes, ev.notes)
		}
		return []interface{}{timestamps, actors, companyIDs, eventTypes, locations, notes}, nil

	default:
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeContractCall,
			traceerrors.SeverityMedium,
			"CALL_EXCEPTION",
			fmt.Sprintf("未知的合约方法: %s", method),
		).WithComponent("contract_sim")
	}
}

// Write 发起写交易
func (s *Sim) Write(ctx context.Context, method string, value *big.Int, args ...interface{}) (TxHandle, error) {
	s.mu.Lock()

	if s.rejectNext {
		s.rejectNext = false
		s.mu.Unlock()
		// 用户拒绝发生在广播之前
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeUserRejected,
			traceerrors.SeverityLow,
			"USER_REJECTED",
			"用户拒绝了钱包请求",
		).WithComponent("contract_sim").WithContext("method", method)
	}

	from := s.from
	apply, revertReason := s.buildMutation(method, from, args)

	if revertReason != "" && !s.deferReverts {
		s.mu.Unlock()
		// 预估阶段即可发现的回滚，同样不会广播
		return nil, traceerrors.NewTraceError(
			traceerrors.ErrorTypeTransactionReverted,
			traceerrors.SeverityMedium,
			"TX_REVERTED",
			"调用被合约回滚",
		).WithComponent("contract_sim").
			WithRevertReason(revertReason).
			WithContext("method", method)
	}

	s.broadcasts++
	s.txCounter++
	s.blockNumber++
	hash := fmt.Sprintf("0x%064x", s.txCounter)
	blockNumber := s.blockNumber
	s.mu.Unlock()

	return &simTxHandle{
		sim:          s,
		hash:         hash,
		method:       method,
		apply:        apply,
		revertReason: revertReason,
		blockNumber:  blockNumber,
	}, nil
}

// buildMutation 校验写操作并返回提交函数
// 返回的revertReason非空表示该交易上链后必然回滚
func (s *Sim) buildMutation(method, from string, args []interface{}) (func(), string) {
	switch method {
	case "createCompany":
		name := args[0].(string)
		description := args[1].(string)
		if _, ok := s.companyByWallet[from]; ok {
			return nil, "Company already registered"
		}
		return func() {
			id := new(big.Int).Set(s.nextCompanyID)
			s.nextCompanyID = new(big.Int).Add(s.nextCompanyID, big.NewInt(1))
			s.companies[id.String()] = &simCompany{
				id:          id,
				name:        name,
				description: description,
				wallet:      from,
			}
			s.companyByWallet[from] = id
		}, ""

	case "verifyCompany":
		id := args[0].(*big.Int)
		if from != s.admin {
			return nil, "Only admin can verify"
		}
		company, ok := s.companies[id.String()]
		if !ok {
			return nil, "Company does not exist"
		}
		if company.verified {
			return nil, "Company already verified"
		}
		return func() {
			company.verified = true
		}, ""

	case "inviteUser":
		wallet := strings.ToLower(args[0].(common.Address).Hex())
		role := args[1].(uint8)
		if from != s.admin {
			return nil, "Only admin can invite"
		}
		if role < 1 || role > 4 {
			return nil, "Invalid role"
		}
		return func() {
			s.roles[wallet] = role
		}, ""

	case "createProduct":
		name := args[0].(string)
		description := args[1].(string)
		batchNumber := args[2].(string)
		supplyChainID := args[3].(*big.Int)
		contentHash := args[4].(string)
		productionDate := args[5].(*big.Int)

		companyID, ok := s.companyByWallet[from]
		if !ok {
			return nil, "Company not registered"
		}
		if !s.companies[companyID.String()].verified {
			return nil, "Company not verified"
		}
		if _, exists := s.products[contentHash]; exists {
			return nil, "Product already exists"
		}
		return func() {
			id := new(big.Int).Set(s.nextProductID)
			s.nextProductID = new(big.Int).Add(s.nextProductID, big.NewInt(1))
			s.products[contentHash] = &simProduct{
				id:               id,
				name:             name,
				description:      description,
				batchNumber:      batchNumber,
				productionDate:   new(big.Int).Set(productionDate),
				creatorCompanyID: new(big.Int).Set(companyID),
				supplyChainID:    new(big.Int).Set(supplyChainID),
				contentHash:      contentHash,
			}
		}, ""

	case "recordProductEvent":
		contentHash := args[0].(string)
		eventType := args[1].(string)
		location := args[2].(string)
		notes := args[3].(string)

		if _, exists := s.products[contentHash]; !exists {
			return nil, "Product does not exist"
		}
		companyID, ok := s.companyByWallet[from]
		if !ok {
			return nil, "Company not registered"
		}
		if !s.companies[companyID.String()].verified {
			return nil, "Company not verified"
		}
		return func() {
			s.histories[contentHash] = append(s.histories[contentHash], &simEvent{
				timestamp:      big.NewInt(s.clock().Unix()),
				actor:          from,
				actorCompanyID: new(big.Int).Set(companyID),
				eventType:      eventType,
				location:       location,
				notes:          notes,
			})
		}, ""

	default:
		return nil, fmt.Sprintf("unknown method %s", method)
	}
}

// Close 关闭模拟器
func (s *Sim) Close() error {
	return nil
}

// simTxHandle 模拟交易句柄
type simTxHandle struct {
	sim          *Sim
	hash         string
	method       string
	apply        func()
	revertReason string
	blockNumber  uint64

	once   sync.Once
	result error
}

// Hash 返回交易哈希
func (h *simTxHandle) Hash() string {
	return h.hash
}

// Wait 确认交易，首次调用时提交状态变更
func (h *simTxHandle) Wait(ctx context.Context) (*types.Receipt, error) {
	h.once.Do(func() {
		if h.revertReason != "" {
			h.result = traceerrors.NewTraceError(
				traceerrors.ErrorTypeTransactionReverted,
				traceerrors.SeverityMedium,
				"TX_REVERTED",
				"交易被合约回滚",
			).WithComponent("contract_sim").
				WithRevertReason(h.revertReason).
				WithTxHash(h.hash).
				WithContext("method", h.method)
			return
		}

		h.sim.mu.Lock()
		h.apply()
		h.sim.mu.Unlock()
	})

	status := types.ReceiptStatusSuccessful
	if h.revertReason != "" {
		status = types.ReceiptStatusFailed
	}

	receipt := &types.Receipt{
		Status:      status,
		TxHash:      common.HexToHash(h.hash),
		BlockNumber: new(big.Int).SetUint64(h.blockNumber),
	}
	return receipt, h.result
}
