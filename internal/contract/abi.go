package contract

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// supplyChainABI 供应链合约的ABI
// 只包含协调层实际消费的方法与事件
const supplyChainABI = `[
  {
    "type": "function",
    "name": "admin",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "address"}]
  },
  {
    "type": "function",
    "name": "nextCompanyId",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getCompanyIdByWallet",
    "stateMutability": "view",
    "inputs": [{"name": "wallet", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getCompanyDetails",
    "stateMutability": "view",
    "inputs": [{"name": "companyId", "type": "uint256"}],
    "outputs": [
      {"name": "id", "type": "uint256"},
      {"name": "name", "type": "string"},
      {"name": "description", "type": "string"},
      {"name": "wallet", "type": "address"},
      {"name": "isVerified", "type": "bool"}
    ]
  },
  {
    "type": "function",
    "name": "createCompany",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "name", "type": "string"},
      {"name": "description", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "verifyCompany",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "companyId", "type": "uint256"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "inviteUser",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "wallet", "type": "address"},
      {"name": "role", "type": "uint8"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "roles",
    "stateMutability": "view",
    "inputs": [{"name": "wallet", "type": "address"}],
    "outputs": [{"name": "", "type": "uint8"}]
  },
  {
    "type": "function",
    "name": "createProduct",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "name", "type": "string"},
      {"name": "description", "type": "string"},
      {"name": "batchNumber", "type": "string"},
      {"name": "supplyChainId", "type": "uint256"},
      {"name": "contentHash", "type": "string"},
      {"name": "productionDate", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getProductByHash",
    "stateMutability": "view",
    "inputs": [{"name": "contentHash", "type": "string"}],
    "outputs": [
      {"name": "id", "type": "uint256"},
      {"name": "name", "type": "string"},
      {"name": "description", "type": "string"},
      {"name": "batchNumber", "type": "string"},
      {"name": "productionDate", "type": "uint256"},
      {"name": "creatorCompanyId", "type": "uint256"},
      {"name": "supplyChainId", "type": "uint256"},
      {"name": "storedHash", "type": "string"},
      {"name": "exists", "type": "bool"}
    ]
  },
  {
    "type": "function",
    "name": "getProductHistory",
    "stateMutability": "view",
    "inputs": [{"name": "contentHash", "type": "string"}],
    "outputs": [
      {"name": "timestamps", "type": "uint256[]"},
      {"name": "actors", "type": "address[]"},
      {"name": "actorCompanyIds", "type": "uint256[]"},
      {"name": "eventTypes", "type": "string[]"},
      {"name": "locations", "type": "string[]"},
      {"name": "notes", "type": "string[]"}
    ]
  },
  {
    "type": "function",
    "name": "recordProductEvent",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "contentHash", "type": "string"},
      {"name": "eventType", "type": "string"},
      {"name": "location", "type": "string"},
      {"name": "notes", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "event",
    "name": "CompanyVerified",
    "inputs": [
      {"name": "companyId", "type": "uint256", "indexed": true},
      {"name": "name", "type": "string", "indexed": false},
      {"name": "wallet", "type": "address", "indexed": false}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "ProductCreated",
    "inputs": [
      {"name": "productId", "type": "uint256", "indexed": true},
      {"name": "contentHash", "type": "string", "indexed": false},
      {"name": "creatorCompanyId", "type": "uint256", "indexed": false},
      {"name": "supplyChainId", "type": "uint256", "indexed": false}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "ProductEventRecorded",
    "inputs": [
      {"name": "productId", "type": "uint256", "indexed": true},
      {"name": "contentHash", "type": "string", "indexed": false},
      {"name": "eventType", "type": "string", "indexed": false},
      {"name": "location", "type": "string", "indexed": false},
      {"name": "actor", "type": "address", "indexed": false}
    ],
    "anonymous": false
  }
]`

var (
	parsedABI     abi.ABI
	parseABIOnce  sync.Once
	parseABIError error
)

// SupplyChainABI 返回解析后的合约ABI
func SupplyChainABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		parsedABI, parseABIError = abi.JSON(strings.NewReader(supplyChainABI))
	})
	return parsedABI, parseABIError
}
