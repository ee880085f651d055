package product

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"supplytrace/pkg/models"
)

// maxNonce 哈希去重随机数上限
const maxNonce = 1_000_000

// Hasher 产品内容哈希生成器
// 时间戳与随机数让同一份输入重复提交时得到不同哈希
type Hasher struct {
	clock func() time.Time
	nonce func() int64
}

// NewHasher 创建哈希生成器
func NewHasher() *Hasher {
	return &Hasher{
		clock: time.Now,
		nonce: func() int64 { return rand.Int63n(maxNonce) },
	}
}

// SetClock 替换时钟，仅用于测试
func (h *Hasher) SetClock(clock func() time.Time) {
	h.clock = clock
}

// SetNonce 替换随机数来源，仅用于测试
func (h *Hasher) SetNonce(nonce func() int64) {
	h.nonce = nonce
}

// ComputeContentHash 计算产品内容哈希
// 各字段以"-"拼接后做SHA256，输出64位小写十六进制
func (h *Hasher) ComputeContentHash(input *models.CreateProductInput, companyID string) string {
	payload := strings.Join([]string{
		input.Name,
		input.Description,
		companyID,
		input.SupplyChainID,
		input.ProductionDate.Format("2006-01-02"),
		input.BatchNumber,
		strconv.FormatInt(h.clock().UnixMilli(), 10),
		strconv.FormatInt(h.nonce(), 10),
	}, "-")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
