package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"supplytrace/internal/errors"
	"supplytrace/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

const (
	minProductNameLen = 3
	minDescriptionLen = 10
	minCompanyNameLen = 3
)

// batchNumberPattern 批次号格式，例如 BATCH-0042
var batchNumberPattern = regexp.MustCompile(`^BATCH-\d{4}$`)

// contentHashPattern 内容哈希为64位小写十六进制
var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validator 数据验证器
type Validator struct {
	logger *logrus.Logger
	clock  func() time.Time
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Errors   []*errors.TraceError  `json:"errors,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
	DataType string                `json:"data_type"`
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock 注入测试时钟
func (v *Validator) SetClock(clock func() time.Time) {
	v.clock = clock
}

// FirstError 返回首个验证错误
func (r *ValidationResult) FirstError() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

func newResult(dataType string) *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		DataType: dataType,
		Errors:   make([]*errors.TraceError, 0),
		Warnings: make([]string, 0),
	}
}

func (r *ValidationResult) fail(code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, errors.NewTraceError(
		errors.ErrorTypeValidation,
		errors.SeverityMedium,
		code,
		message,
	).WithComponent("validator"))
}

// ValidateProductInput 验证创建产品的输入
func (v *Validator) ValidateProductInput(input *models.CreateProductInput) *ValidationResult {
	result := newResult("product_input")
	if input == nil {
		result.fail("VALIDATION_FAILED", "产品输入为空")
		return result
	}

	if len(strings.TrimSpace(input.Name)) < minProductNameLen {
		result.fail("PRODUCT_NAME_TOO_SHORT",
			fmt.Sprintf("产品名称至少 %d 个字符", minProductNameLen))
	}

	if len(strings.TrimSpace(input.Description)) < minDescriptionLen {
		result.fail("PRODUCT_DESCRIPTION_TOO_SHORT",
			fmt.Sprintf("产品描述至少 %d 个字符", minDescriptionLen))
	}

	if !batchNumberPattern.MatchString(input.BatchNumber) {
		result.fail("INVALID_BATCH_NUMBER", "批次号格式必须为 BATCH-0000")
	}

	if input.ProductionDate.IsZero() {
		result.fail("INVALID_PRODUCTION_DATE", "生产日期不能为空")
	} else if input.ProductionDate.After(v.clock()) {
		result.fail("PRODUCTION_DATE_IN_FUTURE", "生产日期不能晚于当前时间")
	}

	if input.SupplyChainID == "" {
		result.fail("INVALID_SUPPLY_CHAIN_ID", "供应链ID不能为空")
	} else if !isDecimal(input.SupplyChainID) {
		result.fail("INVALID_SUPPLY_CHAIN_ID", "供应链ID必须为十进制数字")
	}

	return result
}

// ValidateCompanyInput 验证公司注册输入
func (v *Validator) ValidateCompanyInput(name, description string) *ValidationResult {
	result := newResult("company_input")

	if len(strings.TrimSpace(name)) < minCompanyNameLen {
		result.fail("COMPANY_NAME_TOO_SHORT",
			fmt.Sprintf("公司名称至少 %d 个字符", minCompanyNameLen))
	}

	if len(strings.TrimSpace(description)) < minDescriptionLen {
		result.fail("COMPANY_DESCRIPTION_TOO_SHORT",
			fmt.Sprintf("公司描述至少 %d 个字符", minDescriptionLen))
	}

	return result
}

// ValidateEventInput 验证产品事件输入
// 事件类型必须在当前角色的白名单内
func (v *Validator) ValidateEventInput(role models.Role, eventType, location string) *ValidationResult {
	result := newResult("event_input")

	if strings.TrimSpace(eventType) == "" {
		result.fail("INVALID_EVENT_TYPE", "事件类型不能为空")
		return result
	}

	if !role.Valid() {
		result.Valid = false
		result.Errors = append(result.Errors, errors.NewTraceError(
			errors.ErrorTypeAuthorization,
			errors.SeverityLow,
			"NOT_AUTHORIZED",
			"当前账户没有任何供应链角色",
		).WithComponent("validator"))
		return result
	}

	if !role.CanRecord(eventType) {
		result.Valid = false
		result.Errors = append(result.Errors, errors.NewTraceError(
			errors.ErrorTypeInvalidEventType,
			errors.SeverityLow,
			"INVALID_EVENT_TYPE",
			fmt.Sprintf("角色 %s 不允许记录事件类型 '%s'", role.String(), eventType),
		).WithComponent("validator").
			WithContext("role", role.String()).
			WithContext("event_type", eventType).
			WithContext("permitted", role.PermittedEventTypes()))
	}

	if strings.TrimSpace(location) == "" {
		result.fail("INVALID_LOCATION", "事件地点不能为空")
	}

	return result
}

// ValidateAddress 验证以太坊地址格式
func (v *Validator) ValidateAddress(address string) *ValidationResult {
	result := newResult("address")
	if !isValidAddress(address) {
		result.fail("INVALID_ADDRESS", fmt.Sprintf("地址格式无效: %s", address))
	}
	return result
}

// ValidateContentHash 验证产品内容哈希格式
func (v *Validator) ValidateContentHash(hash string) *ValidationResult {
	result := newResult("content_hash")
	if !contentHashPattern.MatchString(hash) {
		result.fail("INVALID_CONTENT_HASH", "内容哈希必须为64位小写十六进制")
	}
	return result
}

// isValidAddress 检查地址格式
func isValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// isDecimal 检查字符串是否为十进制非负整数
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
