package validation

import (
	"testing"
	"time"

	"supplytrace/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestValidator() *Validator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	v := NewValidator(logger)
	v.SetClock(func() time.Time {
		return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	})
	return v
}

func validProductInput() *models.CreateProductInput {
	return &models.CreateProductInput{
		Name:           "Organic Apples",
		Description:    "Fresh organic apples from local farms",
		BatchNumber:    "BATCH-0042",
		ProductionDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		SupplyChainID:  "7",
	}
}

func TestValidateProductInput_Valid(t *testing.T) {
	v := newTestValidator()
	result := v.ValidateProductInput(validProductInput())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NoError(t, result.FirstError())
}

func TestValidateProductInput_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CreateProductInput)
		code   string
	}{
		{
			name:   "名称太短",
			mutate: func(in *models.CreateProductInput) { in.Name = "Ap" },
			code:   "PRODUCT_NAME_TOO_SHORT",
		},
		{
			name:   "名称只有空白",
			mutate: func(in *models.CreateProductInput) { in.Name = "    " },
			code:   "PRODUCT_NAME_TOO_SHORT",
		},
		{
			name:   "描述太短",
			mutate: func(in *models.CreateProductInput) { in.Description = "too short" },
			code:   "PRODUCT_DESCRIPTION_TOO_SHORT",
		},
		{
			name:   "批次号缺少前缀",
			mutate: func(in *models.CreateProductInput) { in.BatchNumber = "0042" },
			code:   "INVALID_BATCH_NUMBER",
		},
		{
			name:   "批次号位数不足",
			mutate: func(in *models.CreateProductInput) { in.BatchNumber = "BATCH-42" },
			code:   "INVALID_BATCH_NUMBER",
		},
		{
			name:   "批次号小写前缀",
			mutate: func(in *models.CreateProductInput) { in.BatchNumber = "batch-0042" },
			code:   "INVALID_BATCH_NUMBER",
		},
		{
			name:   "生产日期为零值",
			mutate: func(in *models.CreateProductInput) { in.ProductionDate = time.Time{} },
			code:   "INVALID_PRODUCTION_DATE",
		},
		{
			name: "生产日期在未来",
			mutate: func(in *models.CreateProductInput) {
				in.ProductionDate = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
			},
			code: "PRODUCTION_DATE_IN_FUTURE",
		},
		{
			name:   "供应链ID为空",
			mutate: func(in *models.CreateProductInput) { in.SupplyChainID = "" },
			code:   "INVALID_SUPPLY_CHAIN_ID",
		},
		{
			name:   "供应链ID非数字",
			mutate: func(in *models.CreateProductInput) { in.SupplyChainID = "abc" },
			code:   "INVALID_SUPPLY_CHAIN_ID",
		},
	}

	v := newTestValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validProductInput()
			tt.mutate(input)

			result := v.ValidateProductInput(input)
			assert.False(t, result.Valid)

			codes := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				codes = append(codes, e.Code)
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestValidateProductInput_Nil(t *testing.T) {
	v := newTestValidator()
	result := v.ValidateProductInput(nil)
	assert.False(t, result.Valid)
	assert.Error(t, result.FirstError())
}

func TestValidateCompanyInput(t *testing.T) {
	v := newTestValidator()

	valid := v.ValidateCompanyInput("Fresh Farms", "Organic produce supplier")
	assert.True(t, valid.Valid)

	shortName := v.ValidateCompanyInput("FF", "Organic produce supplier")
	assert.False(t, shortName.Valid)

	shortDesc := v.ValidateCompanyInput("Fresh Farms", "short")
	assert.False(t, shortDesc.Valid)
}

func TestValidateEventInput_RoleWhitelist(t *testing.T) {
	v := newTestValidator()

	// 供应商可以记录质检
	result := v.ValidateEventInput(models.RoleSupplier, "Quality Check", "Farm A")
	assert.True(t, result.Valid)

	// 供应商不能记录发货
	result = v.ValidateEventInput(models.RoleSupplier, "Shipped", "Farm A")
	assert.False(t, result.Valid)
	assert.Equal(t, "INVALID_EVENT_TYPE", result.Errors[0].Code)

	// 承运商可以记录发货
	result = v.ValidateEventInput(models.RoleShipper, "Shipped", "Port B")
	assert.True(t, result.Valid)

	// 零售商可以记录上架
	result = v.ValidateEventInput(models.RoleRetailer, "On Shelf", "Store C")
	assert.True(t, result.Valid)

	// 配送中心可以记录分发
	result = v.ValidateEventInput(models.RoleDeliveryHub, "Dispatched", "Hub D")
	assert.True(t, result.Valid)
}

func TestValidateEventInput_NoRole(t *testing.T) {
	v := newTestValidator()

	result := v.ValidateEventInput(models.RoleNone, "Produced", "Farm A")
	assert.False(t, result.Valid)
	assert.Equal(t, "NOT_AUTHORIZED", result.Errors[0].Code)
}

func TestValidateEventInput_EmptyFields(t *testing.T) {
	v := newTestValidator()

	empty := v.ValidateEventInput(models.RoleSupplier, "", "Farm A")
	assert.False(t, empty.Valid)

	noLocation := v.ValidateEventInput(models.RoleSupplier, "Produced", "  ")
	assert.False(t, noLocation.Valid)
}

func TestValidateAddress(t *testing.T) {
	v := newTestValidator()

	assert.True(t, v.ValidateAddress("0x627306090abaB3A6e1400e9345bC60c78a8BEf57").Valid)
	assert.True(t, v.ValidateAddress("0x627306090abab3a6e1400e9345bc60c78a8bef57").Valid)
	assert.False(t, v.ValidateAddress("0x123").Valid)
	assert.False(t, v.ValidateAddress("not-an-address").Valid)
	assert.False(t, v.ValidateAddress("").Valid)
}

func TestValidateContentHash(t *testing.T) {
	v := newTestValidator()

	valid := "a3f1c2d4e5b6978801234567890abcdef01234567890abcdef01234567890abc"
	assert.True(t, v.ValidateContentHash(valid).Valid)

	// 大写不接受
	assert.False(t, v.ValidateContentHash("A3F1C2D4E5B6978801234567890ABCDEF01234567890ABCDEF01234567890ABC").Valid)
	assert.False(t, v.ValidateContentHash("deadbeef").Valid)
	assert.False(t, v.ValidateContentHash("").Valid)
}
