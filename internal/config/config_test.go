package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.NotNil(t, config.Chain)
	assert.NotNil(t, config.Wallet)
	assert.NotNil(t, config.Cache)
	assert.NotNil(t, config.App)
	assert.NotNil(t, config.Watcher)
	assert.NotNil(t, config.Output)
	assert.NotNil(t, config.Logging)

	// 测试链配置
	assert.NotEmpty(t, config.Chain.Nodes)
	firstNode := config.Chain.Nodes[0]
	assert.Equal(t, "local_node", firstNode.Name)
	assert.Equal(t, "", firstNode.URL) // 需要在YAML或数据库中指定
	assert.Equal(t, "local", firstNode.Type)
	assert.Equal(t, 1000, firstNode.RateLimit)
	assert.Equal(t, 1, firstNode.Priority)
	assert.Equal(t, "1337", config.Chain.ChainID)
	assert.Equal(t, "10s", config.Chain.CallTimeout)
	assert.Equal(t, "120s", config.Chain.WaitTimeout)

	// 测试钱包配置
	assert.Equal(t, "./keystore", config.Wallet.KeystoreDir)
	assert.Equal(t, "5s", config.Wallet.ChainPollEvery)

	// 测试缓存配置
	assert.Equal(t, "./data/requests.db", config.Cache.Path)

	// 测试应用配置
	assert.Equal(t, "http://localhost:8080", config.App.Origin)
	assert.Equal(t, ":8080", config.App.ListenAddr)

	// 测试输出配置
	assert.Equal(t, "file", config.Output.Format)
	assert.Equal(t, "./outputs", config.Output.Directory)
	assert.NotNil(t, config.Output.Kafka)
	assert.Equal(t, []string{"localhost:9092"}, config.Output.Kafka.Brokers)
	assert.NotEmpty(t, config.Output.Kafka.Topics)

	// 测试日志配置
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)
}

func TestConfig_Validate(t *testing.T) {
	valid := GetDefaultConfig()
	valid.Chain.Nodes[0].URL = "http://localhost:8545"
	valid.Chain.ContractAddress = "0x254dffcd3277c0b1660f6d42efbb754edababc2b"
	assert.NoError(t, valid.Validate())

	// 缺少节点
	noNodes := GetDefaultConfig()
	noNodes.Chain.Nodes = nil
	assert.Error(t, noNodes.Validate())

	// 节点缺少URL
	emptyURL := GetDefaultConfig()
	emptyURL.Chain.ContractAddress = "0x254dffcd3277c0b1660f6d42efbb754edababc2b"
	assert.Error(t, emptyURL.Validate())

	// 缺少合约地址
	noContract := GetDefaultConfig()
	noContract.Chain.Nodes[0].URL = "http://localhost:8545"
	assert.Error(t, noContract.Validate())

	// 缺少链ID
	noChainID := GetDefaultConfig()
	noChainID.Chain.Nodes[0].URL = "http://localhost:8545"
	noChainID.Chain.ContractAddress = "0x254dffcd3277c0b1660f6d42efbb754edababc2b"
	noChainID.Chain.ChainID = ""
	assert.Error(t, noChainID.Validate())
}

func TestNodeConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		node  *NodeConfig
		valid bool
	}{
		{
			name: "valid node config",
			node: &NodeConfig{
				Name:      "test_node",
				URL:       "http://localhost:8545",
				Type:      "local",
				RateLimit: 100,
				Priority:  1,
			},
			valid: true,
		},
		{
			name: "empty name",
			node: &NodeConfig{
				Name:      "",
				URL:       "http://localhost:8545",
				Type:      "local",
				RateLimit: 100,
				Priority:  1,
			},
			valid: false,
		},
		{
			name: "empty URL",
			node: &NodeConfig{
				Name:      "test_node",
				URL:       "",
				Type:      "local",
				RateLimit: 100,
				Priority:  1,
			},
			valid: false,
		},
		{
			name: "invalid rate limit",
			node: &NodeConfig{
				Name:      "test_node",
				URL:       "http://localhost:8545",
				Type:      "local",
				RateLimit: -1,
				Priority:  1,
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := validateNodeConfig(tt.node)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestKafkaConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *KafkaConfig
		valid  bool
	}{
		{
			name: "valid kafka config",
			config: &KafkaConfig{
				Brokers: []string{"localhost:9092", "localhost:9093"},
				Topics: map[string]string{
					"company_verified": "supplychain_company_verified",
					"product_created":  "supplychain_product_created",
				},
			},
			valid: true,
		},
		{
			name: "empty brokers",
			config: &KafkaConfig{
				Brokers: []string{},
				Topics: map[string]string{
					"product_created": "supplychain_product_created",
				},
			},
			valid: false,
		},
		{
			name: "empty topics",
			config: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics:  map[string]string{},
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := validateKafkaConfig(tt.config)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestOutputConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *OutputConfig
		valid  bool
	}{
		{
			name: "valid file output config",
			config: &OutputConfig{
				Format:    "file",
				Directory: "./outputs",
			},
			valid: true,
		},
		{
			name: "valid kafka output config",
			config: &OutputConfig{
				Format:    "kafka",
				Directory: "./outputs",
				Kafka: &KafkaConfig{
					Brokers: []string{"localhost:9092"},
					Topics: map[string]string{
						"product_created": "supplychain_product_created",
					},
				},
			},
			valid: true,
		},
		{
			name: "invalid format",
			config: &OutputConfig{
				Format:    "invalid",
				Directory: "./outputs",
			},
			valid: false,
		},
		{
			name: "kafka format without kafka config",
			config: &OutputConfig{
				Format:    "kafka",
				Directory: "./outputs",
				Kafka:     nil,
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := validateOutputConfig(tt.config)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

// 辅助验证函数
func validateNodeConfig(node *NodeConfig) bool {
	if node == nil {
		return false
	}
	if node.Name == "" || node.URL == "" {
		return false
	}
	if node.RateLimit < 0 {
		return false
	}
	return true
}

func validateKafkaConfig(config *KafkaConfig) bool {
	if config == nil {
		return false
	}
	if len(config.Brokers) == 0 {
		return false
	}
	if len(config.Topics) == 0 {
		return false
	}
	return true
}

func validateOutputConfig(config *OutputConfig) bool {
	if config == nil {
		return false
	}

	validFormats := []string{"file", "kafka"}
	validFormat := false
	for _, format := range validFormats {
		if config.Format == format {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return false
	}

	// 如果是kafka格式，必须有kafka配置
	if config.Format == "kafka" && config.Kafka == nil {
		return false
	}

	if config.Kafka != nil {
		return validateKafkaConfig(config.Kafka)
	}

	return true
}

// 测试默认Kafka主题配置
func TestDefaultKafkaTopics(t *testing.T) {
	config := GetDefaultConfig()

	expectedTopics := map[string]string{
		"company_verified": "supplychain_company_verified",
		"product_created":  "supplychain_product_created",
		"product_events":   "supplychain_product_events",
	}

	assert.Equal(t, expectedTopics, config.Output.Kafka.Topics)
}

// 测试日志配置
func TestLoggingConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config.Logging)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)
	assert.False(t, config.Logging.Rotation)
	assert.Equal(t, 100, config.Logging.MaxSize)
	assert.Equal(t, 30, config.Logging.MaxAge)
	assert.Equal(t, 3, config.Logging.MaxBackups)
	assert.True(t, config.Logging.Compress)
}

// 基准测试
func BenchmarkGetDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GetDefaultConfig()
	}
}
