package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	// 加载链节点配置
	chainConfig, err := dc.loadChainConfig()
	if err != nil {
		return nil, fmt.Errorf("加载链配置失败: %w", err)
	}
	config.Chain = chainConfig

	// 加载应用配置
	if err := dc.loadAppConfig(config); err != nil {
		return nil, fmt.Errorf("加载应用配置失败: %w", err)
	}

	// 加载输出配置
	outputConfig, err := dc.loadOutputConfig()
	if err != nil {
		return nil, fmt.Errorf("加载输出配置失败: %w", err)
	}
	config.Output = outputConfig

	return config, nil
}

// loadChainConfig 加载链配置
func (dc *DatabaseConfig) loadChainConfig() (*ChainConfig, error) {
	// 加载节点配置
	query := `SELECT name, url, node_type, rate_limit, priority FROM chain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		err := rows.Scan(&node.Name, &node.URL, &node.Type, &node.RateLimit, &node.Priority)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}

	config := &ChainConfig{
		Nodes:       nodes,
		CallTimeout: "10s",
		WaitTimeout: "120s",
	}

	// 链与合约参数放在通用配置表
	values, err := dc.ListConfigs("chain")
	if err != nil {
		return nil, err
	}
	for key, value := range values {
		switch key {
		case "chain_id":
			config.ChainID = value
		case "contract_address":
			config.ContractAddress = value
		case "call_timeout":
			config.CallTimeout = value
		case "wait_timeout":
			config.WaitTimeout = value
		}
	}

	return config, nil
}

// loadAppConfig 加载应用与钱包配置
func (dc *DatabaseConfig) loadAppConfig(config *Config) error {
	values, err := dc.ListConfigs("app")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "origin":
			config.App.Origin = value
		case "listen_addr":
			config.App.ListenAddr = value
		case "keystore_dir":
			config.Wallet.KeystoreDir = value
		case "default_account":
			config.Wallet.DefaultAccount = value
		case "chain_poll_every":
			config.Wallet.ChainPollEvery = value
		case "cache_path":
			config.Cache.Path = value
		case "watcher_enabled":
			config.Watcher.Enabled = strings.ToLower(value) == "true"
		case "watcher_poll_interval":
			config.Watcher.PollInterval = value
		case "watcher_start_block":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				config.Watcher.StartBlock = v
			}
		case "watcher_batch_blocks":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				config.Watcher.BatchBlocks = v
			}
		}
	}

	return nil
}

// loadOutputConfig 加载输出配置
func (dc *DatabaseConfig) loadOutputConfig() (*OutputConfig, error) {
	query := `SELECT config_key, config_value FROM output_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	config := &OutputConfig{
		Format:    "file",
		Directory: "./outputs",
	}

	for rows.Next() {
		var key, value string
		err := rows.Scan(&key, &value)
		if err != nil {
			return nil, err
		}

		switch key {
		case "format":
			config.Format = value
		case "directory":
			config.Directory = value
		case "kafka_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				config.Kafka = &KafkaConfig{
					Brokers: brokers,
				}
			}
		}
	}

	// 加载Kafka主题配置
	if config.Format == "kafka" {
		topics, err := dc.loadKafkaTopics()
		if err != nil {
			return nil, err
		}
		if config.Kafka == nil {
			config.Kafka = &KafkaConfig{}
		}
		config.Kafka.Topics = topics
	}

	return config, nil
}

// loadKafkaTopics 加载Kafka主题配置
func (dc *DatabaseConfig) loadKafkaTopics() (map[string]string, error) {
	query := `SELECT data_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make(map[string]string)
	for rows.Next() {
		var dataType, topicName string
		err := rows.Scan(&dataType, &topicName)
		if err != nil {
			return nil, err
		}
		topics[dataType] = topicName
	}

	return topics, nil
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(configType, key, value string) error {
	tableName, err := configTable(configType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (config_key, config_value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, updated_at = CURRENT_TIMESTAMP
	`, tableName)

	_, err = dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(configType, key string) (string, error) {
	tableName, err := configTable(configType)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`SELECT config_value FROM %s WHERE config_key = $1 AND is_active = true`, tableName)
	var value string
	err = dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出所有配置
func (dc *DatabaseConfig) ListConfigs(configType string) (map[string]string, error) {
	tableName, err := configTable(configType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE is_active = true`, tableName)
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		err := rows.Scan(&key, &value)
		if err != nil {
			return nil, err
		}
		configs[key] = value
	}

	return configs, nil
}

// configTable 映射配置类型到表名
func configTable(configType string) (string, error) {
	switch configType {
	case "chain":
		return "chain_config", nil
	case "app":
		return "app_config", nil
	case "output":
		return "output_config", nil
	default:
		return "", fmt.Errorf("不支持的配置类型: %s", configType)
	}
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
