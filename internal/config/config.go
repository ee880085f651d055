package config

import (
	"fmt"
	"os"

	"supplytrace/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Chain   *ChainConfig       `mapstructure:"chain"`
	Wallet  *WalletConfig      `mapstructure:"wallet"`
	Cache   *CacheConfig       `mapstructure:"cache"`
	App     *AppConfig         `mapstructure:"app"`
	Watcher *WatcherConfig     `mapstructure:"watcher"`
	Output  *OutputConfig      `mapstructure:"output"`
	Logging *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 链与合约配置
type ChainConfig struct {
	Nodes           []*NodeConfig `mapstructure:"nodes"`
	ChainID         string        `mapstructure:"chain_id"`         // 合约部署链的链ID（十进制字符串）
	ContractAddress string        `mapstructure:"contract_address"` // 供应链合约地址
	CallTimeout     string        `mapstructure:"call_timeout"`     // 单次读调用超时
	WaitTimeout     string        `mapstructure:"wait_timeout"`     // 等待交易确认超时
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Type      string `mapstructure:"type"`
	RateLimit int    `mapstructure:"rate_limit"`
	Priority  int    `mapstructure:"priority"`
}

// WalletConfig 钱包配置
type WalletConfig struct {
	KeystoreDir    string `mapstructure:"keystore_dir"`    // keystore文件目录
	DefaultAccount string `mapstructure:"default_account"` // 默认账户地址（可空，取keystore第一个）
	ChainPollEvery string `mapstructure:"chain_poll_every"` // 链ID轮询间隔
}

// CacheConfig 本地请求缓存配置
type CacheConfig struct {
	Path string `mapstructure:"path"` // bbolt数据库文件路径
}

// AppConfig 应用配置
type AppConfig struct {
	Origin     string `mapstructure:"origin"`      // 对外展示链接的源，如 https://trace.example.com
	ListenAddr string `mapstructure:"listen_addr"` // HTTP服务监听地址
}

// WatcherConfig 合约事件监听配置
type WatcherConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PollInterval string `mapstructure:"poll_interval"` // 日志轮询间隔
	StartBlock   uint64 `mapstructure:"start_block"`   // 起始区块，0表示从最新开始
	BatchBlocks  uint64 `mapstructure:"batch_blocks"`  // 单次FilterLogs的区块跨度
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 事件审计输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // file 或 kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("SUPPLYTRACE_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		return config, nil
	}

	// 检查是否存在数据库配置文件
	dbConfigFile := "configs/database.yaml"
	if _, err := os.Stat(dbConfigFile); err == nil {
		dbViper := viper.New()
		dbViper.SetConfigFile(dbConfigFile)
		dbViper.SetConfigType("yaml")

		if err := dbViper.ReadInConfig(); err == nil {
			dbDSN := dbViper.GetString("database.dsn")
			if dbDSN != "" {
				logger := logrus.New()
				dbConfig, err := NewDatabaseConfig(dbDSN, logger)
				if err == nil {
					defer dbConfig.Close()

					config, err := dbConfig.LoadConfig()
					if err == nil {
						logger.Info("已从数据库加载配置")
						return config, nil
					}
				}
			}
		}
	}

	// 如果数据库配置不可用，回退到YAML文件
	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// Validate 校验配置完整性
func (c *Config) Validate() error {
	if c.Chain == nil || len(c.Chain.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个链节点")
	}
	for _, node := range c.Chain.Nodes {
		if node.URL == "" {
			return fmt.Errorf("节点 '%s' 缺少URL", node.Name)
		}
	}
	if c.Chain.ContractAddress == "" {
		return fmt.Errorf("缺少合约地址")
	}
	if c.Chain.ChainID == "" {
		return fmt.Errorf("缺少链ID")
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chain: &ChainConfig{
			Nodes: []*NodeConfig{
				{
					Name:      "local_node",
					URL:       "", // 需要在YAML配置或数据库中指定
					Type:      "local",
					RateLimit: 1000,
					Priority:  1,
				},
			},
			ChainID:         "1337",
			ContractAddress: "",
			CallTimeout:     "10s",
			WaitTimeout:     "120s",
		},
		Wallet: &WalletConfig{
			KeystoreDir:    "./keystore",
			DefaultAccount: "",
			ChainPollEvery: "5s",
		},
		Cache: &CacheConfig{
			Path: "./data/requests.db",
		},
		App: &AppConfig{
			Origin:     "http://localhost:8080",
			ListenAddr: ":8080",
		},
		Watcher: &WatcherConfig{
			Enabled:      false,
			PollInterval: "5s",
			StartBlock:   0,
			BatchBlocks:  1000,
		},
		Output: &OutputConfig{
			Format:    "file",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"company_verified": "supplychain_company_verified",
					"product_created":  "supplychain_product_created",
					"product_events":   "supplychain_product_events",
				},
			},
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
