package api

import (
	"database/sql"
	stderrors "errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"supplytrace/internal/config"
	traceerrors "supplytrace/internal/errors"
)

// configSections 各配置段允许的键；与数据库配置加载时读取的键一致
// 未列出的键写入后加载时会被忽略，所以接口直接拒绝
var configSections = map[string]map[string]bool{
	"chain": {
		"chain_id":         true,
		"contract_address": true,
		"call_timeout":     true,
		"wait_timeout":     true,
	},
	"app": {
		"origin":                true,
		"listen_addr":           true,
		"keystore_dir":          true,
		"default_account":       true,
		"chain_poll_every":      true,
		"cache_path":            true,
		"watcher_enabled":       true,
		"watcher_poll_interval": true,
		"watcher_start_block":   true,
		"watcher_batch_blocks":  true,
	},
	"output": {
		"format":        true,
		"directory":     true,
		"kafka_brokers": true,
	},
}

// noticeTopics 事件类型到默认topic的映射；与Kafka输出的fallback一致
var noticeTopics = map[string]string{
	"company_verified": "supplychain_company_verified",
	"product_created":  "supplychain_product_created",
	"product_events":   "supplychain_product_events",
}

// ConfigManager 运行时配置接口；读写数据库里的链节点、配置段与通知topic
type ConfigManager struct {
	dbConfig *config.DatabaseConfig
	logger   *logrus.Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager(dbConfig *config.DatabaseConfig, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		dbConfig: dbConfig,
		logger:   logger,
	}
}

func sectionError(section string) *traceerrors.TraceError {
	return traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
		"UNKNOWN_CONFIG_SECTION", "不支持的配置段，可用: chain/app/output").
		WithComponent("config_manager").WithContext("section", section)
}

func dbError(op string, err error) *traceerrors.TraceError {
	return traceerrors.WrapError(err, traceerrors.ErrorTypeConfig, traceerrors.SeverityHigh,
		"CONFIG_DB_ERROR", "配置数据库操作失败").
		WithComponent("config_manager").WithContext("operation", op)
}

// GetConfig 获取配置段；带key查单个值，不带key列出整段
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	section := c.Param("type")
	if _, ok := configSections[section]; !ok {
		writeError(c, sectionError(section))
		return
	}

	key := c.Query("key")
	if key == "" {
		values, err := cm.dbConfig.ListConfigs(section)
		if err != nil {
			writeError(c, dbError("list_configs", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"section": section,
			"configs": values,
		})
		return
	}

	value, err := cm.dbConfig.GetConfig(section, key)
	if stderrors.Is(err, sql.ErrNoRows) {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeNotFound, traceerrors.SeverityLow,
			"CONFIG_KEY_NOT_FOUND", "配置项不存在").
			WithComponent("config_manager").WithContext("section", section).WithContext("key", key))
		return
	}
	if err != nil {
		writeError(c, dbError("get_config", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"section": section,
		"key":     key,
		"value":   value,
	})
}

// UpdateConfig 更新配置项；只接受加载逻辑认识的键
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	section := c.Param("type")
	keys, ok := configSections[section]
	if !ok {
		writeError(c, sectionError(section))
		return
	}

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"INVALID_REQUEST", "请求参数错误").WithComponent("config_manager"))
		return
	}
	if !keys[req.Key] {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"UNKNOWN_CONFIG_KEY", "配置段不认识该键，写入后不会生效").
			WithComponent("config_manager").WithContext("section", section).WithContext("key", req.Key))
		return
	}

	if err := cm.dbConfig.UpdateConfig(section, req.Key, req.Value); err != nil {
		writeError(c, dbError("update_config", err))
		return
	}

	cm.logger.WithFields(logrus.Fields{
		"section": section,
		"key":     req.Key,
	}).Info("配置已更新，重启后生效")

	c.JSON(http.StatusOK, gin.H{
		"section": section,
		"key":     req.Key,
		"value":   req.Value,
	})
}

// nodePayload 链节点写入参数
type nodePayload struct {
	Name      string `json:"name" binding:"required"`
	URL       string `json:"url" binding:"required"`
	NodeType  string `json:"node_type"`
	RateLimit int    `json:"rate_limit"`
	Priority  int    `json:"priority"`
}

// validate 校验节点参数；URL必须是连接池能拨通的scheme
func (p *nodePayload) validate() *traceerrors.TraceError {
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss") {
		return traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"INVALID_NODE_URL", "节点URL必须是http(s)或ws(s)地址").
			WithComponent("config_manager").WithContext("url", p.URL)
	}
	if p.RateLimit < 0 || p.Priority < 0 {
		return traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"INVALID_NODE_PARAMS", "rate_limit与priority不能为负").
			WithComponent("config_manager").WithContext("name", p.Name)
	}
	if p.NodeType == "" {
		p.NodeType = "rpc"
	}
	return nil
}

// GetChainNodes 列出链节点；含未启用的，按连接池的取用顺序排列
func (cm *ConfigManager) GetChainNodes(c *gin.Context) {
	query := `SELECT id, name, url, node_type, rate_limit, priority, is_active FROM chain_nodes ORDER BY priority, id`
	rows, err := cm.dbConfig.DB.Query(query)
	if err != nil {
		writeError(c, dbError("list_nodes", err))
		return
	}
	defer rows.Close()

	nodes := []gin.H{}
	for rows.Next() {
		var id int
		var node config.NodeConfig
		var isActive bool
		if err := rows.Scan(&id, &node.Name, &node.URL, &node.Type, &node.RateLimit, &node.Priority, &isActive); err != nil {
			writeError(c, dbError("scan_node", err))
			return
		}
		nodes = append(nodes, gin.H{
			"id":         id,
			"name":       node.Name,
			"url":        node.URL,
			"node_type":  node.Type,
			"rate_limit": node.RateLimit,
			"priority":   node.Priority,
			"is_active":  isActive,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
	})
}

// AddChainNode 添加链节点；新节点重启进程后进入连接池
func (cm *ConfigManager) AddChainNode(c *gin.Context) {
	var req nodePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"INVALID_REQUEST", "请求参数错误").WithComponent("config_manager"))
		return
	}
	if verr := req.validate(); verr != nil {
		writeError(c, verr)
		return
	}

	query := `INSERT INTO chain_nodes (name, url, node_type, rate_limit, priority) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	var id int
	if err := cm.dbConfig.DB.QueryRow(query, req.Name, req.URL, req.NodeType, req.RateLimit, req.Priority).Scan(&id); err != nil {
		writeError(c, dbError("add_node", err))
		return
	}

	cm.logger.WithFields(logrus.Fields{
		"node": req.Name,
		"url":  req.URL,
	}).Info("链节点已添加")

	c.JSON(http.StatusOK, gin.H{
		"id":   id,
		"name": req.Name,
	})
}

// UpdateChainNode 更新链节点
func (cm *ConfigManager) UpdateChainNode(c *gin.Context) {
	nodeID := c.Param("id")

	var req struct {
		nodePayload
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"INVALID_REQUEST", "请求参数错误").WithComponent("config_manager"))
		return
	}
	if verr := req.validate(); verr != nil {
		writeError(c, verr)
		return
	}

	query := `UPDATE chain_nodes SET name = $1, url = $2, node_type = $3, rate_limit = $4, priority = $5, is_active = $6 WHERE id = $7`
	result, err := cm.dbConfig.DB.Exec(query, req.Name, req.URL, req.NodeType, req.RateLimit, req.Priority, req.IsActive, nodeID)
	if err != nil {
		writeError(c, dbError("update_node", err))
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeNotFound, traceerrors.SeverityLow,
			"NODE_NOT_FOUND", "节点不存在").WithComponent("config_manager").WithContext("node_id", nodeID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   nodeID,
		"name": req.Name,
	})
}

// DeleteChainNode 删除链节点
func (cm *ConfigManager) DeleteChainNode(c *gin.Context) {
	nodeID := c.Param("id")

	result, err := cm.dbConfig.DB.Exec(`DELETE FROM chain_nodes WHERE id = $1`, nodeID)
	if err != nil {
		writeError(c, dbError("delete_node", err))
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeNotFound, traceerrors.SeverityLow,
			"NODE_NOT_FOUND", "节点不存在").WithComponent("config_manager").WithContext("node_id", nodeID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id": nodeID,
	})
}

// GetKafkaTopics 列出三类通知事件的topic；无覆盖时给出默认值
func (cm *ConfigManager) GetKafkaTopics(c *gin.Context) {
	query := `SELECT data_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := cm.dbConfig.DB.Query(query)
	if err != nil {
		writeError(c, dbError("list_topics", err))
		return
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var dataType, topicName string
		if err := rows.Scan(&dataType, &topicName); err != nil {
			writeError(c, dbError("scan_topic", err))
			return
		}
		overrides[dataType] = topicName
	}

	var topics []gin.H
	for _, eventType := range []string{"company_verified", "product_created", "product_events"} {
		topic, overridden := overrides[eventType]
		if !overridden {
			topic = noticeTopics[eventType]
		}
		topics = append(topics, gin.H{
			"event_type": eventType,
			"topic":      topic,
			"overridden": overridden,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"topics": topics,
	})
}

// UpdateKafkaTopic 覆盖某类事件的topic；只接受已知事件类型
func (cm *ConfigManager) UpdateKafkaTopic(c *gin.Context) {
	eventType := c.Param("type")
	if _, ok := noticeTopics[eventType]; !ok {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"UNKNOWN_EVENT_TYPE", "不支持的事件类型，可用: company_verified/product_created/product_events").
			WithComponent("config_manager").WithContext("event_type", eventType))
		return
	}

	var req struct {
		Topic string `json:"topic" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, traceerrors.NewTraceError(traceerrors.ErrorTypeValidation, traceerrors.SeverityLow,
			"INVALID_REQUEST", "请求参数错误").WithComponent("config_manager"))
		return
	}

	query := `
		INSERT INTO kafka_topics (data_type, topic_name, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (data_type)
		DO UPDATE SET topic_name = $2, is_active = true
	`
	if _, err := cm.dbConfig.DB.Exec(query, eventType, req.Topic); err != nil {
		writeError(c, dbError("update_topic", err))
		return
	}

	cm.logger.WithFields(logrus.Fields{
		"event_type": eventType,
		"topic":      req.Topic,
	}).Info("通知topic已覆盖")

	c.JSON(http.StatusOK, gin.H{
		"event_type": eventType,
		"topic":      req.Topic,
	})
}
