package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"supplytrace/internal/cache"
	"supplytrace/internal/company"
	"supplytrace/internal/config"
	"supplytrace/internal/connection"
	traceerrors "supplytrace/internal/errors"
	"supplytrace/internal/events"
	"supplytrace/internal/product"
	"supplytrace/internal/viewstate"
	"supplytrace/internal/wallet"
	"supplytrace/pkg/models"
)

// Deps API服务器依赖
type Deps struct {
	Config    *config.Config
	Wallet    *wallet.Manager
	Resolver  *company.Resolver
	Companies *company.Service
	Products  *product.Coordinator
	Store     cache.Store
	Cursor    *events.Cursor // 可空；事件监听未启用时为nil
	Pool      *connection.ConnectionPool
	ConfigDB  *config.DatabaseConfig // 可空；未配置数据库时配置管理路由不注册
}

// Server API服务器
type Server struct {
	deps       Deps
	logger     *logrus.Logger
	logManager *LogManager
	configMgr  *ConfigManager
	errHandler *traceerrors.ErrorHandler
	server     *http.Server
	startedAt  time.Time
}

// NewServer 创建新的API服务器
func NewServer(deps Deps, logger *logrus.Logger) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	s := &Server{
		deps:       deps,
		logger:     logger,
		logManager: logManager,
		errHandler: traceerrors.NewErrorHandler(logger),
		startedAt:  time.Now(),
	}
	if deps.ConfigDB != nil {
		s.configMgr = NewConfigManager(deps.ConfigDB, logger)
	}
	return s
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)

	addr := ":8080"
	if s.deps.Config != nil && s.deps.Config.App != nil && s.deps.Config.App.ListenAddr != "" {
		addr = s.deps.Config.App.ListenAddr
	}

	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	s.logger.Infof("API服务器启动在 %s", addr)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 钱包会话
		api.POST("/session/connect", s.connectSession)
		api.GET("/session", s.getSession)
		api.POST("/session/disconnect", s.disconnectSession)

		// 身份解析
		api.GET("/identity", s.getIdentity)
		api.GET("/screen", s.getScreen)
		api.GET("/roles/:wallet", s.getRole)

		// 公司注册与审批
		api.POST("/companies", s.registerCompany)
		api.POST("/companies/:id/verify", s.verifyCompany)
		api.POST("/invites", s.inviteUser)
		api.GET("/invites", s.getInvites)
		api.GET("/requests", s.getRequests)

		// 产品生命周期
		api.POST("/products", s.createProduct)
		api.GET("/products/:hash", s.getProduct)
		api.GET("/products/:hash/history", s.getHistory)
		api.POST("/products/:hash/events", s.recordEvent)

		// 运行状态
		api.GET("/watcher", s.getWatcherStatus)
		api.GET("/nodes", s.getNodes)
		api.GET("/errors", s.getErrorStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 配置管理（需要数据库配置）
		if s.configMgr != nil {
			api.GET("/config/:type", s.configMgr.GetConfig)
			api.PUT("/config/:type", s.configMgr.UpdateConfig)
			api.GET("/chain/nodes", s.configMgr.GetChainNodes)
			api.POST("/chain/nodes", s.configMgr.AddChainNode)
			api.PUT("/chain/nodes/:id", s.configMgr.UpdateChainNode)
			api.DELETE("/chain/nodes/:id", s.configMgr.DeleteChainNode)
			api.GET("/kafka/topics", s.configMgr.GetKafkaTopics)
			api.PUT("/kafka/topics/:type", s.configMgr.UpdateKafkaTopic)
		}
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).String(),
		"service":   "supplytrace-api",
	})
}

// requireSession 获取当前钱包会话，无会话时返回nil并写出错误
func (s *Server) requireSession(c *gin.Context) *models.WalletSession {
	session, ok := s.deps.Wallet.Current()
	if !ok {
		s.writeError(c,traceerrors.NewTraceError(
			traceerrors.ErrorTypeWallet,
			traceerrors.SeverityMedium,
			"WALLET_UNAVAILABLE",
			"钱包未连接",
		).WithComponent("api_server"))
		return nil
	}
	return session
}

// connectSession 连接钱包会话
func (s *Server) connectSession(c *gin.Context) {
	session, err := s.deps.Wallet.Connect(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":           session,
		"on_matching_chain": s.deps.Wallet.OnMatchingChain(),
	})
}

// getSession 获取当前会话
func (s *Server) getSession(c *gin.Context) {
	session, ok := s.deps.Wallet.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"connected": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":         true,
		"session":           session,
		"on_matching_chain": s.deps.Wallet.OnMatchingChain(),
	})
}

// disconnectSession 断开钱包会话
func (s *Server) disconnectSession(c *gin.Context) {
	s.deps.Wallet.Disconnect()
	c.JSON(http.StatusOK, gin.H{
		"message": "会话已断开",
	})
}

// getIdentity 解析当前钱包的链上身份
func (s *Server) getIdentity(c *gin.Context) {
	session := s.requireSession(c)
	if session == nil {
		return
	}

	identity, err := s.deps.Resolver.Resolve(c.Request.Context(), session)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identity": identity,
	})
}

// getScreen 推导当前会话应展示的界面状态
// view=admin时走管理员视图映射，非管理员落在unauthorized终态
func (s *Server) getScreen(c *gin.Context) {
	session, ok := s.deps.Wallet.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"screen": viewstate.ScreenConnecting,
		})
		return
	}

	identity, err := s.deps.Resolver.Resolve(c.Request.Context(), session)
	if err != nil {
		s.writeError(c, err)
		return
	}

	screen := viewstate.ScreenForIdentity(identity)
	if c.Query("view") == "admin" {
		screen = viewstate.ScreenForAdminView(identity)
	}

	c.JSON(http.StatusOK, gin.H{
		"screen":   screen,
		"identity": identity,
	})
}

// getRole 查询任意钱包的链上角色
func (s *Server) getRole(c *gin.Context) {
	walletAddr := c.Param("wallet")

	role, err := s.deps.Companies.RoleOf(c.Request.Context(), walletAddr)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":                walletAddr,
		"role":                  uint8(role),
		"role_name":             role.String(),
		"permitted_event_types": role.PermittedEventTypes(),
	})
}

// registerCompany 提交公司注册
func (s *Server) registerCompany(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
		return
	}

	session := s.requireSession(c)
	if session == nil {
		return
	}

	request, err := s.deps.Companies.Register(c.Request.Context(), session, req.Name, req.Description)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "注册已上链，等待管理员审批",
		"request": request,
	})
}

// verifyCompany 管理员审批公司
func (s *Server) verifyCompany(c *gin.Context) {
	session := s.requireSession(c)
	if session == nil {
		return
	}

	txHash, err := s.deps.Companies.Verify(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "公司已审批",
		"tx_hash": txHash,
	})
}

// inviteUser 管理员邀请参与方并授予角色
func (s *Server) inviteUser(c *gin.Context) {
	var req struct {
		Wallet string `json:"wallet" binding:"required"`
		Role   uint8  `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
		return
	}

	session := s.requireSession(c)
	if session == nil {
		return
	}

	invite, err := s.deps.Companies.Invite(c.Request.Context(), session, req.Wallet, models.Role(req.Role))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "邀请已上链",
		"invite":  invite,
	})
}

// getInvites 列出本地邀请记录
func (s *Server) getInvites(c *gin.Context) {
	invites, err := s.deps.Companies.Invites(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invites": invites,
		"total":   len(invites),
	})
}

// getRequests 列出待审批的注册请求
func (s *Server) getRequests(c *gin.Context) {
	requests, err := s.deps.Companies.PendingRequests(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"total":    len(requests),
	})
}

// createProduct 创建产品
func (s *Server) createProduct(c *gin.Context) {
	var req struct {
		Name           string `json:"name" binding:"required"`
		Description    string `json:"description"`
		BatchNumber    string `json:"batch_number" binding:"required"`
		ProductionDate string `json:"production_date" binding:"required"` // YYYY-MM-DD
		SupplyChainID  string `json:"supply_chain_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
		return
	}

	productionDate, err := time.Parse("2006-01-02", req.ProductionDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_FAILED",
			"message": "生产日期格式应为YYYY-MM-DD",
		})
		return
	}

	session := s.requireSession(c)
	if session == nil {
		return
	}

	input := &models.CreateProductInput{
		Name:           req.Name,
		Description:    req.Description,
		BatchNumber:    req.BatchNumber,
		ProductionDate: productionDate,
		SupplyChainID:  req.SupplyChainID,
	}

	result, err := s.deps.Products.CreateProduct(c.Request.Context(), session, input)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "产品已创建",
		"result":  result,
	})
}

// getProduct 按内容哈希查询产品
func (s *Server) getProduct(c *gin.Context) {
	record, err := s.deps.Products.GetProductByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !record.Exists {
		s.writeError(c, product.NotFoundError(c.Param("hash")))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product": record,
		"qr_link": s.deps.Products.QRLink(record.ContentHash),
	})
}

// getHistory 查询产品生命周期历史
func (s *Server) getHistory(c *gin.Context) {
	history, err := s.deps.Products.GetHistory(c.Request.Context(), c.Param("hash"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"total":   len(history),
	})
}

// recordEvent 记录产品生命周期事件
func (s *Server) recordEvent(c *gin.Context) {
	var req struct {
		EventType string `json:"event_type" binding:"required"`
		Location  string `json:"location" binding:"required"`
		Notes     string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
		return
	}

	session := s.requireSession(c)
	if session == nil {
		return
	}

	txHash, err := s.deps.Products.RecordEvent(c.Request.Context(), session, c.Param("hash"), req.EventType, req.Location, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "事件已记录",
		"tx_hash": txHash,
	})
}

// getWatcherStatus 获取事件监听游标状态
func (s *Server) getWatcherStatus(c *gin.Context) {
	if s.deps.Cursor == nil {
		c.JSON(http.StatusOK, gin.H{
			"enabled": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
		"cursor":  s.deps.Cursor.Info(),
	})
}

// getNodes 获取链节点状态
func (s *Server) getNodes(c *gin.Context) {
	if s.deps.Config == nil || s.deps.Config.Chain == nil || len(s.deps.Config.Chain.Nodes) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"nodes":   []gin.H{},
			"total":   0,
			"message": "未配置任何节点",
		})
		return
	}

	var stats map[string]interface{}
	if s.deps.Pool != nil {
		stats = s.deps.Pool.GetStats()
	}

	var nodes []gin.H
	for _, node := range s.deps.Config.Chain.Nodes {
		entry := gin.H{
			"name":     node.Name,
			"type":     node.Type,
			"url":      node.URL,
			"priority": node.Priority,
		}
		if stats != nil {
			if nodeStats, ok := stats[node.Name]; ok {
				entry["pool"] = nodeStats
			}
		}
		nodes = append(nodes, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// writeError 记录错误统计后输出响应
func (s *Server) writeError(c *gin.Context, err error) {
	s.errHandler.HandleError(c.Request.Context(), err)
	writeError(c, err)
}

// getErrorStats 获取错误统计
func (s *Server) getErrorStats(c *gin.Context) {
	stats := s.errHandler.GetStats()

	body := gin.H{
		"total":          stats.TotalCount(),
		"last_minute":    stats.GetErrorRate(time.Minute),
		"reverted":       stats.CountByCode("TX_REVERTED"),
		"user_rejected":  stats.CountByCode("USER_REJECTED"),
		"network_errors": stats.CountByCode("NETWORK_ERROR"),
		"stale_sessions": stats.CountByCode("SESSION_STALE"),
	}
	if last, at := stats.LastError(); last != nil {
		body["last_error"] = gin.H{
			"code": last.Code,
			"at":   at.Unix(),
		}
	}

	c.JSON(http.StatusOK, body)
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	component := c.Query("component")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.Page(LogFilter{Level: level, Component: component}, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.Clear()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}
