package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"supplytrace/internal/cache"
	"supplytrace/internal/company"
	"supplytrace/internal/config"
	"supplytrace/internal/connection"
	"supplytrace/internal/contract"
	"supplytrace/internal/events"
	"supplytrace/internal/logging"
	"supplytrace/internal/output"
	"supplytrace/internal/product"
	"supplytrace/internal/shutdown"
	"supplytrace/internal/validation"
	"supplytrace/internal/wallet"
	"supplytrace/pkg/models"
)

var (
	configFile string
	verbose    bool
	dryRun     bool
	account    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "supplytrace",
		Short: "供应链溯源客户端",
		Long:  `供应链溯源dapp的链上协调工具，覆盖公司注册审批、产品创建与生命周期事件记录`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "试运行模式（本地模拟合约，不触链）")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "签名账户地址（默认取keystore第一个）")

	rootCmd.AddCommand(
		newResolveCmd(),
		newRegisterCmd(),
		newVerifyCmd(),
		newInviteCmd(),
		newRoleCmd(),
		newRequestsCmd(),
		newInvitesCmd(),
		newCreateProductCmd(),
		newProductCmd(),
		newHistoryCmd(),
		newRecordEventCmd(),
		newWatchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// appEnv 命令运行环境
type appEnv struct {
	cfg       *config.Config
	logger    *logrus.Logger
	manager   *wallet.Manager
	session   *models.WalletSession
	client    contract.Client
	store     cache.Store
	pool      *connection.ConnectionPool
	resolver  *company.Resolver
	companies *company.Service
	products  *product.Coordinator

	closers []func()
}

// Close 逆序释放资源
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newLogger(level string) *logrus.Logger {
	if verbose {
		level = "debug"
	}
	logger, err := logging.NewLogrusLogger(&logging.LogConfig{
		Level:  level,
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		logger = logrus.New()
	}
	return logger
}

// buildEnv 装配命令运行环境
// 试运行模式下合约与请求缓存全部落在内存里
func buildEnv(ctx context.Context) (*appEnv, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger := newLogger("info")
	env := &appEnv{cfg: cfg, logger: logger}

	if dryRun {
		if err := buildDryRunEnv(ctx, env); err != nil {
			env.Close()
			return nil, err
		}
		return env, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置不完整: %w", err)
	}

	pool := connection.NewConnectionPool(cfg.Chain.Nodes, cfg.Chain.ChainID, logger)
	if err := pool.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化节点连接池失败: %w", err)
	}
	env.pool = pool
	env.closers = append(env.closers, func() { pool.Close() })

	pollEvery, err := time.ParseDuration(cfg.Wallet.ChainPollEvery)
	if err != nil {
		pollEvery = 5 * time.Second
	}

	defaultAccount := cfg.Wallet.DefaultAccount
	if account != "" {
		defaultAccount = account
	}

	provider := wallet.NewKeystoreProvider(cfg.Wallet.KeystoreDir, defaultAccount, pool, pollEvery, logger)
	manager := wallet.NewManager(provider, cfg.Chain.ChainID, logger)
	env.manager = manager
	env.closers = append(env.closers, func() { manager.Close() })

	session, err := manager.Connect(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.session = session

	chainID, ok := new(big.Int).SetString(cfg.Chain.ChainID, 10)
	if !ok {
		env.Close()
		return nil, fmt.Errorf("非法的链ID: %s", cfg.Chain.ChainID)
	}

	client, err := contract.NewBoundClient(pool, cfg.Chain.ContractAddress, provider.Keystore(), session.Address, chainID, logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.client = client
	env.closers = append(env.closers, func() { client.Close() })

	store, err := cache.NewBoltStore(cfg.Cache.Path)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.store = store
	env.closers = append(env.closers, func() { store.Close() })

	wireDomain(env, manager)
	return env, nil
}

// buildDryRunEnv 在内存里装配模拟环境
func buildDryRunEnv(ctx context.Context, env *appEnv) error {
	from := account
	if from == "" {
		from = "0x0000000000000000000000000000000000000001"
	}

	sim := contract.NewSim(from)
	sim.SetFrom(from)
	env.client = sim

	env.store = cache.NewMemoryStore()

	// 试运行不校验配置，chain段可能缺失
	provider := &staticProvider{account: from, chainID: "1337"}
	if env.cfg.Chain != nil && env.cfg.Chain.ChainID != "" {
		provider.chainID = env.cfg.Chain.ChainID
	}

	manager := wallet.NewManager(provider, provider.chainID, env.logger)
	env.manager = manager
	env.closers = append(env.closers, func() { manager.Close() })

	session, err := manager.Connect(ctx)
	if err != nil {
		return err
	}
	env.session = session

	wireDomain(env, manager)
	env.logger.Warn("试运行模式：所有交易只落在本地模拟合约")
	return nil
}

// wireDomain 装配领域服务；会话管理器同时充当过期守卫
func wireDomain(env *appEnv, guard company.SessionGuard) {
	validator := validation.NewValidator(env.logger)
	env.resolver = company.NewResolver(env.client, env.store, env.logger)
	env.companies = company.NewService(env.client, env.resolver, env.store, validator, guard, env.logger)

	origin := "http://localhost:8080"
	if env.cfg.App != nil && env.cfg.App.Origin != "" {
		origin = env.cfg.App.Origin
	}
	env.products = product.NewCoordinator(env.client, env.resolver, validator, guard, origin, env.logger)
}

// staticProvider 固定账户的钱包提供者（试运行用）
type staticProvider struct {
	account string
	chainID string
}

func (p *staticProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	return []string{p.account}, nil
}

func (p *staticProvider) ChainID(ctx context.Context) (string, error) {
	return p.chainID, nil
}

func (p *staticProvider) SubscribeAccountsChanged(fn func([]string)) wallet.Subscription {
	return noopSubscription{}
}

func (p *staticProvider) SubscribeChainChanged(fn func(string)) wallet.Subscription {
	return noopSubscription{}
}

func (p *staticProvider) Close() error { return nil }

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

// printJSON 缩进输出结果
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "解析当前钱包的链上身份",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			identity, err := env.resolver.Resolve(ctx, env.session)
			if err != nil {
				return err
			}
			return printJSON(identity)
		},
	}
}

func newRegisterCmd() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "register-company",
		Short: "提交公司注册并等待上链",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			request, err := env.companies.Register(ctx, env.session, name, description)
			if err != nil {
				return err
			}

			env.logger.Info("注册已上链，等待管理员审批")
			return printJSON(request)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "公司名称")
	cmd.Flags().StringVar(&description, "description", "", "公司描述")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-company <company-id>",
		Short: "审批公司（仅管理员）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			txHash, err := env.companies.Verify(ctx, env.session, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("公司 %s 已审批，交易: %s\n", args[0], txHash)
			return nil
		},
	}
}

func newInviteCmd() *cobra.Command {
	var walletAddr string
	var role uint8

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "邀请参与方并授予角色（仅管理员）",
		Long:  `角色取值：1=Supplier 2=Shipper 3=Retailer 4=DeliveryHub`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			invite, err := env.companies.Invite(ctx, env.session, walletAddr, models.Role(role))
			if err != nil {
				return err
			}
			return printJSON(invite)
		},
	}

	cmd.Flags().StringVar(&walletAddr, "wallet", "", "被邀请的钱包地址")
	cmd.Flags().Uint8Var(&role, "role", 0, "授予的角色")
	cmd.MarkFlagRequired("wallet")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <wallet>",
		Short: "查询钱包的链上角色",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			role, err := env.companies.RoleOf(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s: %s\n", args[0], role)
			if types := role.PermittedEventTypes(); len(types) > 0 {
				fmt.Println("允许记录的事件类型:")
				for _, t := range types {
					fmt.Printf("  - %s\n", t)
				}
			}
			return nil
		},
	}
}

func newRequestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "列出待审批的注册请求",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			requests, err := env.companies.PendingRequests(ctx)
			if err != nil {
				return err
			}
			return printJSON(requests)
		},
	}
}

func newInvitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invites",
		Short: "列出本地邀请记录",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			invites, err := env.companies.Invites(ctx)
			if err != nil {
				return err
			}
			return printJSON(invites)
		},
	}
}

func newCreateProductCmd() *cobra.Command {
	var name, description, batchNumber, productionDate, supplyChainID string

	cmd := &cobra.Command{
		Use:   "create-product",
		Short: "创建产品并生成内容哈希",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := time.Parse("2006-01-02", productionDate)
			if err != nil {
				return fmt.Errorf("生产日期格式应为YYYY-MM-DD: %w", err)
			}

			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			result, err := env.products.CreateProduct(ctx, env.session, &models.CreateProductInput{
				Name:           name,
				Description:    description,
				BatchNumber:    batchNumber,
				ProductionDate: date,
				SupplyChainID:  supplyChainID,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "产品名称")
	cmd.Flags().StringVar(&description, "description", "", "产品描述")
	cmd.Flags().StringVar(&batchNumber, "batch", "", "批次号（BATCH-####）")
	cmd.Flags().StringVar(&productionDate, "date", "", "生产日期（YYYY-MM-DD）")
	cmd.Flags().StringVar(&supplyChainID, "supply-chain", "", "供应链ID")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("batch")
	cmd.MarkFlagRequired("date")
	cmd.MarkFlagRequired("supply-chain")
	return cmd
}

func newProductCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "product <content-hash>",
		Short: "按内容哈希查询产品",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			record, err := env.products.GetProductByHash(ctx, args[0])
			if err != nil {
				return err
			}
			if !record.Exists {
				return product.NotFoundError(args[0])
			}

			if err := printJSON(record); err != nil {
				return err
			}
			fmt.Printf("QR链接: %s\n", env.products.QRLink(record.ContentHash))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <content-hash>",
		Short: "查询产品生命周期历史",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			history, err := env.products.GetHistory(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(history)
		},
	}
}

func newRecordEventCmd() *cobra.Command {
	var eventType, location, notes string

	cmd := &cobra.Command{
		Use:   "record-event <content-hash>",
		Short: "记录产品生命周期事件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := buildEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			txHash, err := env.products.RecordEvent(ctx, env.session, args[0], eventType, location, notes)
			if err != nil {
				return err
			}

			fmt.Printf("事件已记录，交易: %s\n", txHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "事件类型")
	cmd.Flags().StringVar(&location, "location", "", "位置")
	cmd.Flags().StringVar(&notes, "notes", "", "备注")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("location")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "监听合约事件并输出到文件或Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return fmt.Errorf("试运行模式不支持事件监听")
			}

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("配置不完整: %w", err)
			}

			logger := newLogger("info")

			pool := connection.NewConnectionPool(cfg.Chain.Nodes, cfg.Chain.ChainID, logger)
			if err := pool.Initialize(); err != nil {
				return fmt.Errorf("初始化节点连接池失败: %w", err)
			}

			// 链ID校验提前到监听启动前，避免游标被错误链污染
			if err := pool.VerifyChainID(cmd.Context()); err != nil {
				pool.Close()
				return err
			}

			sink, err := output.NewSink(cfg.Output, logger)
			if err != nil {
				pool.Close()
				return fmt.Errorf("创建事件输出失败: %w", err)
			}
			asyncSink := output.NewAsyncSink(sink, 1000, logger)

			cursorPath := "./data/watcher.db"
			cursor, err := events.NewCursor(cursorPath, logger)
			if err != nil {
				asyncSink.Close()
				pool.Close()
				return fmt.Errorf("打开监听游标失败: %w", err)
			}

			wrapper, err := pool.NewConnectionWrapper()
			if err != nil {
				cursor.Close()
				asyncSink.Close()
				pool.Close()
				return err
			}

			watcher, err := events.NewWatcher(wrapper.Client(), asyncSink, cursor, cfg.Watcher, cfg.Chain.ContractAddress, logger)
			if err != nil {
				wrapper.Close()
				cursor.Close()
				asyncSink.Close()
				pool.Close()
				return err
			}

			watchCtx, watchCancel := context.WithCancel(context.Background())

			gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
			gs.RegisterShutdownFunc("stop_watcher", func(ctx context.Context) error {
				watchCancel()
				return nil
			}, shutdown.OrderStopWatcher)
			gs.RegisterShutdownFunc("flush_sink", func(ctx context.Context) error {
				return asyncSink.Close()
			}, shutdown.OrderFlushSink)
			gs.RegisterShutdownFunc("close_cursor", func(ctx context.Context) error {
				return cursor.Close()
			}, shutdown.OrderCloseCache)
			gs.RegisterShutdownFunc("close_connections", func(ctx context.Context) error {
				wrapper.Close()
				return pool.Close()
			}, shutdown.OrderCloseConnections)
			gs.Start()

			runErr := watcher.Run(watchCtx)
			gs.Close()
			gs.Wait()

			if runErr != nil && runErr != context.Canceled {
				return runErr
			}
			return nil
		},
	}
}
