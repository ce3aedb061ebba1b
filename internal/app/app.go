package app

import (
	"context"
	"fmt"
	"time"

	"otp_bot/internal/config"
	"otp_bot/internal/logger"
	"otp_bot/internal/mongo"
	"otp_bot/internal/provider"
	"otp_bot/internal/relay"
	"otp_bot/internal/relay/repository"
	"otp_bot/internal/relay/sender"
	"otp_bot/internal/relay/service"
	"otp_bot/internal/telegram"
)

// Core 不依赖 Telegram 的服务集合
// 守护进程与管理 CLI 共用，CLI 不创建 Bot 实例
type Core struct {
	Config   *config.Config
	MongoDB  *mongo.Client
	Provider *provider.Client

	AccountRepo     repository.AccountRepository
	DestinationRepo repository.DestinationRepository
	RecordRepo      repository.DailyRecordRepository
	RangeRepo       repository.RangeRepository
	SettingsRepo    repository.SettingsRepository

	Tokens       service.TokenManager
	Store        service.DedupStore
	Ranges       service.RangeManager
	Accounts     service.AccountService
	Destinations service.DestinationService
	Stats        service.StatsService
}

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	*Core

	Bot            *telegram.Bot
	Sender         *sender.Sender
	Engine         *relay.Engine
	RangeScheduler *relay.RangeSyncScheduler
}

// NewCore 初始化基础服务（MongoDB、平台客户端、业务服务）
func NewCore(cfg *config.Config) (*Core, error) {
	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	logger.L().Info("MongoDB initialized successfully")

	providerClient, err := provider.NewClient(cfg.Provider)
	if err != nil {
		_ = mongoClient.Close(context.Background())
		return nil, fmt.Errorf("init provider client failed: %w", err)
	}

	db := mongoClient.Database()
	core := &Core{
		Config:          cfg,
		MongoDB:         mongoClient,
		Provider:        providerClient,
		AccountRepo:     repository.NewMongoAccountRepository(db),
		DestinationRepo: repository.NewMongoDestinationRepository(db),
		RecordRepo:      repository.NewMongoDailyRecordRepository(db),
		RangeRepo:       repository.NewMongoRangeRepository(db),
		SettingsRepo:    repository.NewMongoSettingsRepository(db),
	}

	core.Tokens = service.NewTokenManager(core.Provider, core.AccountRepo, cfg.Relay.TokenTTL, cfg.Relay.TokenRefreshSkew, nil)
	core.Store = service.NewDedupStore(core.RecordRepo)
	core.Ranges = service.NewRangeManager(core.Provider, core.Tokens, core.RangeRepo, core.AccountRepo, cfg.Ranges.ChunkSize, cfg.Ranges.MaxTotal, nil)
	core.Accounts = service.NewAccountService(core.AccountRepo, core.Tokens, core.Provider, nil)
	core.Destinations = service.NewDestinationService(core.DestinationRepo, nil)
	core.Stats = service.NewStatsService(core.RecordRepo, nil)

	if err := core.ensureIndexes(context.Background()); err != nil {
		_ = mongoClient.Close(context.Background())
		return nil, fmt.Errorf("ensure indexes failed: %w", err)
	}

	return core, nil
}

// ensureIndexes 确保所有集合的索引存在
func (c *Core) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := c.AccountRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("account indexes: %w", err)
	}
	if err := c.DestinationRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("destination indexes: %w", err)
	}
	if err := c.RecordRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("daily record indexes: %w", err)
	}
	if err := c.RangeRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("range indexes: %w", err)
	}
	return nil
}

// Close 关闭基础服务
func (c *Core) Close(ctx context.Context) error {
	if c.MongoDB != nil {
		if err := c.MongoDB.Close(ctx); err != nil {
			return fmt.Errorf("close MongoDB failed: %w", err)
		}
	}
	return nil
}

// New 初始化完整应用（基础服务 + Telegram Bot + 取件引擎 + 号段调度器）
func New(cfg *config.Config) (*App, error) {
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}

	core, err := NewCore(cfg)
	if err != nil {
		return nil, err
	}

	telegramBot, err := telegram.InitFromConfig(cfg, core.MongoDB, core.Provider, telegram.Services{
		Accounts:     core.Accounts,
		Destinations: core.Destinations,
		Ranges:       core.Ranges,
		Stats:        core.Stats,
	})
	if err != nil {
		_ = core.Close(context.Background())
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}

	application := &App{
		Core:   core,
		Bot:    telegramBot,
		Sender: sender.NewSender(telegramBot.API(), cfg.Relay.SendRatePerSec),
	}

	application.Engine = relay.NewEngine(
		core.Provider,
		core.Tokens,
		core.Store,
		application.Sender,
		core.AccountRepo,
		core.DestinationRepo,
		core.SettingsRepo,
		cfg.Relay.PollInterval,
		cfg.Relay.FetchLimit,
		cfg.Relay.FetchEnabled,
		nil,
	)
	application.RangeScheduler = relay.NewRangeSyncScheduler(core.Ranges, cfg.Ranges.SyncInterval)

	return application, nil
}

// Start 启动后台任务
// ctx 取消时 Telegram update 轮询随之退出
func (a *App) Start(ctx context.Context) {
	go a.Bot.Start(ctx)

	// 引擎始终启动，取件开关在每个 tick 读取，可通过 botctl 随时切换
	a.Engine.Start()
	a.RangeScheduler.Start()
}

// Close 优雅关闭所有服务
func (a *App) Close(ctx context.Context) error {
	if a.Engine != nil {
		a.Engine.Stop()
	}
	if a.RangeScheduler != nil {
		a.RangeScheduler.Stop()
	}
	if a.Sender != nil {
		a.Sender.Close()
	}
	if a.Bot != nil {
		a.Bot.Stop(ctx)
	}
	return a.Core.Close(ctx)
}
