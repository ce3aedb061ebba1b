package telegram

import (
	"context"
	"fmt"
	"time"

	"otp_bot/internal/config"
	"otp_bot/internal/logger"
	"otp_bot/internal/mongo"
	"otp_bot/internal/relay/service"

	"github.com/go-telegram/bot"
)

// HealthChecker 上游平台可用性探测（由 provider.Client 实现）
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config Telegram Bot 配置
type Config struct {
	Token    string  // Bot Token
	OwnerIDs []int64 // Owner 用户 IDs
	Debug    bool    // 是否开启调试模式
}

// Services 管理命令依赖的业务服务
type Services struct {
	Accounts     service.AccountService
	Destinations service.DestinationService
	Ranges       service.RangeManager
	Stats        service.StatsService
}

// Bot Telegram Bot 服务
// 只承载管理命令，转发路径由 sender 直接调用底层实例
type Bot struct {
	bot        *bot.Bot
	mongo      *mongo.Client
	provider   HealthChecker
	services   Services
	ownerIDs   []int64
	startTime  time.Time
	workerPool *WorkerPool
}

// New 创建 Telegram Bot 实例
func New(cfg Config, mongoClient *mongo.Client, providerClient HealthChecker, services Services) (*Bot, error) {
	// 验证配置
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}

	// 创建 bot 实例
	opts := []bot.Option{}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	telegramBot := &Bot{
		bot:        b,
		mongo:      mongoClient,
		provider:   providerClient,
		services:   services,
		ownerIDs:   cfg.OwnerIDs,
		startTime:  time.Now(),
		workerPool: NewWorkerPool(defaultWorkers, defaultQueueSize),
	}

	// 注册 handlers
	telegramBot.registerHandlers()

	logger.L().Info("Telegram bot initialized successfully")
	return telegramBot, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, mongoClient *mongo.Client, providerClient HealthChecker, services Services) (*Bot, error) {
	telegramCfg := Config{
		Token:    cfg.TelegramToken,
		OwnerIDs: cfg.BotOwnerIDs,
	}
	return New(telegramCfg, mongoClient, providerClient, services)
}

// API 返回底层 bot 实例，供发送链路使用
func (b *Bot) API() *bot.Bot {
	return b.bot
}

// Start 启动 Bot（阻塞式，应在 goroutine 中运行）
func (b *Bot) Start(ctx context.Context) {
	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")
}

// Stop 停止 Bot，等待在途 handler 执行完毕
func (b *Bot) Stop(ctx context.Context) {
	logger.L().Info("Stopping Telegram bot...")
	b.workerPool.Shutdown()
}
