package service

import (
	"context"
	"time"

	"otp_bot/internal/relay/models"
)

// ProviderAPI 上游平台接口（由 provider.Client 实现）
// 服务层只依赖本接口，便于测试时替换
type ProviderAPI interface {
	// Login 账号登录，返回 token 与上游给出的有效期提示（秒）
	Login(ctx context.Context, email, password string) (string, int, error)

	// FetchMessages 拉取游标之后的新消息，按接收时间升序
	FetchMessages(ctx context.Context, token, sinceCursor string, limit int) ([]models.Message, error)

	// FetchAvailableCount 查询号段内一个 chunk 的可用数量
	FetchAvailableCount(ctx context.Context, token, rangeLabel string, chunkSize, offset int) (int, error)

	// RequestNumbers 在号段内申请指定数量的号码
	RequestNumbers(ctx context.Context, token, rangeLabel string, count int) error

	// Balance 查询账号余额
	Balance(ctx context.Context, token string) (float64, error)
}

// TokenManager 账号 token 生命周期管理接口
type TokenManager interface {
	// GetValidToken 获取可用 token：优先内存缓存，其次持久化 token，最后重新登录
	GetValidToken(ctx context.Context, accountName string) (string, error)

	// Invalidate 作废账号 token（内存 + 持久化），下次获取时强制重新登录
	Invalidate(ctx context.Context, accountName string) error
}

// DedupStore 当日去重存储接口
type DedupStore interface {
	// Rotate 切换当前天，删除其他天的全部记录；同一天内重复调用为空操作
	Rotate(ctx context.Context, day string) error

	// HasSeen 判断消息 ID 当日是否已转发
	HasSeen(ctx context.Context, day, messageID string) (bool, error)

	// MarkSeen 记录消息 ID 已转发
	MarkSeen(ctx context.Context, day, messageID string) error

	// RecordSent 追加一条投递摘要
	RecordSent(ctx context.Context, day string, entry models.SentEntry) error

	// Clear 清空记录；day 为空时清空全部，否则只清指定天
	Clear(ctx context.Context, day string) error
}

// RangeManager 号段管理接口
type RangeManager interface {
	// AddRange 在号段内申请号码，校验配额后调用上游下单
	AddRange(ctx context.Context, label string, count int) (*models.NumberRange, error)

	// RemainingQuota 返回号段剩余可申请数量
	RemainingQuota(ctx context.Context, label string) (int, error)

	// Sync 按 chunk 同步号段的可用数量，部分失败时返回 *PartialSyncError
	Sync(ctx context.Context, label string) (*models.NumberRange, error)

	// SyncAll 对所有已登记号段各执行一次同步
	SyncAll(ctx context.Context) error

	// List 列出所有号段
	List(ctx context.Context) ([]*models.NumberRange, error)
}

// AccountService 账号管理接口
type AccountService interface {
	// AddAccount 新增或更新账号
	AddAccount(ctx context.Context, name, email, password string) error

	// RemoveAccount 删除账号
	RemoveAccount(ctx context.Context, name string) error

	// ListAccounts 列出所有账号
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	// SetEnabled 启用/停用账号
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// Balances 查询所有启用账号的余额
	Balances(ctx context.Context) (map[string]float64, error)
}

// DestinationService 转发目标管理接口
type DestinationService interface {
	// AddDestination 新增或更新目标群组
	AddDestination(ctx context.Context, name string, chatID int64) error

	// RemoveDestination 删除目标群组
	RemoveDestination(ctx context.Context, chatID int64) error

	// ListDestinations 列出所有目标群组
	ListDestinations(ctx context.Context) ([]*models.Destination, error)

	// SetEnabled 启用/停用目标群组
	SetEnabled(ctx context.Context, chatID int64, enabled bool) error
}

// DayStats 某一天的转发统计
type DayStats struct {
	Day           string         `json:"day"`
	MessagesSent  int            `json:"messages_sent"`
	Deliveries    int            `json:"deliveries"`
	UniqueNumbers int            `json:"unique_numbers"`
	ByService     map[string]int `json:"by_service"`
	ByAccount     map[string]int `json:"by_account"`
	FirstSentAt   time.Time      `json:"first_sent_at,omitempty"`
	LastSentAt    time.Time      `json:"last_sent_at,omitempty"`
}

// StatsService 转发统计接口
type StatsService interface {
	// DayStats 统计某一天的转发情况，day 为空时取当前天
	DayStats(ctx context.Context, day string) (*DayStats, error)

	// ListDays 列出当前存在记录的所有天
	ListDays(ctx context.Context) ([]string, error)
}
