package repository

import (
	"context"
	"time"

	"otp_bot/internal/relay/models"
)

// AccountRepository 账号数据访问接口
type AccountRepository interface {
	// Upsert 创建或更新账号（按 name 唯一）
	Upsert(ctx context.Context, account *models.Account) error

	// GetByName 根据账号名获取账号
	GetByName(ctx context.Context, name string) (*models.Account, error)

	// List 列出所有账号
	List(ctx context.Context) ([]*models.Account, error)

	// ListEnabled 列出启用中的账号
	ListEnabled(ctx context.Context) ([]*models.Account, error)

	// Remove 删除账号
	Remove(ctx context.Context, name string) error

	// SetEnabled 启用/停用账号
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// UpdateToken 持久化刷新后的 token 与过期时间
	UpdateToken(ctx context.Context, name, token string, expiresAt time.Time) error

	// ClearToken 清除持久化 token（强制下次重新登录）
	ClearToken(ctx context.Context, name string) error

	// UpdateCursor 推进账号取件游标
	UpdateCursor(ctx context.Context, name, cursor string) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// DestinationRepository 转发目标数据访问接口
type DestinationRepository interface {
	// Upsert 创建或更新目标群组（按 chat_id 唯一）
	Upsert(ctx context.Context, destination *models.Destination) error

	// List 列出所有目标
	List(ctx context.Context) ([]*models.Destination, error)

	// ListEnabled 列出启用中的目标
	ListEnabled(ctx context.Context) ([]*models.Destination, error)

	// Remove 删除目标
	Remove(ctx context.Context, chatID int64) error

	// SetEnabled 启用/停用目标
	SetEnabled(ctx context.Context, chatID int64, enabled bool) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// DailyRecordRepository 当日去重记录数据访问接口
type DailyRecordRepository interface {
	// IsSeen 判断消息 ID 当日是否已转发
	IsSeen(ctx context.Context, day, messageID string) (bool, error)

	// AddSeen 记录消息 ID 已转发（幂等）
	AddSeen(ctx context.Context, day, messageID string) error

	// AppendSent 追加一条投递摘要
	AppendSent(ctx context.Context, day string, entry models.SentEntry) error

	// GetDay 获取某天的完整记录，不存在时返回 nil
	GetDay(ctx context.Context, day string) (*models.DailyRecord, error)

	// ListDays 列出当前存在记录的所有天
	ListDays(ctx context.Context) ([]string, error)

	// DeleteOthers 删除 day 之外的所有记录（跨天轮换）
	DeleteOthers(ctx context.Context, day string) error

	// DeleteDay 删除某一天的记录
	DeleteDay(ctx context.Context, day string) error

	// DeleteAll 清空全部记录
	DeleteAll(ctx context.Context) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// SettingsRepository 运行时开关数据访问接口
type SettingsRepository interface {
	// Get 获取运行时开关，文档不存在时返回 nil
	Get(ctx context.Context) (*models.RuntimeSettings, error)

	// SetFetchEnabled 设置全局取件开关
	SetFetchEnabled(ctx context.Context, enabled bool) error
}

// RangeRepository 号段数据访问接口
type RangeRepository interface {
	// Get 根据标签获取号段，不存在时返回 nil
	Get(ctx context.Context, label string) (*models.NumberRange, error)

	// List 列出所有号段
	List(ctx context.Context) ([]*models.NumberRange, error)

	// IncrementRequested 累加已请求数量（首次请求时创建文档）
	IncrementRequested(ctx context.Context, label string, count int, requestedAt time.Time) error

	// UpdateSync 记录一次同步结果
	UpdateSync(ctx context.Context, label string, availableCount int, chunkCounts map[string]int, pendingChunks []int, syncedAt time.Time) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
