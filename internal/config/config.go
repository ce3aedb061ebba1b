package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	TelegramToken string  // Telegram Bot API Token
	BotOwnerIDs   []int64 // Bot管理员ID列表
	MongoURI      string  // MongoDB连接URI
	MongoDBName   string  // MongoDB数据库名称

	Provider ProviderConfig
	Relay    RelayConfig
	Ranges   RangeConfig
}

// ProviderConfig 号码平台 API 配置
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // fetch 请求超时
}

// RelayConfig 轮询转发配置
type RelayConfig struct {
	PollInterval     time.Duration // 轮询间隔
	TokenTTL         time.Duration // 登录 token 有效期
	TokenRefreshSkew time.Duration // 提前刷新窗口
	FetchLimit       int           // 每轮最多处理消息数（0 = 不限制）
	FetchEnabled     bool          // 全局开关默认值，数据库有开关文档时以文档为准
	SendRatePerSec   int           // 每秒发送条数上限
}

// RangeConfig 号段配额配置
type RangeConfig struct {
	ChunkSize    int           // 单次请求的最小单位
	MaxTotal     int           // 每个号段的请求上限
	SyncInterval time.Duration // 定时同步间隔
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "otp_bot"
	}

	cfg := &Config{
		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDBName:   mongoDBName,
	}

	// 解析BOT_OWNER_IDS
	if ownerIDsStr := os.Getenv("BOT_OWNER_IDS"); ownerIDsStr != "" {
		var err error
		cfg.BotOwnerIDs, err = parseOwnerIDs(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	providerCfg, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}
	cfg.Provider = providerCfg

	relayCfg, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}
	cfg.Relay = relayCfg

	rangeCfg, err := loadRangeConfig()
	if err != nil {
		return nil, err
	}
	cfg.Ranges = rangeCfg

	return cfg, nil
}

func loadProviderConfig() (ProviderConfig, error) {
	cfg := ProviderConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL")), "/"),
		APIKey:  strings.TrimSpace(os.Getenv("PROVIDER_API_KEY")),
	}

	seconds, err := intEnv("FETCH_TIMEOUT_SECONDS", 90, 15, 300)
	if err != nil {
		return ProviderConfig{}, err
	}
	cfg.Timeout = time.Duration(seconds) * time.Second

	return cfg, nil
}

func loadRelayConfig() (RelayConfig, error) {
	var cfg RelayConfig

	pollSeconds, err := intEnv("POLL_INTERVAL_SECONDS", 30, 5, 300)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	ttlSeconds, err := intEnv("TOKEN_TTL_SECONDS", 2*60*60, 60, 24*60*60)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.TokenTTL = time.Duration(ttlSeconds) * time.Second

	skewSeconds, err := intEnv("TOKEN_REFRESH_SKEW_SECONDS", 5*60, 0, 60*60)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.TokenRefreshSkew = time.Duration(skewSeconds) * time.Second

	cfg.FetchLimit, err = intEnv("FETCH_LIMIT", 30, 0, 10000)
	if err != nil {
		return RelayConfig{}, err
	}

	cfg.SendRatePerSec, err = intEnv("SEND_RATE_PER_SECOND", 25, 1, 30)
	if err != nil {
		return RelayConfig{}, err
	}

	cfg.FetchEnabled = true
	if enabled := strings.TrimSpace(os.Getenv("FETCH_ENABLED")); enabled != "" {
		value, parseErr := strconv.ParseBool(enabled)
		if parseErr != nil {
			return RelayConfig{}, fmt.Errorf("failed to parse FETCH_ENABLED: %w", parseErr)
		}
		cfg.FetchEnabled = value
	}

	return cfg, nil
}

func loadRangeConfig() (RangeConfig, error) {
	var cfg RangeConfig
	var err error

	cfg.ChunkSize, err = intEnv("RANGE_CHUNK_SIZE", 50, 1, 1000)
	if err != nil {
		return RangeConfig{}, err
	}

	cfg.MaxTotal, err = intEnv("RANGE_MAX_TOTAL", 1000, cfg.ChunkSize, 100000)
	if err != nil {
		return RangeConfig{}, err
	}

	intervalMinutes, err := intEnv("RANGE_SYNC_INTERVAL_MINUTES", 30, 1, 24*60)
	if err != nil {
		return RangeConfig{}, err
	}
	cfg.SyncInterval = time.Duration(intervalMinutes) * time.Minute

	return cfg, nil
}

// parseOwnerIDs 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseOwnerIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// intEnv 解析整型环境变量，超出 [min, max] 时裁剪
func intEnv(key string, fallback, min, max int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	return value, nil
}
