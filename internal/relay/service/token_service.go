package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/repository"
)

// cachedToken 内存中的 token 条目
type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenManagerImpl token 生命周期管理实现
// 三级获取策略：内存缓存 -> 持久化 token -> 重新登录
type TokenManagerImpl struct {
	api         ProviderAPI
	accountRepo repository.AccountRepository
	ttl         time.Duration
	skew        time.Duration
	nowFunc     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewTokenManager 创建 token 管理器
// ttl 为 token 固定有效期，skew 为提前刷新量（剩余有效期不足 skew 时视为过期）
func NewTokenManager(api ProviderAPI, accountRepo repository.AccountRepository, ttl, skew time.Duration, nowFunc func() time.Time) TokenManager {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &TokenManagerImpl{
		api:         api,
		accountRepo: accountRepo,
		ttl:         ttl,
		skew:        skew,
		nowFunc:     nowFunc,
		cache:       make(map[string]cachedToken),
	}
}

// GetValidToken 获取可用 token
func (m *TokenManagerImpl) GetValidToken(ctx context.Context, accountName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()

	// 1. 内存缓存
	if cached, ok := m.cache[accountName]; ok {
		if now.Add(m.skew).Before(cached.expiresAt) {
			return cached.token, nil
		}
		delete(m.cache, accountName)
	}

	account, err := m.accountRepo.GetByName(ctx, accountName)
	if err != nil {
		return "", fmt.Errorf("failed to load account %s: %w", accountName, err)
	}

	// 2. 持久化 token（进程重启后复用上次登录结果）
	if account.HasValidToken(now, m.skew) {
		m.cache[accountName] = cachedToken{token: account.Token, expiresAt: account.TokenExpiresAt}
		return account.Token, nil
	}

	// 3. 重新登录。上游返回的有效期提示仅作日志参考，实际按固定 ttl 计算
	token, expiresInHint, err := m.api.Login(ctx, account.Email, account.Password)
	if err != nil {
		return "", fmt.Errorf("login failed for account %s: %w", accountName, err)
	}

	expiresAt := now.Add(m.ttl)
	m.cache[accountName] = cachedToken{token: token, expiresAt: expiresAt}

	if err := m.accountRepo.UpdateToken(ctx, accountName, token, expiresAt); err != nil {
		// 持久化失败不影响本次使用，仅丢失重启复用能力
		logger.L().Warnf("Failed to persist token for account %s: %v", accountName, err)
	}

	logger.L().Infof("Account %s logged in, token valid until %s (hint=%ds)",
		accountName, expiresAt.Format(time.RFC3339), expiresInHint)
	return token, nil
}

// Invalidate 作废账号 token
func (m *TokenManagerImpl) Invalidate(ctx context.Context, accountName string) error {
	m.mu.Lock()
	delete(m.cache, accountName)
	m.mu.Unlock()

	if err := m.accountRepo.ClearToken(ctx, accountName); err != nil {
		return fmt.Errorf("failed to clear token for account %s: %w", accountName, err)
	}

	logger.L().Infof("Token invalidated for account %s", accountName)
	return nil
}
