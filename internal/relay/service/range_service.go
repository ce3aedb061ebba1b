package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"otp_bot/internal/logger"
	"otp_bot/internal/provider"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/repository"
)

// remainingQuota 号段剩余可申请数量
// 配额校验的唯一口径，AddRange 与 RemainingQuota 都走这里
func remainingQuota(maxTotal, requestedTotal int) int {
	remaining := maxTotal - requestedTotal
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RangeManagerImpl 号段管理实现
type RangeManagerImpl struct {
	api         ProviderAPI
	tokens      TokenManager
	rangeRepo   repository.RangeRepository
	accountRepo repository.AccountRepository
	chunkSize   int
	maxTotal    int
	nowFunc     func() time.Time
}

// NewRangeManager 创建号段管理器
// chunkSize 为申请与同步的最小粒度，maxTotal 为单个号段的申请上限
func NewRangeManager(api ProviderAPI, tokens TokenManager, rangeRepo repository.RangeRepository, accountRepo repository.AccountRepository, chunkSize, maxTotal int, nowFunc func() time.Time) RangeManager {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &RangeManagerImpl{
		api:         api,
		tokens:      tokens,
		rangeRepo:   rangeRepo,
		accountRepo: accountRepo,
		chunkSize:   chunkSize,
		maxTotal:    maxTotal,
		nowFunc:     nowFunc,
	}
}

// leaseToken 取一个启用账号的可用 token，号段操作不绑定特定账号
func (m *RangeManagerImpl) leaseToken(ctx context.Context) (string, string, error) {
	accounts, err := m.accountRepo.ListEnabled(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list enabled accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", "", fmt.Errorf("no enabled account available for range operations")
	}

	name := accounts[0].Name
	token, err := m.tokens.GetValidToken(ctx, name)
	if err != nil {
		return "", "", err
	}
	return token, name, nil
}

// AddRange 在号段内申请号码
func (m *RangeManagerImpl) AddRange(ctx context.Context, label string, count int) (*models.NumberRange, error) {
	if label == "" {
		return nil, fmt.Errorf("range label is required")
	}

	requestedTotal := 0
	if existing, err := m.rangeRepo.Get(ctx, label); err != nil {
		return nil, err
	} else if existing != nil {
		requestedTotal = existing.RequestedTotal
	}

	remaining := remainingQuota(m.maxTotal, requestedTotal)
	if count <= 0 || count%m.chunkSize != 0 {
		return nil, &QuotaError{
			Label:     label,
			Requested: count,
			Remaining: remaining,
			Reason:    fmt.Sprintf("count must be a positive multiple of %d", m.chunkSize),
		}
	}
	if count > remaining {
		return nil, &QuotaError{Label: label, Requested: count, Remaining: remaining}
	}

	token, accountName, err := m.leaseToken(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.api.RequestNumbers(ctx, token, label, count); err != nil {
		if provider.IsAuthError(err) {
			if invErr := m.tokens.Invalidate(ctx, accountName); invErr != nil {
				logger.L().Warnf("Failed to invalidate token for %s: %v", accountName, invErr)
			}
		}
		return nil, fmt.Errorf("failed to request numbers in range %s: %w", label, err)
	}

	if err := m.rangeRepo.IncrementRequested(ctx, label, count, m.nowFunc()); err != nil {
		return nil, err
	}

	logger.L().Infof("Range %s: requested %d numbers via account %s (total now %d/%d)",
		label, count, accountName, requestedTotal+count, m.maxTotal)
	return m.rangeRepo.Get(ctx, label)
}

// RemainingQuota 返回号段剩余可申请数量
func (m *RangeManagerImpl) RemainingQuota(ctx context.Context, label string) (int, error) {
	numberRange, err := m.rangeRepo.Get(ctx, label)
	if err != nil {
		return 0, err
	}
	requestedTotal := 0
	if numberRange != nil {
		requestedTotal = numberRange.RequestedTotal
	}
	return remainingQuota(m.maxTotal, requestedTotal), nil
}

// Sync 按 chunk 同步号段的可用数量
// 失败的 chunk 保留上次的计数并记入 pending_chunks，下一轮整段重试
func (m *RangeManagerImpl) Sync(ctx context.Context, label string) (*models.NumberRange, error) {
	numberRange, err := m.rangeRepo.Get(ctx, label)
	if err != nil {
		return nil, err
	}
	if numberRange == nil {
		return nil, fmt.Errorf("range not found: label=%s", label)
	}

	token, accountName, err := m.leaseToken(ctx)
	if err != nil {
		return nil, err
	}

	chunkCounts := make(map[string]int, len(numberRange.ChunkCounts))
	for offset, count := range numberRange.ChunkCounts {
		chunkCounts[offset] = count
	}

	var failedOffsets []int
	var lastErr error
	for _, offset := range numberRange.ChunkOffsets(m.chunkSize) {
		count, err := m.api.FetchAvailableCount(ctx, token, label, m.chunkSize, offset)
		if err != nil {
			if provider.IsAuthError(err) {
				// token 失效时后续 chunk 必然同样失败，直接作废并中止本轮
				if invErr := m.tokens.Invalidate(ctx, accountName); invErr != nil {
					logger.L().Warnf("Failed to invalidate token for %s: %v", accountName, invErr)
				}
				return nil, fmt.Errorf("range sync aborted for %s: %w", label, err)
			}
			failedOffsets = append(failedOffsets, offset)
			lastErr = err
			continue
		}
		// 每个 chunk 的可用数不可能超过 chunk 本身的大小，夹紧异常回复，
		// 保证 available_count 不会超出 requested_total
		if count > m.chunkSize {
			logger.L().Warnf("Range %s: chunk %d reported %d available, clamping to %d", label, offset, count, m.chunkSize)
			count = m.chunkSize
		}
		if count < 0 {
			count = 0
		}
		chunkCounts[strconv.Itoa(offset)] = count
	}

	availableCount := 0
	for _, count := range chunkCounts {
		availableCount += count
	}

	if err := m.rangeRepo.UpdateSync(ctx, label, availableCount, chunkCounts, failedOffsets, m.nowFunc()); err != nil {
		return nil, err
	}

	synced, err := m.rangeRepo.Get(ctx, label)
	if err != nil {
		return nil, err
	}

	if len(failedOffsets) > 0 {
		logger.L().Warnf("Range %s sync partial: %d chunk(s) failed, available=%d", label, len(failedOffsets), availableCount)
		return synced, &PartialSyncError{Label: label, FailedOffsets: failedOffsets, LastErr: lastErr}
	}

	logger.L().Debugf("Range %s synced: available=%d", label, availableCount)
	return synced, nil
}

// SyncAll 对所有已登记号段各执行一次同步
func (m *RangeManagerImpl) SyncAll(ctx context.Context) error {
	ranges, err := m.rangeRepo.List(ctx)
	if err != nil {
		return err
	}

	failures := 0
	for _, numberRange := range ranges {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.Sync(ctx, numberRange.Label); err != nil {
			failures++
			logger.L().Errorf("Range %s sync failed: %v", numberRange.Label, err)
		}
	}

	if failures > 0 {
		return fmt.Errorf("range sync completed with %d failure(s) out of %d range(s)", failures, len(ranges))
	}
	return nil
}

// List 列出所有号段
func (m *RangeManagerImpl) List(ctx context.Context) ([]*models.NumberRange, error) {
	return m.rangeRepo.List(ctx)
}
