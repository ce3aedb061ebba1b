package service

import (
	"context"
	"fmt"
	"sync"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/repository"
)

// DedupStoreImpl 当日去重存储实现
// 互斥锁保证跨天轮换与写入不会交错：轮换期间的 MarkSeen 要么落在旧天（随后被删），要么落在新天
type DedupStoreImpl struct {
	recordRepo repository.DailyRecordRepository

	mu         sync.Mutex
	currentDay string
}

// NewDedupStore 创建去重存储
func NewDedupStore(recordRepo repository.DailyRecordRepository) DedupStore {
	return &DedupStoreImpl{
		recordRepo: recordRepo,
	}
}

// Rotate 切换当前天
func (s *DedupStoreImpl) Rotate(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if day == s.currentDay {
		return nil
	}

	if err := s.recordRepo.DeleteOthers(ctx, day); err != nil {
		return fmt.Errorf("failed to rotate dedup store to %s: %w", day, err)
	}

	if s.currentDay != "" {
		logger.L().Infof("Dedup store rotated: %s -> %s", s.currentDay, day)
	}
	s.currentDay = day
	return nil
}

// HasSeen 判断消息 ID 当日是否已转发
func (s *DedupStoreImpl) HasSeen(ctx context.Context, day, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, err := s.recordRepo.IsSeen(ctx, day, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to check seen state: %w", err)
	}
	return seen, nil
}

// MarkSeen 记录消息 ID 已转发
func (s *DedupStoreImpl) MarkSeen(ctx context.Context, day, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordRepo.AddSeen(ctx, day, messageID); err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}

// RecordSent 追加一条投递摘要
func (s *DedupStoreImpl) RecordSent(ctx context.Context, day string, entry models.SentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordRepo.AppendSent(ctx, day, entry); err != nil {
		return fmt.Errorf("failed to record sent entry: %w", err)
	}
	return nil
}

// Clear 清空记录
func (s *DedupStoreImpl) Clear(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if day == "" {
		if err := s.recordRepo.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear dedup store: %w", err)
		}
		s.currentDay = ""
		logger.L().Info("Dedup store cleared (all days)")
		return nil
	}

	if err := s.recordRepo.DeleteDay(ctx, day); err != nil {
		return fmt.Errorf("failed to clear day %s: %w", day, err)
	}
	logger.L().Infof("Dedup store cleared for day %s", day)
	return nil
}
