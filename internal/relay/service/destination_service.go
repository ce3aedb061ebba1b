package service

import (
	"context"
	"fmt"
	"time"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/repository"
)

// DestinationServiceImpl 转发目标管理实现
type DestinationServiceImpl struct {
	destinationRepo repository.DestinationRepository
	nowFunc         func() time.Time
}

// NewDestinationService 创建转发目标服务
func NewDestinationService(destinationRepo repository.DestinationRepository, nowFunc func() time.Time) DestinationService {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &DestinationServiceImpl{
		destinationRepo: destinationRepo,
		nowFunc:         nowFunc,
	}
}

// AddDestination 新增或更新目标群组，默认启用
func (s *DestinationServiceImpl) AddDestination(ctx context.Context, name string, chatID int64) error {
	// Telegram 超级群组 ID 以 -100 开头
	if chatID >= 0 {
		return fmt.Errorf("invalid group chat id: %d (must be negative)", chatID)
	}

	now := s.nowFunc()
	destination := &models.Destination{
		Name:      name,
		ChatID:    chatID,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.destinationRepo.Upsert(ctx, destination); err != nil {
		return fmt.Errorf("failed to save destination %d: %w", chatID, err)
	}

	logger.L().Infof("Destination %d (%s) saved", chatID, name)
	return nil
}

// RemoveDestination 删除目标群组
func (s *DestinationServiceImpl) RemoveDestination(ctx context.Context, chatID int64) error {
	if err := s.destinationRepo.Remove(ctx, chatID); err != nil {
		return err
	}
	logger.L().Infof("Destination %d removed", chatID)
	return nil
}

// ListDestinations 列出所有目标群组
func (s *DestinationServiceImpl) ListDestinations(ctx context.Context) ([]*models.Destination, error) {
	return s.destinationRepo.List(ctx)
}

// SetEnabled 启用/停用目标群组
func (s *DestinationServiceImpl) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	if err := s.destinationRepo.SetEnabled(ctx, chatID, enabled); err != nil {
		return err
	}
	logger.L().Infof("Destination %d enabled=%v", chatID, enabled)
	return nil
}
