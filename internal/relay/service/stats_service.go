package service

import (
	"context"
	"fmt"
	"time"

	"otp_bot/internal/relay/repository"
)

// StatsServiceImpl 转发统计实现，直接聚合当日记录
type StatsServiceImpl struct {
	recordRepo repository.DailyRecordRepository
	nowFunc    func() time.Time
}

// NewStatsService 创建统计服务
func NewStatsService(recordRepo repository.DailyRecordRepository, nowFunc func() time.Time) StatsService {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &StatsServiceImpl{
		recordRepo: recordRepo,
		nowFunc:    nowFunc,
	}
}

// DayStats 统计某一天的转发情况
func (s *StatsServiceImpl) DayStats(ctx context.Context, day string) (*DayStats, error) {
	if day == "" {
		day = s.nowFunc().UTC().Format("2006-01-02")
	}

	record, err := s.recordRepo.GetDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for %s: %w", day, err)
	}

	stats := &DayStats{
		Day:       day,
		ByService: make(map[string]int),
		ByAccount: make(map[string]int),
	}
	if record == nil {
		return stats, nil
	}

	numbers := make(map[string]struct{})
	for _, entry := range record.Sent {
		stats.MessagesSent++
		stats.Deliveries += len(entry.Destinations)
		stats.ByService[entry.ServiceName]++
		stats.ByAccount[entry.Account]++
		numbers[entry.Number] = struct{}{}

		if stats.FirstSentAt.IsZero() || entry.SentAt.Before(stats.FirstSentAt) {
			stats.FirstSentAt = entry.SentAt
		}
		if entry.SentAt.After(stats.LastSentAt) {
			stats.LastSentAt = entry.SentAt
		}
	}
	stats.UniqueNumbers = len(numbers)
	return stats, nil
}

// ListDays 列出当前存在记录的所有天
func (s *StatsServiceImpl) ListDays(ctx context.Context) ([]string, error) {
	return s.recordRepo.ListDays(ctx)
}
