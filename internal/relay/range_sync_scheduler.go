package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/service"
)

// RangeSyncScheduler 号段定时同步调度器
// 同一时刻最多一轮 SyncAll 在执行，上一轮未结束时跳过本次 tick
type RangeSyncScheduler struct {
	ranges   service.RangeManager
	interval time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewRangeSyncScheduler 创建号段同步调度器
func NewRangeSyncScheduler(ranges service.RangeManager, interval time.Duration) *RangeSyncScheduler {
	return &RangeSyncScheduler{
		ranges:   ranges,
		interval: interval,
	}
}

// Start 启动调度器
func (s *RangeSyncScheduler) Start() {
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logger.L().Infof("Range sync scheduler started, interval %v", s.interval)
}

// Stop 停止调度器并等待在途同步结束
func (s *RangeSyncScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	logger.L().Info("Range sync scheduler stopped")
}

func (s *RangeSyncScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick 执行一轮同步，上一轮未结束时跳过
func (s *RangeSyncScheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		logger.L().Warn("Range sync still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if err := s.ranges.SyncAll(ctx); err != nil {
			logger.L().Errorf("Range sync tick failed: %v", err)
		}
	}()
}
