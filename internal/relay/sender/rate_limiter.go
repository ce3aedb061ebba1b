package sender

import (
	"context"
	"time"
)

// RateLimiter Token Bucket 速率限制器
// 控制群发速率，避免触发 Telegram API 的全局限流
type RateLimiter struct {
	tokens   chan struct{}
	stopCh   chan struct{}
	interval time.Duration
}

// NewRateLimiter 创建速率限制器
// ratePerSecond 为每秒允许的发送次数
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	limiter := &RateLimiter{
		tokens:   make(chan struct{}, ratePerSecond),
		stopCh:   make(chan struct{}),
		interval: time.Second / time.Duration(ratePerSecond),
	}

	for i := 0; i < ratePerSecond; i++ {
		limiter.tokens <- struct{}{}
	}

	go limiter.refill()

	return limiter
}

// Wait 阻塞直到拿到令牌或上下文取消
func (r *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.tokens:
		return nil
	}
}

func (r *RateLimiter) refill() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			select {
			case r.tokens <- struct{}{}:
			default:
				// 桶已满
			}
		}
	}
}

// Close 停止令牌补充
func (r *RateLimiter) Close() {
	close(r.stopCh)
}
