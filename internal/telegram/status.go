package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// buildPingMessage 构建 /ping 命令的响应文本
func (b *Bot) buildPingMessage(ctx context.Context) string {
	lines := []string{"🏓 Pong!"}

	if !b.startTime.IsZero() {
		uptime := time.Since(b.startTime)
		lines = append(lines, fmt.Sprintf("⏱ 运行时间: %s", formatDuration(uptime)))
	}

	if b.workerPool != nil {
		stats := b.workerPool.Stats()
		lines = append(lines, fmt.Sprintf("🛠 工作池: %d 个协程，队列 %d/%d", stats.Workers, stats.QueueLength, stats.QueueCapacity))
	}

	if b.mongo != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := b.mongo.Ping(dbCtx); err != nil {
			lines = append(lines, fmt.Sprintf("🗄 数据库: ⚠️ %v", err))
		} else {
			lines = append(lines, "🗄 数据库: ✅ 正常")
		}
	}

	if b.provider != nil {
		providerCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if err := b.provider.Health(providerCtx); err != nil {
			lines = append(lines, fmt.Sprintf("📡 取件平台: ⚠️ %v", err))
		} else {
			lines = append(lines, "📡 取件平台: ✅ 正常")
		}
	}

	return strings.Join(lines, "\n")
}
