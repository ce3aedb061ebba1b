package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/service"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	// 普通命令 - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.handleStart))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypeExact,
		b.asyncHandler(b.handlePing))

	// 管理员命令（仅 Owner） - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleStats)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/balances", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleBalances)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ranges", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleRanges)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/groups", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleGroups)))

	logger.L().Debug("All handlers registered with async execution")
}

// asyncHandler 将 handler 包装为工作池任务
func (b *Bot) asyncHandler(handler bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		b.workerPool.Submit(HandlerTask{
			Ctx:         ctx,
			BotInstance: botInstance,
			Update:      update,
			Handler:     handler,
		})
	}
}

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 你好, %s!\n\n本 Bot 负责转发验证码消息。\n\n可用命令:\n/start - 开始\n/ping - 运行状态\n/stats [日期] - 当日转发统计（仅 Owner）\n/balances - 账号余额（仅 Owner）\n/ranges - 号段列表（仅 Owner）\n/groups - 转发群组（仅 Owner）",
		update.Message.From.FirstName,
	)

	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText)
}

// handlePing 处理 /ping 命令
func (b *Bot) handlePing(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, b.buildPingMessage(ctx))
}

// handleStats 处理 /stats 命令，可选参数为日期（2006-01-02）
func (b *Bot) handleStats(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	day := ""
	parts := strings.Fields(update.Message.Text)
	if len(parts) > 1 {
		day = parts[1]
	}

	stats, err := b.services.Stats.DayStats(ctx, day)
	if err != nil {
		logger.L().Errorf("Failed to load day stats: day=%q err=%v", day, err)
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "获取统计失败，请稍后再试")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, buildStatsMessage(stats))
}

// handleBalances 处理 /balances 命令
func (b *Bot) handleBalances(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	balances, err := b.services.Accounts.Balances(ctx)
	if err != nil {
		logger.L().Errorf("Failed to load balances: %v", err)
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "获取余额失败，请稍后再试")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, buildBalancesMessage(balances))
}

// handleRanges 处理 /ranges 命令
func (b *Bot) handleRanges(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	ranges, err := b.services.Ranges.List(ctx)
	if err != nil {
		logger.L().Errorf("Failed to list ranges: %v", err)
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "获取号段失败，请稍后再试")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, buildRangesMessage(ranges))
}

// handleGroups 处理 /groups 命令
func (b *Bot) handleGroups(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	destinations, err := b.services.Destinations.ListDestinations(ctx)
	if err != nil {
		logger.L().Errorf("Failed to list destinations: %v", err)
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "获取群组失败，请稍后再试")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, buildGroupsMessage(destinations))
}

// buildStatsMessage 构建 /stats 命令的响应文本
func buildStatsMessage(stats *service.DayStats) string {
	lines := []string{
		fmt.Sprintf("📊 %s 转发统计", stats.Day),
		fmt.Sprintf("消息数: %d", stats.MessagesSent),
		fmt.Sprintf("投递次数: %d", stats.Deliveries),
		fmt.Sprintf("去重号码数: %d", stats.UniqueNumbers),
	}

	if len(stats.ByService) > 0 {
		lines = append(lines, "", "按服务:")
		for _, name := range sortedKeys(stats.ByService) {
			lines = append(lines, fmt.Sprintf("  %s: %d", name, stats.ByService[name]))
		}
	}

	if len(stats.ByAccount) > 0 {
		lines = append(lines, "", "按账号:")
		for _, name := range sortedKeys(stats.ByAccount) {
			lines = append(lines, fmt.Sprintf("  %s: %d", name, stats.ByAccount[name]))
		}
	}

	return strings.Join(lines, "\n")
}

// buildBalancesMessage 构建 /balances 命令的响应文本
func buildBalancesMessage(balances map[string]float64) string {
	if len(balances) == 0 {
		return "暂无启用账号"
	}

	names := make([]string, 0, len(balances))
	for name := range balances {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{"💰 账号余额"}
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("  %s: %.2f", name, balances[name]))
	}
	return strings.Join(lines, "\n")
}

// buildRangesMessage 构建 /ranges 命令的响应文本
func buildRangesMessage(ranges []*models.NumberRange) string {
	if len(ranges) == 0 {
		return "暂无已登记号段"
	}

	lines := []string{"📱 号段列表"}
	for _, r := range ranges {
		line := fmt.Sprintf("  %s: 已申请 %d，可用 %d", r.Label, r.RequestedTotal, r.AvailableCount)
		if len(r.PendingChunks) > 0 {
			line += fmt.Sprintf("（%d 个分片待重试）", len(r.PendingChunks))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// buildGroupsMessage 构建 /groups 命令的响应文本
func buildGroupsMessage(destinations []*models.Destination) string {
	if len(destinations) == 0 {
		return "暂无转发群组"
	}

	lines := []string{"👥 转发群组"}
	for _, d := range destinations {
		state := "✅"
		if !d.Enabled {
			state = "⏸"
		}
		lines = append(lines, fmt.Sprintf("  %s %s (%d)", state, d.Name, d.ChatID))
	}
	return strings.Join(lines, "\n")
}

// sortedKeys 返回按字典序排序的 map 键
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
