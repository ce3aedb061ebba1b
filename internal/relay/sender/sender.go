package sender

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/models"
)

// TelegramAPI 发送消息所需的 Bot API 子集（*bot.Bot 实现）
type TelegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
}

// Result 一次群发的结果
type Result struct {
	DispatchID string          // 本次群发的任务 ID
	Delivered  []int64         // 投递成功的 chat_id
	Gone       []int64         // 群组不存在或 Bot 被移出，应停用
	Failed     map[int64]error // 其他失败（不含 Gone）
}

// Sender Telegram 群发器
type Sender struct {
	api        TelegramAPI
	limiter    *RateLimiter
	retryDelay time.Duration
}

// NewSender 创建群发器
func NewSender(api TelegramAPI, ratePerSecond int) *Sender {
	return &Sender{
		api:        api,
		limiter:    NewRateLimiter(ratePerSecond),
		retryDelay: 2 * time.Second,
	}
}

// Close 释放速率限制器
func (s *Sender) Close() {
	s.limiter.Close()
}

// Broadcast 把一条已渲染的消息并发投递到所有目标群组
// 单个群组失败不影响其他群组；copyValue 非空时附带一键复制按钮
func (s *Sender) Broadcast(ctx context.Context, destinations []*models.Destination, text, copyValue string) *Result {
	result := &Result{
		DispatchID: uuid.New().String(),
		Failed:     make(map[int64]error),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, destination := range destinations {
		wg.Add(1)
		go func(d *models.Destination) {
			defer wg.Done()

			err := s.sendToChat(ctx, d.ChatID, text, copyValue)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				result.Delivered = append(result.Delivered, d.ChatID)
			case isChatGone(err):
				result.Gone = append(result.Gone, d.ChatID)
				logger.L().Warnf("Destination %d unreachable, marking for disable: %v", d.ChatID, err)
			default:
				result.Failed[d.ChatID] = err
				logger.L().Errorf("Failed to deliver to %d: %v", d.ChatID, err)
			}
		}(destination)
	}

	wg.Wait()
	return result
}

// sendToChat 投递到单个群组（带重试）
func (s *Sender) sendToChat(ctx context.Context, chatID int64, text, copyValue string) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: botModels.ParseModeMarkdown,
		LinkPreviewOptions: &botModels.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	}
	if copyValue != "" {
		params.ReplyMarkup = &botModels.InlineKeyboardMarkup{
			InlineKeyboard: [][]botModels.InlineKeyboardButton{
				{{Text: copyValue, CopyText: botModels.CopyTextButton{Text: copyValue}}},
			},
		}
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		_, err := s.api.SendMessage(ctx, params)
		if err == nil {
			return nil
		}
		lastErr = err

		// 群组已不可达时重试无意义
		if isChatGone(err) {
			return err
		}

		if i < 2 {
			logger.L().Warnf("Send attempt %d failed for chat %d: %v, retrying in %v", i+1, chatID, err, s.retryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}

	return lastErr
}

// isChatGone 判断错误是否表示群组永久不可达
func isChatGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "bot was kicked") ||
		strings.Contains(msg, "bot is not a member") ||
		strings.Contains(msg, "chat was deleted") ||
		strings.Contains(msg, "forbidden")
}
