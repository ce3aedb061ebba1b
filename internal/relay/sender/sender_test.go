package sender

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"otp_bot/internal/relay/models"
)

type fakeTelegramAPI struct {
	mu     sync.Mutex
	calls  []int64
	params []*bot.SendMessageParams
	errs   map[int64]error
}

func (f *fakeTelegramAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	chatID := params.ChatID.(int64)
	f.calls = append(f.calls, chatID)
	f.params = append(f.params, params)
	if err, ok := f.errs[chatID]; ok {
		return nil, err
	}
	return &botModels.Message{ID: 1}, nil
}

func (f *fakeTelegramAPI) callCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, id := range f.calls {
		if id == chatID {
			count++
		}
	}
	return count
}

func destinations(chatIDs ...int64) []*models.Destination {
	out := make([]*models.Destination, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		out = append(out, &models.Destination{ChatID: chatID, Enabled: true})
	}
	return out
}

func TestBroadcastDeliversToAll(t *testing.T) {
	api := &fakeTelegramAPI{}
	s := NewSender(api, 30)
	defer s.Close()

	result := s.Broadcast(context.Background(), destinations(-100111, -100222), "hello", "482913")

	if result.DispatchID == "" {
		t.Fatalf("expected dispatch id")
	}
	if len(result.Delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", result.Delivered)
	}
	if len(result.Failed) != 0 || len(result.Gone) != 0 {
		t.Fatalf("unexpected failures: failed=%v gone=%v", result.Failed, result.Gone)
	}

	// 验证码按钮随消息一起发送
	if api.params[0].ReplyMarkup == nil {
		t.Fatalf("expected copy button markup")
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	api := &fakeTelegramAPI{errs: map[int64]error{-100222: errors.New("internal server error")}}
	s := NewSender(api, 30)
	s.retryDelay = 0
	defer s.Close()

	result := s.Broadcast(context.Background(), destinations(-100111, -100222), "hello", "")

	if len(result.Delivered) != 1 || result.Delivered[0] != -100111 {
		t.Fatalf("expected -100111 delivered, got %v", result.Delivered)
	}
	if _, ok := result.Failed[-100222]; !ok {
		t.Fatalf("expected -100222 in failed, got %v", result.Failed)
	}
	// 非永久错误重试 3 次
	if got := api.callCount(-100222); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestBroadcastMarksGoneChats(t *testing.T) {
	api := &fakeTelegramAPI{errs: map[int64]error{-100222: errors.New("Bad Request: chat not found")}}
	s := NewSender(api, 30)
	defer s.Close()

	result := s.Broadcast(context.Background(), destinations(-100111, -100222), "hello", "")

	if len(result.Gone) != 1 || result.Gone[0] != -100222 {
		t.Fatalf("expected -100222 gone, got %v", result.Gone)
	}
	// 群组不可达不重试
	if got := api.callCount(-100222); got != 1 {
		t.Fatalf("expected single attempt for gone chat, got %d", got)
	}
}

func TestIsChatGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "chat not found", err: errors.New("Bad Request: chat not found"), want: true},
		{name: "kicked", err: errors.New("Forbidden: bot was kicked from the supergroup chat"), want: true},
		{name: "deleted", err: errors.New("Forbidden: the chat was deleted"), want: true},
		{name: "rate limited", err: errors.New("Too Many Requests: retry after 5"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isChatGone(tt.err); got != tt.want {
				t.Fatalf("isChatGone(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
