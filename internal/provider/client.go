package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"otp_bot/internal/config"
	"otp_bot/internal/relay/models"
)

// Client 封装与号码平台的 HTTP 通讯
// 所有请求经过熔断器，平台不可用时快速失败
type Client struct {
	baseURL string
	apiKey  string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// Option 自定义客户端行为
type Option func(*Client)

// WithHTTPClient 自定义 HTTP 客户端（测试时使用）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBreaker 自定义熔断器设置
func WithBreaker(settings gobreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// NewClient 根据配置创建平台客户端
func NewClient(cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider baseURL is empty")
	}

	client := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "provider",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// envelope 平台统一响应格式
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Health 探测平台可用性
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	c.setHeaders(req)

	resp, body, err := c.execute(req)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "health", Err: fmt.Errorf("status=%d, body=%s", resp.StatusCode, truncate(string(body), 256))}
	}
	return nil
}

// Login 账号登录，返回 token 与有效期提示（秒，可能为 0）
func (c *Client) Login(ctx context.Context, email, password string) (string, int, error) {
	env, err := c.postJSON(ctx, "login", "/api/v1/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	}, email)
	if err != nil {
		return "", 0, err
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := decodeData(env, &payload); err != nil {
		return "", 0, &TransportError{Op: "login", Err: err}
	}
	if payload.Token == "" {
		return "", 0, &TransportError{Op: "login", Err: fmt.Errorf("response missing token")}
	}
	return payload.Token, payload.ExpiresIn, nil
}

// FetchMessages 取回 sinceCursor 之后收到的消息，按接收时间升序返回
func (c *Client) FetchMessages(ctx context.Context, token, sinceCursor string, limit int) ([]models.Message, error) {
	env, err := c.postJSON(ctx, "fetch messages", "/api/v1/messages/code", map[string]interface{}{
		"token": token,
		"since": sinceCursor,
	}, "")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := decodeData(env, &payload); err != nil {
		return nil, &TransportError{Op: "fetch messages", Err: err}
	}

	messages := make([]models.Message, 0, len(payload.Messages))
	for _, row := range payload.Messages {
		messages = append(messages, row.toModel())
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// FetchAvailableCount 查询号段中指定 chunk 当前可用号码数
func (c *Client) FetchAvailableCount(ctx context.Context, token, rangeLabel string, chunkSize, offset int) (int, error) {
	env, err := c.postJSON(ctx, "fetch available count", "/api/v1/numbers/available", map[string]interface{}{
		"token":      token,
		"range_name": rangeLabel,
		"chunk_size": chunkSize,
		"offset":     offset,
	}, "")
	if err != nil {
		return 0, err
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := decodeData(env, &payload); err != nil {
		return 0, &TransportError{Op: "fetch available count", Err: err}
	}
	return payload.Count, nil
}

// RequestNumbers 为号段下单申请号码
func (c *Client) RequestNumbers(ctx context.Context, token, rangeLabel string, count int) error {
	_, err := c.postJSON(ctx, "request numbers", "/api/v1/order/range", map[string]interface{}{
		"token":      token,
		"range_name": rangeLabel,
		"count":      count,
	}, "")
	return err
}

// Balance 查询账号余额
func (c *Client) Balance(ctx context.Context, token string) (float64, error) {
	env, err := c.postJSON(ctx, "balance", "/api/v1/balance", map[string]interface{}{
		"token": token,
	}, "")
	if err != nil {
		return 0, err
	}

	var payload struct {
		Balance float64 `json:"balance"`
	}
	if err := decodeData(env, &payload); err != nil {
		return 0, &TransportError{Op: "balance", Err: err}
	}
	return payload.Balance, nil
}

// postJSON 发送请求并解析统一响应格式
// account 仅用于 AuthError 的上下文信息，可为空
func (c *Client) postJSON(ctx context.Context, op, path string, body map[string]interface{}, account string) (*envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	c.setHeaders(req)

	resp, respBody, err := c.execute(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var env envelope
	if len(respBody) > 0 {
		// 非 JSON 响应保留原文，便于排查
		if decodeErr := json.Unmarshal(respBody, &env); decodeErr != nil && resp.StatusCode == http.StatusOK {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response failed: %w", decodeErr)}
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &env, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		message := env.Message
		if message == "" {
			message = truncate(string(respBody), 256)
		}
		return nil, &AuthError{Account: account, Message: message}
	default:
		return nil, &TransportError{Op: op, Err: fmt.Errorf("status=%d, body=%s", resp.StatusCode, truncate(string(respBody), 256))}
	}
}

// execute 经熔断器执行请求并读取响应体
// 只有网络层失败计入熔断；业务状态码在外层处理
func (c *Client) execute(req *http.Request) (*http.Response, []byte, error) {
	type result struct {
		resp *http.Response
		body []byte
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response failed: %w", err)
		}
		return result{resp: resp, body: body}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	r := res.(result)
	return r.resp, r.body, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func decodeData(env *envelope, out interface{}) error {
	if env == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data failed: %w", err)
	}
	return nil
}

// wireMessage 平台消息的线上格式
type wireMessage struct {
	ID          string `json:"id"`
	ServiceName string `json:"service_name"`
	Number      string `json:"number"`
	Range       string `json:"range"`
	Body        string `json:"message"`
	ReceivedAt  string `json:"received_at"`
}

func (w wireMessage) toModel() models.Message {
	receivedAt, err := time.Parse(time.RFC3339, w.ReceivedAt)
	if err != nil {
		receivedAt = time.Time{}
	}
	id := strings.TrimSpace(w.ID)
	if id == "" {
		// 平台偶尔缺失 ID，用内容拼出稳定键，与去重逻辑兼容
		id = fmt.Sprintf("%s|%s|%s|%s", w.Number, w.ServiceName, w.Range, w.Body)
	}
	return models.Message{
		ID:          id,
		ServiceName: strings.TrimSpace(w.ServiceName),
		Number:      strings.TrimSpace(w.Number),
		Range:       strings.TrimSpace(w.Range),
		Body:        strings.TrimSpace(w.Body),
		ReceivedAt:  receivedAt,
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
