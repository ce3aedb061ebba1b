package models

import "time"

// Message 平台取回的一条验证码短信
// 由 fetch 创建后不再修改
type Message struct {
	ID          string    `json:"id"`           // 平台分配的消息 ID
	Account     string    `json:"account"`      // 来源账号名
	ServiceName string    `json:"service_name"` // 业务平台，例如 WhatsApp
	Number      string    `json:"number"`       // 接收号码（含国家码）
	Range       string    `json:"range"`        // 所属号段
	Body        string    `json:"message"`      // 短信正文
	ReceivedAt  time.Time `json:"received_at"`
}

// DedupKey 当日去重键
// 平台可能跨天复用 ID，按天记录即可
func (m *Message) DedupKey() string {
	return m.ID
}
