package models

import "time"

// DailyRecord 当日去重与发送记录
// 每个自然日一个文档，跨天时旧文档整体删除
type DailyRecord struct {
	Day       string      `bson:"day" json:"day"` // YYYY-MM-DD
	SeenIDs   []string    `bson:"seen_ids" json:"seen_ids"`
	Sent      []SentEntry `bson:"sent" json:"sent"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// SentEntry 一条已转发消息的投递摘要
type SentEntry struct {
	MessageID    string    `bson:"message_id" json:"message_id"`
	Account      string    `bson:"account" json:"account"`
	ServiceName  string    `bson:"service_name" json:"service_name"`
	Number       string    `bson:"number" json:"number"`
	Range        string    `bson:"range,omitempty" json:"range,omitempty"`
	Code         string    `bson:"code" json:"code"`
	Destinations []int64   `bson:"destinations" json:"destinations"` // 投递成功的 chat_id
	SentAt       time.Time `bson:"sent_at" json:"sent_at"`
}
