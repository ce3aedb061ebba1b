package models

import "time"

// Destination 转发目标群组
type Destination struct {
	Name      string    `bson:"name" json:"name"`
	ChatID    int64     `bson:"chat_id" json:"chat_id"` // Telegram 群组 ID（-100 开头）
	Enabled   bool      `bson:"enabled" json:"enabled"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
