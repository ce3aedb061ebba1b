package models

import "time"

// Account 平台账号
// 每个账号独立登录取件，token 与游标互不共享
type Account struct {
	Name           string    `bson:"name" json:"name"`
	Email          string    `bson:"email" json:"email"`
	Password       string    `bson:"password" json:"-"`
	Enabled        bool      `bson:"enabled" json:"enabled"`
	Token          string    `bson:"token,omitempty" json:"-"`
	TokenExpiresAt time.Time `bson:"token_expires_at,omitempty" json:"token_expires_at,omitempty"`
	Cursor         string    `bson:"cursor,omitempty" json:"cursor,omitempty"` // 最近一条已处理消息的时间戳（RFC3339）
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// HasValidToken 判断缓存 token 在 skew 提前量下是否仍然可用
func (a *Account) HasValidToken(now time.Time, skew time.Duration) bool {
	if a == nil || a.Token == "" || a.TokenExpiresAt.IsZero() {
		return false
	}
	return now.Add(skew).Before(a.TokenExpiresAt)
}
