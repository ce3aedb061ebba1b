package models

import "time"

// RuntimeSettings 运行时开关，修改后下一轮取件即生效，无需重启
type RuntimeSettings struct {
	FetchEnabled bool      `bson:"fetch_enabled" json:"fetch_enabled"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
