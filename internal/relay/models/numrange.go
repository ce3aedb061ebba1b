package models

import "time"

// NumberRange 号段请求记录
// RequestedTotal 只能通过 add-range 增加；AvailableCount 只能由同步流程更新
type NumberRange struct {
	Label          string         `bson:"label" json:"label"`
	RequestedTotal int            `bson:"requested_total" json:"requested_total"`
	AvailableCount int            `bson:"available_count" json:"available_count"`
	ChunkCounts    map[string]int `bson:"chunk_counts,omitempty" json:"chunk_counts,omitempty"`     // 偏移 -> 最近一次成功同步的可用数
	PendingChunks  []int          `bson:"pending_chunks,omitempty" json:"pending_chunks,omitempty"` // 上次同步失败、待重试的 chunk 偏移
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	LastRequestAt  time.Time      `bson:"last_request_at,omitempty" json:"last_request_at,omitempty"`
	LastSyncedAt   time.Time      `bson:"last_synced_at,omitempty" json:"last_synced_at,omitempty"`
}

// ChunkOffsets 返回按 chunkSize 切分后的全部偏移
func (r *NumberRange) ChunkOffsets(chunkSize int) []int {
	if chunkSize <= 0 || r.RequestedTotal <= 0 {
		return nil
	}
	offsets := make([]int, 0, r.RequestedTotal/chunkSize)
	for offset := 0; offset < r.RequestedTotal; offset += chunkSize {
		offsets = append(offsets, offset)
	}
	return offsets
}
