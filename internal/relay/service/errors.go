package service

import (
	"errors"
	"fmt"
)

// QuotaError 号段申请被拒绝：数量不是合法步进，或超出剩余配额
// Remaining 为拒绝时刻的剩余可申请数量，调用方可直接展示给用户
type QuotaError struct {
	Label     string
	Requested int
	Remaining int
	Reason    string // 为空时表示超出剩余配额
}

func (e *QuotaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid count for range %s: %s (requested=%d, remaining=%d)", e.Label, e.Reason, e.Requested, e.Remaining)
	}
	return fmt.Sprintf("quota exceeded for range %s: requested=%d, remaining=%d", e.Label, e.Requested, e.Remaining)
}

// IsQuotaError 判断错误是否为配额不足
func IsQuotaError(err error) bool {
	var quotaErr *QuotaError
	return errors.As(err, &quotaErr)
}

// PartialSyncError 号段同步部分失败
// FailedOffsets 为本次失败的 chunk 偏移，已记入 pending_chunks 等待下一轮重试
type PartialSyncError struct {
	Label         string
	FailedOffsets []int
	LastErr       error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("partial sync for range %s: %d chunk(s) failed, last error: %v", e.Label, len(e.FailedOffsets), e.LastErr)
}

func (e *PartialSyncError) Unwrap() error {
	return e.LastErr
}

// IsPartialSyncError 判断错误是否为部分同步失败
func IsPartialSyncError(err error) bool {
	var partialErr *PartialSyncError
	return errors.As(err, &partialErr)
}
