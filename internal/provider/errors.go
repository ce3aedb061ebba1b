package provider

import (
	"errors"
	"fmt"
)

// AuthError 表示凭证被平台拒绝（密码错误或 token 失效）
// 调用方应作废缓存 token 并在下一轮重新登录
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("provider auth rejected: account=%s, message=%s", e.Account, e.Message)
	}
	return fmt.Sprintf("provider auth rejected: %s", e.Message)
}

// TransportError 表示网络或平台侧暂时性故障
// 调用方应退避重试，而不是作废凭证
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsAuthError reports whether err means the provider rejected the credentials.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransportError reports whether err is a transient network/provider failure.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
