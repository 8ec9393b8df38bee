package storyapi

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired 缺少会话凭证，或服务端返回 401
	ErrAuthRequired = errors.New("authentication required")
	// ErrInsufficientCredits 点数不足 (HTTP 402)
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrMalformedResponse 响应体无法按约定解析
	ErrMalformedResponse = errors.New("malformed response")
)

// TransportError 表示网络失败或非 2xx 响应。StatusCode 为 0 时表示请求未到达服务端。
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
