package collector

import "fmt"

// InvalidRequestError 表示请求参数不合法，立即返回且永不重试。
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "非法请求: " + e.Reason
}

func invalidRequest(format string, v ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, v...)}
}

// RemoteFetchError 表示远端拉取阶段失败。本次收集中止，但已落库的数据
// 不受影响：调用方重新发起 collect 时重叠分析会跳过已有部分。
type RemoteFetchError struct {
	Err error
}

func (e *RemoteFetchError) Error() string {
	return "远端拉取失败: " + e.Err.Error()
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// StoreError 表示本地存储读写失败。对本次请求是致命的：静默跳过持久化
// 会破坏后续的连续性判断。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("存储操作 %s 失败: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
