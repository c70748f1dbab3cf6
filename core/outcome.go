package core

import "fmt"

// Outcome 是各组件入口的显式执行结果：成功与否 + 可展示的消息。
// 失败不静默向上传播，调度器把最近一次 Outcome 留存供轮询。
type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Success 构造成功结果。
func Success(format string, args ...any) Outcome {
	return Outcome{OK: true, Message: fmt.Sprintf(format, args...)}
}

// Failure 构造失败结果。
func Failure(format string, args ...any) Outcome {
	return Outcome{OK: false, Message: fmt.Sprintf(format, args...)}
}

// FailureFromErr 从 error 构造失败结果。
func FailureFromErr(err error) Outcome {
	if err == nil {
		return Failure("unknown error")
	}
	return Outcome{OK: false, Message: err.Error()}
}
