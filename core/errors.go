package core

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
type DomainError struct {
	Code    string // 错误代码（如 "NO_DATA", "RUN_ACTIVE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "persona", "rank"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

// 错误代码常量
const (
	ErrorCodeNoData        = "NO_DATA"        // 上游数据为空或缺失
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeRunActive     = "RUN_ACTIVE"     // 已有流水线任务在执行
	ErrorCodePersistFailed = "PERSIST_FAILED" // 写事务失败
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
)

// 模块名称常量
const (
	ModulePersona  = "persona"
	ModuleRecall   = "recall"
	ModuleRank     = "rank"
	ModuleEval     = "eval"
	ModuleStore    = "store"
	ModulePipeline = "pipeline"
)

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNoData 检查错误是否为 NO_DATA
func IsNoData(err error) bool { return hasCode(err, ErrorCodeNoData) }

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsRunActive 检查错误是否为 RUN_ACTIVE
func IsRunActive(err error) bool { return hasCode(err, ErrorCodeRunActive) }

// IsPersistFailed 检查错误是否为 PERSIST_FAILED
func IsPersistFailed(err error) bool { return hasCode(err, ErrorCodePersistFailed) }
