package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），支持 errors.Is / errors.As
//
// 使用场景：
//   - Store 错误：NOT_FOUND, UNAVAILABLE
//   - Experiment 错误：INVALID_INPUT, INVALID_TRANSITION
//   - 请求错误：INVALID_INPUT（映射为 HTTP 400）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "INVALID_INPUT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "experiment"）
	Cause   error  // 底层错误，可为空
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is 按 Module + Code 比较，使 errors.Is(err, ErrInvalidInput) 对包装后的错误同样成立。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError（沿错误链查找），如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建携带底层原因的领域错误
func WrapDomainError(module, code string, cause error, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound          = "NOT_FOUND"          // 资源不存在
	ErrorCodeNotSupported      = "NOT_SUPPORTED"      // 操作不支持
	ErrorCodeUnavailable       = "UNAVAILABLE"        // 服务不可用
	ErrorCodeInvalidInput      = "INVALID_INPUT"      // 输入无效
	ErrorCodeInvalidTransition = "INVALID_TRANSITION" // 状态迁移非法
	ErrorCodeInternalError     = "INTERNAL_ERROR"     // 内部错误
)

// 模块名称常量
const (
	ModuleStore      = "store"
	ModuleFeature    = "feature"
	ModuleRecall     = "recall"
	ModuleRank       = "rank"
	ModuleCache      = "cache"
	ModuleExperiment = "experiment"
	ModuleIngest     = "ingest"
	ModuleService    = "service"
)

// ErrInvalidInput 是不区分模块的输入错误哨兵，用于 errors.Is 判断。
var ErrInvalidInput = &DomainError{Code: ErrorCodeInvalidInput, Message: "invalid input"}

// InvalidInput 构造某模块的输入错误。
func InvalidInput(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeInvalidInput, fmt.Sprintf(format, args...))
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput)
}

// IsInvalidTransition 检查错误是否为 INVALID_TRANSITION
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrorCodeInvalidTransition)
}
