// Package errors 提供撤回引擎的统一错误类型。
//
// 错误分为四类业务错误与若干基础设施错误：
//   - 验证错误（VALIDATION_ERROR）：调用方输入缺失/非法，直接返回给调用方，不按缺陷记录；
//   - 状态冲突（STATE_CONFLICT）：状态机不允许的迁移、重复待审请求、重复完成，
//     details 中携带当前状态，便于界面刷新；
//   - 能力缺失（CAPABILITY_ERROR）：实体类型未注册撤回能力，对外表现为"不可撤回"；
//   - 依赖阻塞（DEPENDENCY_ERROR）：存在依赖记录，details 中携带完整依赖清单。
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误代码
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// 业务错误代码
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeStateConflict ErrorCode = "STATE_CONFLICT"
	ErrCodeCapability    ErrorCode = "CAPABILITY_ERROR"
	ErrCodeDependency    ErrorCode = "DEPENDENCY_ERROR"

	// 基础设施错误代码
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeNotify   ErrorCode = "NOTIFY_ERROR"
)

// IError 错误接口
type IError interface {
	error

	// 获取错误代码
	Code() ErrorCode

	// 获取错误消息
	Message() string

	// 获取原始错误
	Cause() error

	// 获取错误详情
	Details() map[string]any

	// 获取堆栈信息
	Stack() string

	// 添加详情
	WithDetails(details map[string]any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// NewErrorWithCause 创建带原因的错误
func NewErrorWithCause(code ErrorCode, message string, cause error) IError {
	return &AppError{
		code:    code,
		message: message,
		cause:   cause,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}

	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 获取错误代码
func (e *AppError) Code() ErrorCode {
	return e.code
}

// Message 获取错误消息
func (e *AppError) Message() string {
	return e.message
}

// Cause 获取原始错误
func (e *AppError) Cause() error {
	return e.cause
}

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Stack 获取堆栈信息
func (e *AppError) Stack() string {
	return e.stack
}

// Is 检查是否为指定类型的错误
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}

	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}

	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}

	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails 添加详情，返回新的错误实例
func (e *AppError) WithDetails(details map[string]any) IError {
	newDetails := copyMap(e.details)
	for k, v := range details {
		newDetails[k] = v
	}

	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

func copyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// captureStack 捕获当前调用栈（跳过错误包内部帧）
func captureStack() string {
	const depth = 16
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}

// CodeOf 提取错误代码，非 IError 返回 INTERNAL_ERROR
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Code()
	}
	return ErrCodeInternal
}

// hasCode 判断错误链上是否存在指定代码
func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Code() == code
	}
	return false
}

// IsValidation 是否为验证错误
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsStateConflict 是否为状态冲突错误
func IsStateConflict(err error) bool { return hasCode(err, ErrCodeStateConflict) }

// IsCapability 是否为能力缺失错误
func IsCapability(err error) bool { return hasCode(err, ErrCodeCapability) }

// IsDependency 是否为依赖阻塞错误
func IsDependency(err error) bool { return hasCode(err, ErrCodeDependency) }

// IsNotFound 是否为未找到错误
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }
