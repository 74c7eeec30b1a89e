package errors

import (
	"context"
	"fmt"

	"chehui/logging"
)

// NewValidationError 创建验证错误
func NewValidationError(msg string) IError {
	return NewError(ErrCodeValidation, msg)
}

// NewStateConflictError 创建状态冲突错误，details 携带当前状态
func NewStateConflictError(msg string, currentStatus string) IError {
	return NewError(ErrCodeStateConflict, msg).WithDetails(map[string]any{
		"current_status": currentStatus,
	})
}

// NewCapabilityError 创建能力缺失错误
func NewCapabilityError(entityType string) IError {
	return NewError(ErrCodeCapability,
		fmt.Sprintf("entity type is not retrievable: %s", entityType)).
		WithDetails(map[string]any{"entity_type": entityType})
}

// NewDependencyError 创建依赖阻塞错误，details 携带完整依赖清单
func NewDependencyError(msg string, dependents any) IError {
	return NewError(ErrCodeDependency, msg).WithDetails(map[string]any{
		"dependents": dependents,
	})
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(format string, args ...any) IError {
	return NewError(ErrCodeNotFound, fmt.Sprintf(format, args...))
}

// WrapDatabaseError 包装数据库错误
// 自动保留 NotFound 语义，其余按数据库错误记录警告日志
func WrapDatabaseError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	if IsNotFound(err) {
		return WrapError(err, ErrCodeNotFound, operation)
	}

	logging.GetLogger().Warn(ctx, "数据库操作失败",
		logging.Error(err),
		logging.String("operation", operation),
	)
	return WrapError(err, ErrCodeDatabase, fmt.Sprintf("数据库操作失败: %s", operation))
}
