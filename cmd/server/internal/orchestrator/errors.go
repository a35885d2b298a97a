package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 表示作业编排错误类型代码
type ErrorCode string

const (
	// VALIDATION_ERROR 提交参数不合法（作业未创建）
	VALIDATION_ERROR ErrorCode = "VALIDATION_ERROR"

	// NOT_FOUND 作业不存在
	NOT_FOUND ErrorCode = "NOT_FOUND"

	// NOT_CANCELLABLE 作业已处于终态，无法取消
	NOT_CANCELLABLE ErrorCode = "NOT_CANCELLABLE"

	// NOT_RETRYABLE 仅 FAILED / CANCELLED 作业可重试
	NOT_RETRYABLE ErrorCode = "NOT_RETRYABLE"

	// COLLABORATOR_FAILURE 外部协作者（下载、说话人识别、切分、转写）失败
	COLLABORATOR_FAILURE ErrorCode = "COLLABORATOR_FAILURE"

	// MERGE_FAILED 合唱谱合并失败
	MERGE_FAILED ErrorCode = "MERGE_FAILED"

	// CANCELLED 流水线观察到取消信号
	CANCELLED ErrorCode = "CANCELLED"
)

// OrchError 表示 Orchestrator 作业错误
type OrchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrNotFound) 对任意消息的 NOT_FOUND 成立
func (e *OrchError) Is(target error) bool {
	var t *OrchError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewOrchError 创建新的 Orchestrator 错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrInvalidSpec    = &OrchError{Code: VALIDATION_ERROR}
	ErrNotFound       = &OrchError{Code: NOT_FOUND}
	ErrNotCancellable = &OrchError{Code: NOT_CANCELLABLE}
	ErrNotRetryable   = &OrchError{Code: NOT_RETRYABLE}
	ErrCollaborator   = &OrchError{Code: COLLABORATOR_FAILURE}
	ErrMerge          = &OrchError{Code: MERGE_FAILED}
	ErrCancelled      = &OrchError{Code: CANCELLED}
)

// NewValidationError 创建参数校验错误
func NewValidationError(message string) *OrchError {
	return NewOrchError(VALIDATION_ERROR, message, nil)
}

// NewNotFoundError 创建作业不存在错误
func NewNotFoundError(jobID string) *OrchError {
	return NewOrchError(NOT_FOUND, fmt.Sprintf("job %s not found", jobID), nil)
}

// NewNotCancellableError 创建不可取消错误
func NewNotCancellableError(jobID string, status Status) *OrchError {
	return NewOrchError(NOT_CANCELLABLE, fmt.Sprintf("job %s cannot be cancelled in status %s", jobID, status), nil)
}

// NewNotRetryableError 创建不可重试错误
func NewNotRetryableError(jobID string, status Status) *OrchError {
	return NewOrchError(NOT_RETRYABLE, fmt.Sprintf("job %s cannot be retried in status %s", jobID, status), nil)
}

// NewCollaboratorError 创建外部协作者失败错误，stage 标明失败阶段
func NewCollaboratorError(stage Stage, cause error) *OrchError {
	return NewOrchError(COLLABORATOR_FAILURE, fmt.Sprintf("%s failed", stage), cause)
}

// NewMergeError 创建合唱谱合并错误
func NewMergeError(cause error) *OrchError {
	return NewOrchError(MERGE_FAILED, "duet merge failed", cause)
}

// NewCancelledError 创建取消错误
func NewCancelledError(stage Stage) *OrchError {
	return NewOrchError(CANCELLED, fmt.Sprintf("cancelled during %s", stage), nil)
}

// errorCodeOf 返回错误链中第一个 OrchError 的错误码
func errorCodeOf(err error) ErrorCode {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
