package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示桥接层对外暴露的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind 是错误码所属的大类，调用方据此决定是否可以自行修正。
type Kind string

const (
	KindInvalidArguments   Kind = "invalid_arguments"
	KindEngineFailure      Kind = "engine_failure"
	KindEnvironmentFailure Kind = "environment_failure"
	KindInfrastructure     Kind = "infrastructure"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Kind      Kind
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArguments      Code = "INVALID_ARGUMENTS"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTransportFailure      Code = "TRANSPORT_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Kind:     KindInfrastructure,
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArguments: {
			Message:  "invalid arguments",
			Kind:     KindInvalidArguments,
			Severity: SeverityInfo,
		},
		CodeInitializationFailure: {
			Message:  "component not initialized",
			Kind:     KindInfrastructure,
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeStorageFailure: {
			Message:  "storage failure",
			Kind:     KindInfrastructure,
			Severity: SeverityWarning,
		},
		CodeTransportFailure: {
			Message:  "transport failure",
			Kind:     KindInfrastructure,
			Severity: SeverityCritical,
			Alert:    true,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是桥接层统一的错误类型。
type Error struct {
	code     Code
	message  string
	details  string
	cause    error
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithDetails 附加面向调用方的补充说明，通常是底层错误的原始信息。
func WithDetails(details string) Option {
	return func(e *Error) {
		e.details = details
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型，未显式提供 details 时使用 cause 的信息。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	if e.details == "" && cause != nil {
		e.details = cause.Error()
	}
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details 返回补充说明，可能为空。
func (e *Error) Details() string {
	if e == nil {
		return ""
	}
	return e.details
}

// Kind 返回错误码所属大类。
func (e *Error) Kind() Kind {
	if e == nil {
		return KindInfrastructure
	}
	return AttributesOf(e.code).Kind
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// ShouldAlert 判断任意 error 是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// Retryable 判断错误码是否允许调用方原样重试。
func Retryable(code Code) bool {
	return AttributesOf(code).Retryable
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
