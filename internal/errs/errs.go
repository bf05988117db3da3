// Package errs 定义对外可见的错误分类，每个分类对应稳定的 kind 和 HTTP 状态码
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 机器可读的错误类型
type Kind string

const (
	KindInvalidInput         Kind = "InvalidInput"
	KindUnauthenticated      Kind = "Unauthenticated"
	KindAccessDenied         Kind = "AccessDenied"
	KindNotFound             Kind = "NotFound"
	KindInvalidOrExpiredLink Kind = "InvalidOrExpiredLink"
	KindFileMissingOnDisk    Kind = "FileMissingOnDisk"
	KindQuotaExceeded        Kind = "QuotaExceeded"
	KindStorageWriteFailed   Kind = "StorageWriteFailed"
	KindStorageDeleteFailed  Kind = "StorageDeleteFailed"
	KindNoStorageAvailable   Kind = "NoStorageAvailable"
	KindStrategyNotFound     Kind = "StrategyNotFound"
	KindInternal             Kind = "Internal"
)

var kindStatus = map[Kind]int{
	KindInvalidInput:         http.StatusBadRequest,
	KindUnauthenticated:      http.StatusUnauthorized,
	KindAccessDenied:         http.StatusForbidden,
	KindNotFound:             http.StatusNotFound,
	KindInvalidOrExpiredLink: http.StatusNotFound,
	KindFileMissingOnDisk:    http.StatusNotFound,
	KindQuotaExceeded:        http.StatusRequestEntityTooLarge,
	KindStorageWriteFailed:   http.StatusInternalServerError,
	KindStorageDeleteFailed:  http.StatusInternalServerError,
	KindNoStorageAvailable:   http.StatusServiceUnavailable,
	KindStrategyNotFound:     http.StatusBadRequest,
	KindInternal:             http.StatusInternalServerError,
}

// Status 返回该类型对应的 HTTP 状态码
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error 携带类型、对外消息与内部原因的错误
// Message 会返回给客户端，Err 只用于日志
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status 返回 HTTP 状态码
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New 创建指定类型的错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包装内部错误，对外只暴露 message
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }

func AccessDenied(message string) *Error { return New(KindAccessDenied, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

// KindOf 提取错误类型，非 *Error 视为 Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误是否属于指定类型
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf 返回错误对应的 HTTP 状态码
func StatusOf(err error) int {
	return KindOf(err).Status()
}

func (k Kind) String() string {
	return string(k)
}
