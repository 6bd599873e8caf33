package apperror

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку предметной области
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindInvalidState Kind = "invalid_state"
	KindNotAssigned  Kind = "not_assigned"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
)

// Sentinel-значения для сравнения через errors.Is
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrNotAssigned  = &Error{Kind: KindNotAssigned}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
)

// Error - типизированная ошибка с человекочитаемой причиной
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по Kind, поэтому errors.Is(err, ErrNotFound) работает для любой ошибки этого вида
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает причину, присваивая ей вид
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return Newf(KindUnauthorized, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return Newf(KindInvalidState, format, args...)
}

func NotAssigned(format string, args ...any) *Error {
	return Newf(KindNotAssigned, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

// KindOf возвращает вид первой типизированной ошибки в цепочке или пустую строку
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable - ошибки, которые вызывающая сторона может повторить
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindUnavailable:
		return true
	}
	return false
}
