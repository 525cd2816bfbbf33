package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"

	// Коды верификации одноразовых кодов.
	ErrCodeInvalidCode     ErrorCode = "INVALID_CODE"
	ErrCodeExpiredCode     ErrorCode = "EXPIRED_CODE"
	ErrCodeCodeAlreadyUsed ErrorCode = "CODE_ALREADY_USED"
	ErrCodeTooManyAttempts ErrorCode = "TOO_MANY_ATTEMPTS"

	// Коды жизненного цикла refresh сессии.
	ErrCodeInvalidRefresh ErrorCode = "INVALID_REFRESH"
	ErrCodeExpiredRefresh ErrorCode = "EXPIRED_REFRESH"
	ErrCodeReuseDetected  ErrorCode = "REUSE_DETECTED"

	ErrCodeInvalidResetAuthorization ErrorCode = "INVALID_RESET_AUTHORIZATION"
	ErrCodeExpiredResetAuthorization ErrorCode = "EXPIRED_RESET_AUTHORIZATION"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized, ErrCodeInvalidRefresh, ErrCodeExpiredRefresh, ErrCodeReuseDetected,
		ErrCodeInvalidResetAuthorization, ErrCodeExpiredResetAuthorization:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInvalidCode, ErrCodeExpiredCode,
		ErrCodeCodeAlreadyUsed:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeRateLimited, ErrCodeTooManyAttempts:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

// IsSecurity сообщает, относится ли ошибка к классу защитных:
// такие ошибки влекут отзыв сессий и отдельный аудит, а не просто отказ.
func IsSecurity(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == ErrCodeReuseDetected || appErr.Code == ErrCodeTooManyAttempts
}

func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

var (
	ErrAccountNotFound    = New(ErrCodeNotFound, "аккаунт не найден")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden          = New(ErrCodeForbidden, "недостаточно прав")
	ErrInvalidCredentials = New(ErrCodeUnauthorized, "неверный email или пароль")
	ErrUnverifiedAccount  = New(ErrCodeForbidden, "email не подтверждён")
	ErrDuplicateIdentity  = New(ErrCodeConflict, "email уже зарегистрирован")

	ErrInvalidCode     = New(ErrCodeInvalidCode, "неверный код подтверждения")
	ErrExpiredCode     = New(ErrCodeExpiredCode, "срок действия кода истёк")
	ErrCodeAlreadyUsed = New(ErrCodeCodeAlreadyUsed, "код уже был использован")
	ErrTooManyAttempts = New(ErrCodeTooManyAttempts, "превышено число попыток ввода кода")

	ErrInvalidRefresh = New(ErrCodeInvalidRefresh, "refresh токен невалиден")
	ErrExpiredRefresh = New(ErrCodeExpiredRefresh, "срок действия refresh токена истёк")
	ErrReuseDetected  = New(ErrCodeReuseDetected, "повторное использование refresh токена, все сессии отозваны")

	ErrRateLimited = New(ErrCodeRateLimited, "слишком много запросов, попробуйте позже")

	ErrInvalidResetAuthorization = New(ErrCodeInvalidResetAuthorization, "разрешение на смену пароля невалидно")
	ErrExpiredResetAuthorization = New(ErrCodeExpiredResetAuthorization, "срок действия разрешения на смену пароля истёк")
)
