package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound khớp (errors.Is) với mọi NetworkError có mã 404.
var ErrNotFound = errors.New("crm: record not found")

// ErrInvalidID được trả về khi id không phải GUID của Dataverse.
var ErrInvalidID = errors.New("crm: invalid record id")

// TokenError là lỗi khi lấy access token từ Logic App.
type TokenError struct {
	StatusCode int
	Err        error
}

func (e *TokenError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to get access token: %d", e.StatusCode)
	}
	return fmt.Sprintf("failed to get access token: %v", e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// AuthReason phân loại lý do đăng nhập thất bại.
type AuthReason string

const (
	ReasonUnknownPhone            AuthReason = "unknown_phone"
	ReasonWrongPassword           AuthReason = "wrong_password"
	ReasonDefaultPasswordRequired AuthReason = "default_password_required"
)

// AuthError là lỗi đăng nhập có thể hiển thị thẳng cho NCC.
type AuthError struct {
	Reason  AuthReason
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// NetworkError bao lỗi transport hoặc phản hồi non-2xx từ Web API.
type NetworkError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crm %s: %d - %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("crm %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable cho biết gửi lại cùng request có thể thành công hay không.
func (e *NetworkError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// PasswordChangeError là lỗi khi ghi mật khẩu mới lên CRM.
type PasswordChangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *PasswordChangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Không thể đổi mật khẩu: %d - %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("Không thể đổi mật khẩu: %v", e.Err)
}

func (e *PasswordChangeError) Unwrap() error { return e.Err }

// IsRetryable dùng cho hàng đợi đồng bộ: lỗi token và lỗi mạng tạm thời thì thử lại,
// lỗi 4xx còn lại thì bỏ.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retryable()
	}
	var tokErr *TokenError
	if errors.As(err, &tokErr) {
		return true
	}
	if errors.Is(err, ErrInvalidID) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}
