package vlm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorCode VLM 错误码
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "VLM_INVALID_REQUEST"  // 参数/格式错误
	ErrUnauthorized    ErrorCode = "VLM_UNAUTHORIZED"     // 未授权或密钥失效
	ErrForbidden       ErrorCode = "VLM_FORBIDDEN"        // 权限或内容策略拒绝
	ErrRateLimited     ErrorCode = "VLM_RATE_LIMITED"     // 上游限流
	ErrQuotaExceeded   ErrorCode = "VLM_QUOTA_EXCEEDED"   // 额度用尽
	ErrModelOverloaded ErrorCode = "VLM_MODEL_OVERLOADED" // 模型过载
	ErrUpstreamTimeout ErrorCode = "VLM_UPSTREAM_TIMEOUT" // 上游超时
	ErrUpstreamError   ErrorCode = "VLM_UPSTREAM_ERROR"   // 上游 5xx/网络错误
	ErrEmptyResponse   ErrorCode = "VLM_EMPTY_RESPONSE"   // 没有 choices
)

var (
	// ErrMissingAPIKey 后端需要 API Key
	ErrMissingAPIKey = errors.New("vlm: api key is required")
	// ErrUnknownBackend 未知的 vlm_type
	ErrUnknownBackend = errors.New("vlm: unknown backend type")
)

// Error VLM 调用错误
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable 判断错误是否值得重试
func IsRetryable(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// MapHTTPError 将 HTTP 状态码映射为带重试标记的 *Error
func MapHTTPError(status int, msg, provider string) *Error {
	e := &Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch status {
	case http.StatusUnauthorized:
		e.Code = ErrUnauthorized
	case http.StatusForbidden:
		e.Code = ErrForbidden
	case http.StatusTooManyRequests:
		e.Code = ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") || strings.Contains(lower, "limit") {
			e.Code = ErrQuotaExceeded
		} else {
			e.Code = ErrInvalidRequest
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		e.Code = ErrUpstreamError
		e.Retryable = true
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		e.Code = ErrUpstreamTimeout
		e.Retryable = true
	case 529:
		e.Code = ErrModelOverloaded
		e.Retryable = true
	default:
		e.Code = ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

// ReadErrorMessage 读取错误响应体，优先解析 OpenAI 风格的 {"error":{...}}
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
