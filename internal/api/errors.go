package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrEmptyResponse 預期有內容的回應為空
	ErrEmptyResponse = errors.New("empty response body")
	// ErrMissingToken 登入成功但回應中沒有 token
	ErrMissingToken = errors.New("login response has no token")
)

// Error 伺服器回傳的非 2xx 回應
type Error struct {
	Op         string // 操作名稱，例如 list_logs
	StatusCode int    // HTTP 狀態碼
	Message    string // 伺服器提供的訊息，可能為空
	RequestID  string // 對應的 X-Request-ID
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// envelope 錯誤回應格式 {message: string | string[]}
type envelope struct {
	Message json.RawMessage `json:"message"`
}

// decodeMessage 取出錯誤訊息；陣列形式（欄位驗證錯誤）以 "; " 串接
func decodeMessage(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Message) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(env.Message, &single); err == nil {
		return strings.TrimSpace(single)
	}

	var list []string
	if err := json.Unmarshal(env.Message, &list); err == nil {
		parts := list[:0]
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// Message 將錯誤轉為可顯示的訊息
// 伺服器提供訊息時原樣返回，否則（網路錯誤、無法解析的回應）返回 fallback
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusCode 取出 HTTP 狀態碼，非 API 錯誤返回 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized 是否為 401 回應
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
