// Package types 定義 schedctl 與排程器 API 之間交換的領域模型
package types

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// JobID 排程任務唯一識別碼（由伺服器分配）
type JobID int64

// String 以十進位輸出，用於 URL path 與日誌
func (id JobID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseJobID 解析命令列或 URL 中的任務 ID
func ParseJobID(s string) (JobID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return JobID(n), nil
}

// HTTPMethod 任務觸發時使用的 HTTP 方法
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodPatch  HTTPMethod = "PATCH"
	MethodDelete HTTPMethod = "DELETE"
)

// Methods 所有支援的 HTTP 方法，依表單顯示順序排列
var Methods = []HTTPMethod{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete}

// Valid 檢查方法是否在支援清單內
func (m HTTPMethod) Valid() bool {
	for _, v := range Methods {
		if v == m {
			return true
		}
	}
	return false
}

// JobStatus 任務排程狀態
type JobStatus string

const (
	JobActive JobStatus = "ACTIVE" // 依 cron 排程執行中
	JobPaused JobStatus = "PAUSED" // 已暫停，不會被觸發
)

// Job 伺服器端的排程任務定義
// 客戶端只持有唯讀快取，變更成功後整批重新載入，不做局部修改
type Job struct {
	ID           JobID      `json:"id"`
	Project      string     `json:"project"`
	Name         string     `json:"name"`
	Description  *string    `json:"description"`
	Cron         string     `json:"cron"`
	URL          string     `json:"url"`
	Method       HTTPMethod `json:"method"`
	SecretHeader *string    `json:"xSecret"`
	Body         *string    `json:"body"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastRunAt    *time.Time `json:"lastRunAt"`
	NextRunAt    *time.Time `json:"nextRunAt"`
}

// CreateJobRequest POST /jobs 的請求內容
type CreateJobRequest struct {
	Project      string     `json:"project"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Cron         string     `json:"cron"`
	URL          string     `json:"url"`
	Method       HTTPMethod `json:"method"`
	SecretHeader string     `json:"xSecret,omitempty"`
}

// ErrInvalidJob 建立任務的請求內容不完整
var ErrInvalidJob = errors.New("invalid job definition")

// Validate 檢查必填欄位，與伺服器端驗證一致
func (r CreateJobRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Project) == "" {
		missing = append(missing, "project")
	}
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(r.Cron) == "" {
		missing = append(missing, "cron")
	}
	if strings.TrimSpace(r.URL) == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidJob, strings.Join(missing, ", "))
	}
	if !r.Method.Valid() {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidJob, r.Method)
	}
	return nil
}

// LogStatus 單次執行結果
type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogError   LogStatus = "ERROR"
)

// Log 一次任務執行紀錄，由伺服器寫入，客戶端唯讀
type Log struct {
	ID         int64     `json:"id"`
	JobID      JobID     `json:"jobId"`
	Status     LogStatus `json:"status"`
	HTTPStatus *int      `json:"httpStatus"`
	Message    *string   `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LogPage GET /logs 的分頁回應
type LogPage struct {
	Items []Log `json:"items"`
	Total int   `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// InstantLayout 查詢參數中時間的格式（UTC、毫秒精度）
const InstantLayout = "2006-01-02T15:04:05.000Z"

// LogQuery GET /logs 的查詢條件
// 零值欄位代表「不過濾」：Status 為空、JobID 為 0、From/To 為零時間
type LogQuery struct {
	Page   int
	Limit  int
	Status LogStatus
	JobID  JobID
	From   time.Time
	To     time.Time
}

// Values 編碼為 URL 查詢參數，未設定的維度不輸出
func (q LogQuery) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("limit", strconv.Itoa(q.Limit))
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.JobID != 0 {
		v.Set("jobId", q.JobID.String())
	}
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(InstantLayout))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(InstantLayout))
	}
	return v
}

// Identity 目前登入的使用者
type Identity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Result 元件邊界統一回傳格式：OK 為 false 時 Error 為可直接顯示的訊息
type Result struct {
	OK    bool
	Error string
}

// Ok 成功結果
func Ok() Result {
	return Result{OK: true}
}

// Fail 失敗結果
func Fail(msg string) Result {
	return Result{OK: false, Error: msg}
}
