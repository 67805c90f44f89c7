package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/ChuLiYu/schedctl/pkg/types"
)

// DefaultLimit 每頁預設筆數
const DefaultLimit = 20

// StatusFilter 日誌狀態過濾條件
type StatusFilter string

const (
	StatusAll     StatusFilter = "ALL"
	StatusSuccess StatusFilter = "SUCCESS"
	StatusError   StatusFilter = "ERROR"
)

// ParseStatusFilter 不分大小寫解析狀態過濾，空字串視為 ALL
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL":
		return StatusAll, nil
	case "SUCCESS":
		return StatusSuccess, nil
	case "ERROR":
		return StatusError, nil
	}
	return "", fmt.Errorf("invalid status filter %q", s)
}

// FilterState 日誌查詢的所有維度
// JobID 為 0 代表全部任務，From/To 為零時間代表不限
type FilterState struct {
	Page   int
	Limit  int
	Status StatusFilter
	JobID  types.JobID
	From   time.Time
	To     time.Time
}

// DefaultFilter 返回第 1 頁、全部狀態與任務的過濾條件
func DefaultFilter(limit int) FilterState {
	return FilterState{Page: 1, Limit: limit}.normalized()
}

// Query 由過濾條件推導出唯一的查詢
func (f FilterState) Query() types.LogQuery {
	q := types.LogQuery{
		Page:  f.Page,
		Limit: f.Limit,
		JobID: f.JobID,
		From:  f.From,
		To:    f.To,
	}
	if f.Status != StatusAll {
		q.Status = types.LogStatus(f.Status)
	}
	return q
}

// Equal 比較兩個過濾條件，時間以時刻比較
func (f FilterState) Equal(o FilterState) bool {
	return f.Page == o.Page && f.sameDimensions(o)
}

// sameDimensions 比較頁碼以外的維度
func (f FilterState) sameDimensions(o FilterState) bool {
	return f.Limit == o.Limit &&
		f.Status == o.Status &&
		f.JobID == o.JobID &&
		f.From.Equal(o.From) &&
		f.To.Equal(o.To)
}

func (f FilterState) normalized() FilterState {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Status == "" {
		f.Status = StatusAll
	}
	if f.JobID < 0 {
		f.JobID = 0
	}
	if !f.From.IsZero() {
		f.From = f.From.UTC()
	}
	if !f.To.IsZero() {
		f.To = f.To.UTC()
	}
	return f
}

// PageCount 依總筆數與每頁筆數計算頁數
func PageCount(total, limit int) int {
	if limit < 1 || total < 1 {
		return 0
	}
	return (total + limit - 1) / limit
}

// CarryDate 以 date 的年月日搭配 prev 的時與分組成新時刻
// prev 為零時間時使用 now 的時與分；秒數歸零，結果為 UTC
func CarryDate(date, prev, now time.Time) time.Time {
	clock := prev
	if clock.IsZero() {
		clock = now
	}
	clock = clock.UTC()
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, time.UTC)
}

// WithClock 保留 t 的日期，改為指定的時與分
func WithClock(t time.Time, hour, minute int) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
}

// ParseClock 解析 "HH:MM"
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseDate 解析 "2006-01-02"
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
