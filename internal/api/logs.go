package api

import (
	"context"
	"net/http"

	"github.com/ChuLiYu/schedctl/pkg/types"
)

// ListLogs GET /logs，查詢條件由 LogQuery 編碼
//
// 與其他呼叫不同，錯誤直接返回給唯一的呼叫者（查詢控制器）處理
func (c *Client) ListLogs(ctx context.Context, q types.LogQuery) (types.LogPage, error) {
	var page types.LogPage
	if err := c.do(ctx, call{
		op:     "list_logs",
		method: http.MethodGet,
		path:   "/logs",
		query:  q.Values(),
		out:    &page,
		auth:   true,
	}); err != nil {
		return types.LogPage{}, err
	}
	if page.Items == nil {
		page.Items = []types.Log{}
	}
	return page, nil
}
