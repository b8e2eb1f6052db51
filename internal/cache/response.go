package cache

import (
	"net/http"
	"time"
)

// StatusSuccess 是唯一允许持久化的状态码，必须精确匹配。
const StatusSuccess = http.StatusOK

// Response 是一次抓取得到的完整响应。Body 只读一次的语义通过 Clone 保证：
// 同时需要返回与写入时，调用方必须各自持有一份副本。
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	URL      string      `json:"url"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 深拷贝 Header 与 Body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// OK 表示状态码精确等于 StatusSuccess。
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Size 返回正文字节数。
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Body))
}

// EmptyResponse 构造 200 空正文响应，用于统计类请求的失败兜底。
func EmptyResponse() *Response {
	return &Response{Status: StatusSuccess, Header: http.Header{}}
}
