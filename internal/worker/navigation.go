package worker

import (
	"net/http"
	"strings"
)

// IsNavigation 判断请求是否为整页文档加载。优先使用 Fetch Metadata 头，
// 缺失时退化为 GET + Accept 包含 text/html。
func IsNavigation(req *http.Request) bool {
	if req == nil {
		return false
	}
	mode := strings.ToLower(req.Header.Get("Sec-Fetch-Mode"))
	dest := strings.ToLower(req.Header.Get("Sec-Fetch-Dest"))
	if mode != "" || dest != "" {
		return mode == "navigate" || dest == "document"
	}
	return req.Method == http.MethodGet && strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}

func isHTTPURL(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	return scheme == "http" || scheme == "https"
}
