package worker

import (
	"net/http"
	"testing"
)

func TestIsNavigation(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		headers map[string]string
		want    bool
	}{
		{"fetch metadata navigate", http.MethodGet, map[string]string{"Sec-Fetch-Mode": "navigate"}, true},
		{"fetch metadata document", http.MethodGet, map[string]string{"Sec-Fetch-Dest": "document"}, true},
		{"fetch metadata script", http.MethodGet, map[string]string{"Sec-Fetch-Mode": "no-cors", "Sec-Fetch-Dest": "script", "Accept": "text/html"}, false},
		{"accept html fallback", http.MethodGet, map[string]string{"Accept": "text/html,application/xhtml+xml"}, true},
		{"accept json", http.MethodGet, map[string]string{"Accept": "application/json"}, false},
		{"post html", http.MethodPost, map[string]string{"Accept": "text/html"}, false},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, "https://cervello.me/page", nil)
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := IsNavigation(req); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if IsNavigation(nil) {
		t.Fatalf("nil request is not a navigation")
	}
}
