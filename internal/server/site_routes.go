package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/cervello/swcache/internal/config"
)

// RouteKind 区分站点源站与外部主机。
type RouteKind string

const (
	RouteOrigin   RouteKind = "origin"
	RouteExternal RouteKind = "external"
)

// Route 描述一个可拦截的主机：请求 Host 与其上游基地址。
type Route struct {
	// Host 是规范化后的请求主机名（小写、去端口）。
	Host string
	Kind RouteKind
	// Target 在构造 Routes 时提前解析完成，便于后续请求快速复用。
	Target     *url.URL
	ListenPort int
}

// Routes 提供 Host/Host:port 到 Route 的查询能力，所有主机共享同一个监听端口。
type Routes struct {
	routes  map[string]*Route
	ordered []*Route
}

// NewRoutes 根据配置构建主机映射：Domain 指向 Origin，每个 ExternalHosts 指向
// ExternalScheme://host。调用方应在启动阶段创建一次并复用。
func NewRoutes(cfg *config.Config) (*Routes, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	routes := &Routes{routes: make(map[string]*Route, 1+len(cfg.Site.ExternalHosts))}

	origin, err := url.Parse(cfg.Site.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if err := routes.add(cfg.Site.Domain, RouteOrigin, origin, cfg.Global.ListenPort); err != nil {
		return nil, err
	}

	for _, host := range cfg.Site.ExternalHosts {
		target := &url.URL{Scheme: cfg.Site.ExternalScheme, Host: host}
		if err := routes.add(host, RouteExternal, target, cfg.Global.ListenPort); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func (r *Routes) add(domain string, kind RouteKind, target *url.URL, port int) error {
	normalizedHost := normalizeDomain(domain)
	if normalizedHost == "" {
		return fmt.Errorf("invalid domain %q", domain)
	}
	if _, exists := r.routes[normalizedHost]; exists {
		return fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
	}
	route := &Route{Host: normalizedHost, Kind: kind, Target: target, ListenPort: port}
	r.routes[normalizedHost] = route
	r.ordered = append(r.ordered, route)
	return nil
}

// Lookup 根据 Host 或 Host:port 查找 Route。
func (r *Routes) Lookup(host string) (*Route, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 返回按配置顺序排列的 Route 副本，用于 /-/sw/status 输出。
func (r *Routes) List() []Route {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]Route, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// Resolve 把请求路径与原始查询串拼接到上游基地址上。
func (r *Route) Resolve(path, rawQuery string) *url.URL {
	if path == "" {
		path = "/"
	}
	base := *r.Target
	relative := &url.URL{Path: path, RawQuery: rawQuery}
	if basePath := strings.TrimRight(base.Path, "/"); basePath != "" {
		relative.Path = basePath + path
		base.Path = ""
	}
	return base.ResolveReference(relative)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
