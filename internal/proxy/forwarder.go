package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cervello/swcache/internal/server"
)

// Forwarder 根据 Route.Kind 选择 ProxyHandler，未注册的类型回退到默认 handler，
// 并把 handler 内的 panic 转换为 500 响应。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	byKind         map[server.RouteKind]server.ProxyHandler
	logger         *logrus.Logger
}

// NewForwarder 创建 Forwarder，defaultHandler 可以为空（此时未注册类型返回 500）。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		byKind:         make(map[server.RouteKind]server.ProxyHandler),
		logger:         logger,
	}
}

// Register 为某类路由指定专用 handler，只应在启动阶段调用。
func (f *Forwarder) Register(kind server.RouteKind, handler server.ProxyHandler) {
	f.byKind[kind] = handler
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.Route) error {
	requestID := server.RequestID(c)
	handler := f.lookup(route)
	if handler == nil {
		f.logRouteError(route, "route_handler_missing", nil, requestID)
		setRequestIDHeader(c, requestID)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "route_handler_missing"})
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.Route, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logRouteError(route, "route_handler_panic", fmt.Errorf("panic: %v", r), requestID)
			setRequestIDHeader(c, requestID)
			err = c.Status(fiber.StatusInternalServerError).
				JSON(fiber.Map{"error": "route_handler_panic"})
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) lookup(route *server.Route) server.ProxyHandler {
	if route != nil {
		if handler, ok := f.byKind[route.Kind]; ok && handler != nil {
			return handler
		}
	}
	return f.defaultHandler
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logRouteError(route *server.Route, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{"action": "proxy", "error": code}
	if route != nil {
		fields["host"] = route.Host
		fields["route_kind"] = string(route.Kind)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("route handler unavailable")
}
