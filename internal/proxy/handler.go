package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/host"
	"github.com/cervello/swcache/internal/logging"
	"github.com/cervello/swcache/internal/server"
	"github.com/cervello/swcache/internal/upstream"
	"github.com/cervello/swcache/internal/worker"
)

// 响应头：标记来源与处理版本。
const (
	HeaderSource  = "X-Swcache-Source"
	HeaderVersion = "X-Swcache-Version"
)

const sourcePassthrough = "passthrough"

// Dispatcher 由 host.Host 实现。
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID string, req *http.Request) (*worker.FetchEvent, error)
	Passthrough(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// Handler 把 fiber 请求转换为 fetch 事件交给宿主，再把结果写回客户端。
type Handler struct {
	host   Dispatcher
	logger *logrus.Logger
}

// NewHandler 构造 fetch handler。
func NewHandler(dispatcher Dispatcher, logger *logrus.Logger) *Handler {
	return &Handler{host: dispatcher, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.Route) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target := route.Resolve(string(c.Request().URI().Path()), string(c.Request().URI().QueryString()))
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	req.Header = fiberHeadersAsHTTP(c)
	// 交给 Transport 自动协商 gzip，缓存中保存解压后的正文。
	req.Header.Del("Accept-Encoding")

	fe, err := h.host.Dispatch(ctx, server.ClientID(c), req)
	if errors.Is(err, host.ErrNoController) || (err == nil && !fe.Handled()) {
		return h.passthrough(c, req, requestID, started)
	}
	if err != nil {
		return h.renderFailure(c, req, requestID, "", started, err)
	}

	resp, source, fetchErr := fe.Response()
	fields := logging.FetchFields(fe.Version, string(fe.Class), req.URL.String(), string(source), source == worker.SourceCache)
	if fetchErr != nil {
		return h.renderFailure(c, req, requestID, fe.Version, started, fetchErr)
	}
	return h.write(c, resp, string(source), fe.Version, requestID, fields, started)
}

func (h *Handler) passthrough(c fiber.Ctx, req *http.Request, requestID string, started time.Time) error {
	resp, err := h.host.Passthrough(req.Context(), req)
	if err != nil {
		return h.renderFailure(c, req, requestID, "", started, err)
	}
	fields := logging.FetchFields("", "", req.URL.String(), sourcePassthrough, false)
	return h.write(c, resp, sourcePassthrough, "", requestID, fields, started)
}

func (h *Handler) write(c fiber.Ctx, resp *cache.Response, source, version, requestID string, fields logrus.Fields, started time.Time) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderSource, source)
	if version != "" {
		c.Set(HeaderVersion, version)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	fields["method"] = c.Method()
	fields["status"] = resp.Status
	fields["bytes"] = resp.Size()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Info("fetch_complete")

	return c.Send(resp.Body)
}

// renderFailure 输出与一次未缓存网络失败等价的 502。
func (h *Handler) renderFailure(c fiber.Ctx, req *http.Request, requestID, version string, started time.Time, err error) error {
	fields := logrus.Fields{
		"action":     "fetch",
		"target":     req.URL.String(),
		"method":     req.Method,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if version != "" {
		fields["version"] = version
		c.Set(HeaderVersion, version)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithError(err).WithFields(fields).Warn("fetch_failed")

	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	header.Del("Host")
	header.Del("Content-Length")
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if upstream.IsHopByHopHeader(key) {
			continue
		}
		// Set-Cookie 会覆盖客户端标识 cookie，且不应随缓存重放给其他页面。
		switch http.CanonicalHeaderKey(key) {
		case "Content-Length", "Set-Cookie":
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
