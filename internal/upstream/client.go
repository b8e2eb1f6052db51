package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Client 是共享的上游客户端，实现 worker.Fetcher。
type Client struct {
	http           *http.Client
	logger         *logrus.Logger
	maxRetries     int
	initialBackoff time.Duration
}

// NewClient 根据全局配置构造客户端；http2 连接配置 ReadIdleTimeout 健康检查。
func NewClient(cfg config.GlobalConfig, logger *logrus.Logger) (*Client, error) {
	timeout := 30 * time.Second
	if cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}
	initial := time.Second
	if cfg.InitialBackoff.DurationValue() > 0 {
		initial = cfg.InitialBackoff.DurationValue()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	transport := defaultTransport.Clone()
	h2, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger:         logger,
		maxRetries:     max(cfg.MaxRetries, 0),
		initialBackoff: initial,
	}, nil
}

// HTTPClient 暴露底层 http.Client，便于测试替换 Transport。
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Fetch 发送请求并一次性读取完整正文。GET/HEAD 的传输错误按指数退避重试，
// 其它方法只尝试一次；HTTP 状态码从不触发重试。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("upstream: nil request")
	}
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead
	tries := uint(1)
	if idempotent {
		tries += uint(c.maxRetries)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff

	attempt := 0
	operation := func() (*cache.Response, error) {
		attempt++
		resp, err := c.roundTrip(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !idempotent {
			return nil, backoff.Permanent(err)
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "upstream_retry",
			"target":  req.URL.String(),
			"attempt": attempt,
		}).Debug("upstream_attempt_failed")
		return nil, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req *http.Request) (*cache.Response, error) {
	outbound := req.Clone(ctx)
	outbound.RequestURI = ""
	outbound.Host = ""
	outbound.Header = make(http.Header, len(req.Header))
	CopyHeaders(outbound.Header, req.Header)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		outbound.Body = body
	}

	resp, err := c.http.Do(outbound)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		URL:    resp.Request.URL.String(),
	}, nil
}
