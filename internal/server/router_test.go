package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cervello/swcache/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://cervello.me/index.html", nil)
	req.Host = "cervello.me"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, hostHeader=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Swcache-Host"))
	}

	if app.recorder.lastRoute == nil || app.recorder.lastRoute.Kind != RouteOrigin {
		t.Fatalf("expected origin route, got %+v", app.recorder.lastRoute)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterRoutesExternalHost(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://fonts.gstatic.com:5000/s/roboto.woff2", nil)
	req.Host = "fonts.gstatic.com:5000"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if app.recorder.lastRoute.Kind != RouteExternal || app.recorder.lastRoute.Host != "fonts.gstatic.com" {
		t.Fatalf("expected external route, got %+v", app.recorder.lastRoute)
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/v2/", nil)
	req.Host = "unknown.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
}

func TestRouterIssuesClientCookie(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://cervello.me/", nil)
	req.Host = "cervello.me"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	cookie := findCookie(resp, ClientCookie)
	if cookie == nil || cookie.Value != "client-1" {
		t.Fatalf("expected client cookie to be issued, got %v", resp.Header.Values("Set-Cookie"))
	}
	if app.recorder.clientID != "client-1" {
		t.Fatalf("handler should see the issued client id, got %q", app.recorder.clientID)
	}

	req = httptest.NewRequest("GET", "http://cervello.me/a.js", nil)
	req.Host = "cervello.me"
	req.AddCookie(&http.Cookie{Name: ClientCookie, Value: "client-known"})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if findCookie(resp, ClientCookie) != nil {
		t.Fatalf("valid cookie should not be reissued")
	}
	if app.recorder.clientID != "client-known" {
		t.Fatalf("handler should see the existing client id, got %q", app.recorder.clientID)
	}
}

func TestDiagnosticsPathsSkipHostLookup(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://unknown.local/-/ping", nil)
	req.Host = "unknown.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("diagnostics route should answer on any host, got %d %s", resp.StatusCode, body)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("missing logger should fail")
	}
}

type testApp struct {
	*fiber.App
	recorder *proxyRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	routes, err := NewRoutes(testConfig(port))
	if err != nil {
		t.Fatalf("failed to create routes: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	issued := 0
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Routes:     routes,
		Proxy:      recorder,
		ListenPort: port,
		ClientIDValid: func(id string) bool {
			return strings.HasPrefix(id, "client-")
		},
		NewClientID: func() string {
			issued++
			return "client-" + string(rune('0'+issued))
		},
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: port},
		Site: config.SiteConfig{
			Domain:         "cervello.me",
			Origin:         "https://origin.cervello.me",
			ExternalHosts:  []string{"fonts.gstatic.com", "use.fontawesome.com"},
			ExternalScheme: "https",
		},
	}
}

type proxyRecorder struct {
	lastRoute *Route
	clientID  string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *Route) error {
	p.lastRoute = route
	p.clientID = ClientID(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
