package server

import (
	"testing"

	"github.com/cervello/swcache/internal/config"
)

func TestRoutesLookupByHost(t *testing.T) {
	routes, err := NewRoutes(testConfig(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := routes.Lookup("Cervello.ME:5000")
	if !ok {
		t.Fatalf("expected origin route")
	}
	if route.Kind != RouteOrigin || route.Target.String() != "https://origin.cervello.me" {
		t.Fatalf("unexpected origin route: %+v", route)
	}
	if route.ListenPort != 5000 {
		t.Fatalf("listen port not recorded")
	}

	external, ok := routes.Lookup("use.fontawesome.com.")
	if !ok || external.Kind != RouteExternal || external.Target.String() != "https://use.fontawesome.com" {
		t.Fatalf("unexpected external route: %+v", external)
	}

	if _, ok := routes.Lookup("evil.example"); ok {
		t.Fatalf("unknown host must not resolve")
	}
	if len(routes.List()) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(routes.List()))
	}
}

func TestRoutesRejectDuplicateHosts(t *testing.T) {
	cfg := testConfig(5000)
	cfg.Site.ExternalHosts = []string{"fonts.gstatic.com", "FONTS.gstatic.com"}
	if _, err := NewRoutes(cfg); err == nil {
		t.Fatalf("duplicate hosts should be rejected")
	}
}

func TestRouteResolve(t *testing.T) {
	cfg := testConfig(5000)
	cfg.Site.Origin = "https://origin.cervello.me/site"
	routes, err := NewRoutes(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	origin, _ := routes.Lookup("cervello.me")
	if got := origin.Resolve("/index.html", "v=1").String(); got != "https://origin.cervello.me/site/index.html?v=1" {
		t.Fatalf("unexpected resolved url: %s", got)
	}

	external, _ := routes.Lookup("fonts.gstatic.com")
	if got := external.Resolve("/s/roboto.woff2", "").String(); got != "https://fonts.gstatic.com/s/roboto.woff2" {
		t.Fatalf("unexpected resolved url: %s", got)
	}
	if got := external.Resolve("", "").String(); got != "https://fonts.gstatic.com/" {
		t.Fatalf("empty path should resolve to root: %s", got)
	}
}

func TestNewRoutesRequiresConfig(t *testing.T) {
	if _, err := NewRoutes(nil); err == nil {
		t.Fatalf("nil config should fail")
	}
	cfg := &config.Config{}
	if _, err := NewRoutes(cfg); err == nil {
		t.Fatalf("empty domain should fail")
	}
}
