// Package server hosts the Fiber HTTP front of the cache gateway: the request
// middleware chain (request id, client cookie, host lookup) and the route table
// that maps the public site domain and external hosts to their upstream bases.
// The fetch handler itself lives in package proxy and is injected through
// AppOptions so tests can swap it for a recorder.
package server
