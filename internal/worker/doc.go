// Package worker implements the resource cache manager: one Manager per
// deployed version, driven by install, activate and fetch events. Every
// handler returns an Event that records the asynchronous obligations it
// spawned; the host must wait for them before the process may stop.
package worker
