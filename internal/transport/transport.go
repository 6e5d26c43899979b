// Package transport implements the three interchangeable IPC
// disciplines the client and filesystem server can be wired together
// with (spec.md §4.7 / §5): synchronous rendezvous, a polled
// shared-memory queue, and signal-plus-shared-memory using
// user-level interrupts. All three present the same synchronous
// Transport.Call contract to internal/appclient; only the delivery
// mechanism underneath differs.
package transport

import "github.com/U-interrupt/sel4service/internal/wire"

// Transport is the client-side contract: submit a request and block
// until the matching response has been produced by the server side.
type Transport interface {
	Call(req *wire.Request) (*wire.Response, error)
}

// Handler fully processes one request and returns its response. Every
// transport's server loop calls this once per delivered request;
// internal/server.Dispatch is the handler used in production.
type Handler func(req *wire.Request) *wire.Response
