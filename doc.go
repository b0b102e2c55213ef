// Package mcp implements the session and dispatch core of a Model Context
// Protocol (MCP) server runtime: a transport-agnostic engine that accepts
// JSON-RPC 2.0 messages, carries each client through the protocol's
// initialization handshake, routes requests and notifications to a
// pluggable Handler, and streams responses and server-originated events
// back over whichever transport the client is using. The supported
// protocol version is 2024-11-05.
//
// # Core Architecture
//
// A Registry tracks live Sessions by session ID and monitors the liveness
// of each session's owner (the transport-side connection that will
// eventually terminate). A Dispatcher enforces protocol ordering — no
// method but initialize and notifications/initialized may run before a
// session finishes its handshake — and turns Handler results into
// JSON-RPC response or error envelopes. A Manager binds one goroutine to
// each session that takes inbound messages in arrival order; requests after
// initialize run concurrently, but their responses are written strictly in
// arrival order.
//
// # Transports
//
// Two transport adapters drive the same Dispatcher over very different
// wire models:
//
// The SSE adapter accepts a GET to open a Server-Sent Events stream and a
// POST per JSON-RPC request; the stream is the only place responses are
// delivered, and the POST is an upload channel answered with a bare
// acknowledgement, or with an error body when the message cannot be
// accepted or its response cannot be delivered.
//
// The stdio adapter reads and writes Content-Length-prefixed JSON frames
// (LSP-style) over an io.Reader/io.Writer pair, in-band, one JSON-RPC
// object per frame.
//
// # Handler Contract
//
// Handler is the single interface a server implementation satisfies. It
// is polymorphic over every MCP capability (tools, resources, prompts,
// completion, sampling, roots, logging); BaseHandler supplies a default for
// each one (method-not-found for most) so a concrete handler can embed it
// and override only what it implements.
package mcp
