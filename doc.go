// Package caprpc implements the local capability runtime underlying a
// capability-based RPC system: method dispatch on an object reference (a
// "capability"), with promise pipelining so a caller can issue further
// calls against a not-yet-returned result.
//
// # Scope
//
// This package covers the local call path (a method invocation on an
// in-process server object), the queued client and queued pipeline (calls
// buffered against a capability or pipelined result that hasn't resolved
// yet), and the cancellation/tail-call protocol. Wire serialisation,
// network transport, and the event loop's own scheduling internals are
// external collaborators, represented here only as the [Loop] interface
// and the [Struct] message container.
//
// # Capabilities
//
// A [Client] is an opaque handle wrapping a [ClientHook]. [NewLocalClient]
// wraps an in-process [Server]; [NewPromiseClient] wraps a not-yet-resolved
// future of one. Every [Client] exposes [Client.NewCall] to build a
// [Request]; [Client.Hook] exposes the underlying [ClientHook] for
// generated stubs and transport layers that need the low-level
// [ClientHook.Call].
//
// # Pipelining
//
// Sending a request returns an [Answer], pairing a [*future.Future] for the
// response with a [Pipeline]. [Pipeline.GetPipelinedCap] extracts a [Client]
// for a capability embedded in the eventual response, usable immediately —
// calls on it are queued until the response (or a tail call) resolves the
// path.
package caprpc
