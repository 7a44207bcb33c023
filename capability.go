package caprpc

import (
	"github.com/joeycumines/go-caprpc/internal/future"
)

// ClientHook is the uniform internal representation every capability
// reduces to (§4.1). Variants in this module are the local client (wrapping
// a [Server]), the queued client (wrapping a future-of-hook), and the
// broken client (a permanent failure).
type ClientHook interface {
	// NewCall allocates an outbound call, returning a fresh request Struct
	// to fill and a RequestHook that sends it.
	NewCall(interfaceID uint64, methodID uint16) (*Struct, RequestHook)

	// Call performs low-level dispatch given a pre-built context. It must
	// not invoke the eventual server synchronously from within this
	// stack frame.
	Call(interfaceID uint64, methodID uint16, ctx CallContextHook) RemoteCall

	// GetResolved returns the resolution of this hook if it is a promise
	// that has already resolved.
	GetResolved() (ClientHook, bool)

	// WhenMoreResolved returns a future that fires when this hook has
	// progressed one step closer to resolution, or ok=false if this hook
	// is definitively resolved (nothing more will ever change).
	WhenMoreResolved() (f *future.Future, ok bool)

	// AddRef returns a shared-ownership reference to this hook.
	AddRef() ClientHook

	// Brand is an opaque tag transport layers use to detect their own
	// hooks. This module's hooks all return nil.
	Brand() any
}

// RemoteCall is the (completion, pipeline) pair returned by ClientHook.Call:
// the low-level dispatch result, before a response Struct has necessarily
// been forced into existence.
type RemoteCall struct {
	// Completion settles with nil once dispatch has finished, or rejects
	// with the server's error. It does not itself carry the response —
	// see Answer, which forces and carries one.
	Completion *future.Future
	Pipeline   Pipeline
}

// Answer is what an application receives from Request.Send: a RemoteCall
// plus a Cancel function marking the caller's loss of interest in the
// result (§4.6). The original relies on the caller dropping an owned
// promise to signal cancellation; Go has no deterministic destructors, so
// Cancel is this module's explicit analogue — call it instead of just
// letting the Answer go out of scope, which Go gives no reliable way to
// observe.
type Answer struct {
	// Completion settles with the response *Struct on success, or rejects
	// with the server's error.
	Completion *future.Future
	Pipeline   Pipeline
	Cancel     func()
}

// RequestHook is produced by ClientHook.NewCall and sends the request it
// was bound to exactly once.
type RequestHook interface {
	Send() Answer
}

// Server is the application-provided object behind a [LocalClient]. It is
// exclusively owned by exactly one LocalClient.
type Server interface {
	// Dispatch handles one call, returning a future that settles when
	// the call completes. The future resolves with nil on success (the
	// response, if any, is written via ctx.Results) or rejects with the
	// failure to report to the caller.
	Dispatch(interfaceID uint64, methodID uint16, ctx CallContext) *future.Future
}

// Client is an opaque reference to a capability: shared ownership of a
// ClientHook. Multiple Clients may share one hook.
type Client struct {
	hook ClientHook
}

// NewClient wraps an existing ClientHook as a Client.
func NewClient(hook ClientHook) Client { return Client{hook: hook} }

// Hook returns the underlying ClientHook, for use by generated stubs and
// transport layers that need direct access.
func (c Client) Hook() ClientHook { return c.hook }

// IsValid reports whether c wraps a hook at all (the zero Client is not
// valid and behaves like a broken capability if called — see NewCall).
func (c Client) IsValid() bool { return c.hook != nil }

// NewCall allocates an outbound call on this capability.
func (c Client) NewCall(interfaceID uint64, methodID uint16) Request {
	hook := c.hook
	if hook == nil {
		hook = NewBrokenClient(&BrokenCapabilityError{}).hook
	}
	params, reqHook := hook.NewCall(interfaceID, methodID)
	return Request{Params: params, hook: reqHook}
}

// AddRef returns a new Client sharing the same underlying hook.
func (c Client) AddRef() Client {
	if c.hook == nil {
		return Client{}
	}
	return Client{hook: c.hook.AddRef()}
}

// Request is a single-use object carrying a fillable parameter Struct and
// the target client's send operation.
type Request struct {
	// Params is the request's mutable root Struct. Fill it before
	// calling Send.
	Params *Struct

	hook RequestHook
}

// Send dispatches the request. For a request built by a local or queued
// client, calling Send twice panics via that hook's own single-use
// assertion (a contract violation). A request built by a broken client
// has no such check: every Send rejects with the broken client's cause.
func (r Request) Send() Answer {
	return r.hook.Send()
}

// Pipeline wraps a PipelineHook, giving callers a way to extract
// sub-capabilities from a not-yet-arrived response.
type Pipeline struct {
	hook PipelineHook
}

// NewPipeline wraps a PipelineHook as a Pipeline.
func NewPipeline(hook PipelineHook) Pipeline { return Pipeline{hook: hook} }

// GetPipelinedCap extracts a Client for the sub-capability named by ops.
// It never blocks: before the response exists, calls on the returned
// Client are queued and forwarded once it does.
func (p Pipeline) GetPipelinedCap(ops ...PipelineOp) Client {
	if p.hook == nil {
		return NewBrokenClient(&BrokenCapabilityError{})
	}
	return NewClient(p.hook.GetPipelinedCap(ops))
}

// PipelineHook maps a pipeline-op sequence to a ClientHook representing the
// eventual sub-capability.
type PipelineHook interface {
	AddRef() PipelineHook
	GetPipelinedCap(ops []PipelineOp) ClientHook
}

// brokenClient carries a permanent failure; every operation returns it.
type brokenClient struct {
	cause error
}

// NewBrokenClient returns a Client whose every operation fails with cause
// (wrapped in a [BrokenCapabilityError] if it isn't already one).
func NewBrokenClient(cause error) Client {
	if cause == nil {
		cause = &BrokenCapabilityError{}
	}
	if _, ok := cause.(*BrokenCapabilityError); !ok {
		cause = &BrokenCapabilityError{Cause: cause}
	}
	return Client{hook: &brokenClient{cause: cause}}
}

// newBrokenClientHook is the ClientHook-returning counterpart, used
// internally (e.g. by getPipelinedCap) where a bare hook is needed.
func newBrokenClientHook(cause error) ClientHook {
	return NewBrokenClient(cause).hook
}

func (b *brokenClient) NewCall(interfaceID uint64, methodID uint16) (*Struct, RequestHook) {
	// §SUPPLEMENTED FEATURES 2: a broken client's newCall still returns a
	// usable request object bound to it, so callers never need a nil
	// check before Send; only Send's result carries the failure.
	return NewStruct(0), &brokenRequest{cause: b.cause}
}

func (b *brokenClient) Call(uint64, uint16, CallContextHook) RemoteCall {
	return RemoteCall{
		Completion: future.Rejected(b.cause),
		Pipeline:   NewPipeline(&brokenPipeline{cause: b.cause}),
	}
}

func (b *brokenClient) GetResolved() (ClientHook, bool) { return nil, false }

func (b *brokenClient) WhenMoreResolved() (*future.Future, bool) { return nil, false }

func (b *brokenClient) AddRef() ClientHook { return b }

func (b *brokenClient) Brand() any { return nil }

type brokenRequest struct {
	cause error
}

func (r *brokenRequest) Send() Answer {
	return Answer{
		Completion: future.Rejected(r.cause),
		Pipeline:   NewPipeline(&brokenPipeline{cause: r.cause}),
		Cancel:     func() {},
	}
}

type brokenPipeline struct {
	cause error
}

func (p *brokenPipeline) AddRef() PipelineHook { return p }

func (p *brokenPipeline) GetPipelinedCap(ops []PipelineOp) ClientHook {
	return newBrokenClientHook(p.cause)
}

// WhenResolved chains WhenMoreResolved transitively until it returns none,
// settling once the hook is as resolved as it will ever be.
func WhenResolved(hook ClientHook) *future.Future {
	more, ok := hook.WhenMoreResolved()
	if !ok {
		return future.Resolved(nil)
	}
	return more.Then(func(v any) (any, error) {
		resolved := v.(ClientHook)
		return WhenResolved(resolved), nil
	}, nil)
}
