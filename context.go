package caprpc

import "github.com/joeycumines/go-caprpc/internal/future"

// CallContextHook is the per-call record a [Server] receives, carrying the
// request, the lazily-allocated response, and the cancellation/tail-call
// protocol (§3, §4.6).
type CallContextHook interface {
	// Params returns the request's root Struct. Fails with a
	// ContractViolationError once ReleaseParams has been called.
	Params() (*Struct, error)

	// ReleaseParams drops the request, freeing it before the call
	// completes. Idempotent.
	ReleaseParams()

	// Results returns the response's root Struct, allocating it on first
	// call; subsequent calls return the same Struct (idempotent).
	// firstSegmentHint is plumbed through for interface fidelity with
	// wire-backed implementations (see SPEC_FULL.md).
	Results(firstSegmentHint int) *Struct

	// TailCall forwards this call's obligation to req's target,
	// returning req's completion. Fails with a ContractViolationError if
	// Results has already been called.
	TailCall(req Request) (*future.Future, error)

	// OnTailCall returns a future that settles with the forwarded
	// pipeline if and when TailCall is used. At most one subscriber is
	// supported; a TailCall with no subscriber silently discards the
	// pipeline it would have delivered (§9 Open Questions).
	OnTailCall() *future.Future

	// AllowAsyncCancellation opts into the cancellation protocol (§4.6).
	// Fails with a ContractViolationError if ReleaseParams has not yet
	// been called.
	AllowAsyncCancellation() error

	// IsCanceled reports whether the caller has dropped interest in this
	// call's result.
	IsCanceled() bool

	// Canceled returns a future that settles once both AllowAsyncCancellation
	// has been called and the caller has canceled, in either order. Unlike
	// IsCanceled (a poll), this lets a Dispatch implementation race its own
	// work against cancellation with future.ExclusiveJoin and actually abort
	// instead of running to completion regardless — the distinguishing
	// behavior the opt-in policy promises over the default one (§4.6). A
	// Dispatch that never calls AllowAsyncCancellation sees this future never
	// settle, which is equivalent to the default policy.
	Canceled() *future.Future

	// AddRef returns a shared-ownership reference to this context.
	AddRef() CallContextHook
}

// CallContext is the public handle a [Server.Dispatch] implementation
// receives, wrapping a CallContextHook.
type CallContext struct {
	hook CallContextHook
}

// NewCallContext wraps a CallContextHook as a CallContext, for use by
// transport layers implementing their own CallContextHook.
func NewCallContext(hook CallContextHook) CallContext { return CallContext{hook: hook} }

func (c CallContext) Params() (*Struct, error) { return c.hook.Params() }

func (c CallContext) ReleaseParams() { c.hook.ReleaseParams() }

func (c CallContext) Results(firstSegmentHint int) *Struct {
	return c.hook.Results(firstSegmentHint)
}

func (c CallContext) TailCall(req Request) (*future.Future, error) {
	return c.hook.TailCall(req)
}

func (c CallContext) AllowAsyncCancellation() error {
	return c.hook.AllowAsyncCancellation()
}

func (c CallContext) IsCanceled() bool { return c.hook.IsCanceled() }

func (c CallContext) Canceled() *future.Future { return c.hook.Canceled() }
