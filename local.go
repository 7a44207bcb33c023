package caprpc

import (
	"sync"

	"github.com/joeycumines/go-caprpc/internal/future"
)

// NewLocalClient wraps server as a Client whose calls dispatch through loop.
// Dispatch is always deferred by at least one loop turn — see LocalClient.Call
// — so a caller and its server never share a synchronous stack frame even
// when both live on the same loop.
func NewLocalClient(server Server, loop Loop, opts ...Option) Client {
	return Client{hook: &LocalClient{server: server, loop: loop, cfg: resolveOptions(opts)}}
}

// LocalClient is the ClientHook behind a capability backed directly by a
// [Server] (§4.2).
type LocalClient struct {
	server Server
	loop   Loop
	cfg    *config
}

func (lc *LocalClient) NewCall(interfaceID uint64, methodID uint16) (*Struct, RequestHook) {
	return newLocalRequest(lc, interfaceID, methodID)
}

// Call dispatches through lc.loop rather than synchronously, for two
// reasons that matter regardless of language: the server may belong to a
// different event loop, and an inline call risks deadlock if the server
// needs a lock the caller already holds. QueuedClient additionally depends
// on this deferral: it guarantees a pipelined call queued against an
// unresolved promise can never race ahead of the whenMoreResolved()
// notification that would have let it forward directly instead.
func (lc *LocalClient) Call(interfaceID uint64, methodID uint16, ctxHook CallContextHook) RemoteCall {
	lc.cfg.logDebug("dispatch", "interfaceID", interfaceID, "methodID", uint64(methodID))

	// Hand the dispatching LocalClient's own configuration down to the
	// context, so a tailCall made from inside Dispatch logs through the
	// same logger dispatch itself used. localCallContext is the only
	// CallContextHook this module produces; a transport-provided hook
	// simply keeps its own logging story.
	if lcc, ok := ctxHook.(*localCallContext); ok {
		lcc.mu.Lock()
		lcc.cfg = lc.cfg
		lcc.mu.Unlock()
	}

	dispatched := future.Defer(lc.loop, func() (any, error) {
		return lc.server.Dispatch(interfaceID, methodID, NewCallContext(ctxHook)), nil
	}).Attach(lc)

	// Two independent branches fork off the dispatch result (repeated
	// Then calls are the fork, see internal/future's package doc): one
	// that becomes the pipeline once results are releasable, and the
	// plain completion signal returned alongside it.
	pipelineBranch := dispatched.Then(func(any) (any, error) {
		ctxHook.ReleaseParams()
		return PipelineHook(newLocalPipeline(ctxHook)), nil
	}, nil)

	// A tail call delivers its own forwarded pipeline through
	// onTailCall(); whichever of the two resolves first wins. After a tail
	// call both resolve — the tail pipeline during dispatch, the local one
	// once the forwarded call completes — so the tail pipeline is kept.
	tailBranch := ctxHook.OnTailCall().Then(func(v any) (any, error) {
		return v, nil
	}, nil)

	pipelineFuture := future.ExclusiveJoin(pipelineBranch, tailBranch)

	completion := dispatched.Then(nil, nil).Attach(ctxHook)

	return RemoteCall{
		Completion: completion,
		Pipeline:   NewPipeline(newQueuedPipeline(pipelineFuture, lc.cfg)),
	}
}

func (lc *LocalClient) GetResolved() (ClientHook, bool) { return nil, false }

func (lc *LocalClient) WhenMoreResolved() (*future.Future, bool) { return nil, false }

func (lc *LocalClient) AddRef() ClientHook { return lc }

func (lc *LocalClient) Brand() any { return nil }

// localRequest is the RequestHook both LocalClient.NewCall and
// QueuedClient.NewCall return: building the outbound request and sending it
// are identical regardless of whether the target hook is resolved yet,
// since both satisfy ClientHook.Call.
type localRequest struct {
	client      ClientHook
	interfaceID uint64
	methodID    uint16
	params      *Struct

	mu   sync.Mutex
	sent bool
}

func newLocalRequest(client ClientHook, interfaceID uint64, methodID uint16) (*Struct, RequestHook) {
	params := NewStruct(0)
	return params, &localRequest{client: client, interfaceID: interfaceID, methodID: methodID, params: params}
}

func (r *localRequest) Send() Answer {
	r.mu.Lock()
	if r.sent {
		r.mu.Unlock()
		panic("caprpc: Send called twice on the same request")
	}
	r.sent = true
	params := r.params
	r.mu.Unlock()

	ctx := newLocalCallContext(params, Client{hook: r.client})

	remote := r.client.Call(r.interfaceID, r.methodID, ctx)

	// Daemonize a branch of the completion so dispatch always runs to
	// completion even if the application drops the Answer without ever
	// reading Completion. This is the default cancellation policy: dropping
	// interest must not itself abort anything. A Dispatch wanting the
	// opt-in behavior races its own work against ctx.Canceled() instead
	// (see localCallContext.Canceled) — Cancel below only ever arranges for
	// that signal to fire, never aborts dispatch directly.
	future.Daemonize(remote.Completion.Then(nil, nil), func(error) {})

	responseBranch := remote.Completion.Then(func(any) (any, error) {
		return ctx.Results(1), nil
	}, nil)

	return Answer{
		Completion: responseBranch,
		Pipeline:   remote.Pipeline,
		Cancel:     ctx.cancel,
	}
}

// localCallContext is the CallContextHook a LocalClient hands its Server on
// every dispatch (§4.6).
type localCallContext struct {
	mu        sync.Mutex
	request   *Struct
	response  *Struct
	clientRef Client // keeps the originating LocalClient reachable for the call's duration
	cfg       *config

	cancelRequested bool
	cancelAllowed   bool
	canceled        *future.Future
	resolveCanceled future.Resolve

	onTailCallRegistered bool
	onTailCallFuture     *future.Future
	onTailCallResolve    future.Resolve
}

func newLocalCallContext(request *Struct, clientRef Client) *localCallContext {
	c := &localCallContext{request: request, clientRef: clientRef}
	c.canceled, c.resolveCanceled, _ = future.New()
	return c
}

// cancel is Answer.Cancel's implementation: it records the caller's loss of
// interest and, if AllowAsyncCancellation has already been called, fires
// Canceled immediately. Safe to call more than once.
func (c *localCallContext) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRequested = true
	if c.cancelAllowed {
		c.resolveCanceled(nil)
	}
}

func (c *localCallContext) Params() (*Struct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request == nil {
		return nil, &ContractViolationError{Message: "getParams called after releaseParams"}
	}
	return c.request, nil
}

func (c *localCallContext) ReleaseParams() {
	c.mu.Lock()
	c.request = nil
	c.mu.Unlock()
}

func (c *localCallContext) Results(firstSegmentHint int) *Struct {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.response == nil {
		c.response = NewStruct(firstSegmentHint)
	}
	return c.response
}

func (c *localCallContext) TailCall(req Request) (*future.Future, error) {
	c.mu.Lock()
	if c.response != nil {
		c.mu.Unlock()
		return nil, &ContractViolationError{Message: "tailCall called after the results struct was initialized"}
	}
	c.mu.Unlock()
	c.ReleaseParams()

	if lr, ok := req.hook.(*localRequest); ok {
		c.mu.Lock()
		cfg := c.cfg
		c.mu.Unlock()
		cfg.logDebug("tail call", "interfaceID", lr.interfaceID, "methodID", uint64(lr.methodID))
	}

	answer := req.Send()

	c.mu.Lock()
	if c.onTailCallRegistered {
		resolve := c.onTailCallResolve
		c.mu.Unlock()
		resolve(answer.Pipeline.hook)
	} else {
		c.mu.Unlock()
	}

	return answer.Completion.Then(func(v any) (any, error) {
		c.mu.Lock()
		c.response = v.(*Struct)
		c.mu.Unlock()
		return nil, nil
	}, nil), nil
}

func (c *localCallContext) OnTailCall() *future.Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.onTailCallRegistered {
		c.onTailCallRegistered = true
		c.onTailCallFuture, c.onTailCallResolve, _ = future.New()
	}
	return c.onTailCallFuture
}

func (c *localCallContext) AllowAsyncCancellation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request != nil {
		return &ContractViolationError{Message: "allowAsyncCancellation called before releaseParams"}
	}
	c.cancelAllowed = true
	if c.cancelRequested {
		c.resolveCanceled(nil)
	}
	return nil
}

func (c *localCallContext) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// Canceled settles only once both AllowAsyncCancellation and Cancel have
// happened, in either order; see CallContextHook.Canceled.
func (c *localCallContext) Canceled() *future.Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

func (c *localCallContext) AddRef() CallContextHook { return c }

// localPipeline is the PipelineHook produced once a LocalClient dispatch's
// results become releasable: it forces allocation of the response Struct
// eagerly (results are read-only from here on) and descends into it on
// demand.
type localPipeline struct {
	ctx     CallContextHook
	results *Struct
}

func newLocalPipeline(ctx CallContextHook) *localPipeline {
	return &localPipeline{ctx: ctx, results: ctx.Results(1)}
}

func (p *localPipeline) AddRef() PipelineHook { return p }

func (p *localPipeline) GetPipelinedCap(ops []PipelineOp) ClientHook {
	return getPipelinedCap(p.results, ops).Hook()
}
