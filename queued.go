package caprpc

import (
	"sync"

	"github.com/joeycumines/go-caprpc/internal/future"
)

// NewPromiseClient returns a Client that queues calls until resolution
// settles it onto a concrete hook (§4.3). hookFuture must settle with a
// ClientHook (or be rejected, in which case the QueuedClient and everything
// forwarded through it resolves broken).
func NewPromiseClient(hookFuture *future.Future, opts ...Option) Client {
	return Client{hook: newQueuedClient(hookFuture, resolveOptions(opts))}
}

// QueuedClient is the ClientHook behind a capability that hasn't resolved
// to a concrete hook yet: it queues calls in arrival order and forwards
// each once resolution completes.
//
// It forks the same resolution future into exactly three independent
// branches, registered in this fixed order — never reorder them:
//
//  1. selfResolutionOp: fire-and-forget, records the resolved hook so
//     GetResolved can answer synchronously afterward.
//  2. callForwarding: every queued call forwards through this branch.
//     It must settle before clientResolution so that calls queued before
//     resolution are delivered ahead of anything a whenMoreResolved()
//     handler does in response to the resolution itself.
//  3. clientResolution: what WhenMoreResolved hands callers. It must
//     settle after callForwarding (previously-queued calls already
//     forwarded) but before any of those queued calls actually return —
//     otherwise a caller could see its capability resolve before calls it
//     made against the unresolved promise complete, which would be
//     confusing. The forwarding branch's own dispatch defers by at least
//     one loop turn (LocalClient.Call's future.Defer hop), which is what
//     guarantees this ordering holds.
//
// Because internal/future's Then is itself FIFO per settling future, this
// fixed registration order is the entire mechanism — no separate queue
// data structure is needed.
type QueuedClient struct {
	mu       sync.Mutex
	redirect ClientHook
	cfg      *config

	callForwarding   *future.Future
	clientResolution *future.Future
}

func newQueuedClient(promise *future.Future, cfg *config) *QueuedClient {
	qc := &QueuedClient{cfg: cfg}
	promise.Then(func(v any) (any, error) {
		qc.mu.Lock()
		qc.redirect, _ = v.(ClientHook)
		qc.mu.Unlock()
		return nil, nil
	}, func(err error) (any, error) {
		qc.mu.Lock()
		qc.redirect = newBrokenClientHook(err)
		qc.mu.Unlock()
		return nil, err
	})
	qc.callForwarding = promise.Then(passthrough, nil)
	qc.clientResolution = promise.Then(passthrough, nil)
	return qc
}

func passthrough(v any) (any, error) { return v, nil }

func (qc *QueuedClient) NewCall(interfaceID uint64, methodID uint16) (*Struct, RequestHook) {
	return newLocalRequest(qc, interfaceID, methodID)
}

func (qc *QueuedClient) Call(interfaceID uint64, methodID uint16, ctxHook CallContextHook) RemoteCall {
	qc.cfg.logDebug("queued call", "interfaceID", interfaceID, "methodID", uint64(methodID))

	result := qc.callForwarding.Then(func(v any) (any, error) {
		hook, ok := v.(ClientHook)
		if !ok {
			hook = newBrokenClientHook(nil)
		}
		return hook.Call(interfaceID, methodID, ctxHook), nil
	}, nil)

	pipelineBranch := result.Then(func(v any) (any, error) {
		return v.(RemoteCall).Pipeline.hook, nil
	}, nil)

	completionBranch := result.Then(func(v any) (any, error) {
		return v.(RemoteCall).Completion, nil
	}, nil)

	return RemoteCall{
		Completion: completionBranch,
		Pipeline:   NewPipeline(newQueuedPipeline(pipelineBranch, qc.cfg)),
	}
}

func (qc *QueuedClient) GetResolved() (ClientHook, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.redirect == nil {
		return nil, false
	}
	return qc.redirect, true
}

func (qc *QueuedClient) WhenMoreResolved() (*future.Future, bool) {
	return qc.clientResolution, true
}

func (qc *QueuedClient) AddRef() ClientHook { return qc }

func (qc *QueuedClient) Brand() any { return nil }

// QueuedPipeline is the PipelineHook counterpart to QueuedClient: it queues
// GetPipelinedCap requests against a not-yet-resolved PipelineHook and
// forwards each as soon as resolution settles.
type QueuedPipeline struct {
	mu       sync.Mutex
	redirect PipelineHook
	cfg      *config

	promise *future.Future
}

func newQueuedPipeline(promise *future.Future, cfg *config) *QueuedPipeline {
	qp := &QueuedPipeline{promise: promise, cfg: cfg}
	promise.Then(func(v any) (any, error) {
		qp.mu.Lock()
		qp.redirect, _ = v.(PipelineHook)
		qp.mu.Unlock()
		return nil, nil
	}, func(err error) (any, error) {
		qp.mu.Lock()
		qp.redirect = &brokenPipeline{cause: err}
		qp.mu.Unlock()
		return nil, err
	})
	return qp
}

func (qp *QueuedPipeline) AddRef() PipelineHook { return qp }

func (qp *QueuedPipeline) GetPipelinedCap(ops []PipelineOp) ClientHook {
	qp.mu.Lock()
	redirect := qp.redirect
	qp.mu.Unlock()
	if redirect != nil {
		return redirect.GetPipelinedCap(ops)
	}

	opsCopy := append([]PipelineOp(nil), ops...)
	clientPromise := qp.promise.Then(func(v any) (any, error) {
		hook, ok := v.(PipelineHook)
		if !ok {
			return nil, &BrokenCapabilityError{}
		}
		return hook.GetPipelinedCap(opsCopy), nil
	}, nil)
	return newQueuedClient(clientPromise, qp.cfg)
}
