// Package future provides the single-consumer Future primitive the
// capability runtime is built on, plus the handful of combinators
// (Then-as-fork, ExclusiveJoin, Defer, Daemonize) it needs from a host
// event loop.
//
// The resolve/reject/handler-queue machinery below is modeled on
// eventloop.ChainedPromise (github.com/joeycumines/go-eventloop), trimmed
// of that type's JS-microtask scheduling and unhandled-rejection tracking,
// neither of which has a place in a transport-agnostic capability runtime.
// Ordering is still FIFO: handlers registered on a pending Future fire, in
// registration order, at the moment it settles; handlers registered after
// settlement fire immediately, also in call order. That's precisely the
// ordering [capnp's ForkedPromise.addBranch] provides, which is why this
// package has no separate Fork type — repeated calls to Then are the fork.
package future

import (
	"fmt"
	"runtime"
	"sync"
)

// Loop defers execution of a task to a subsequent turn of an external event
// loop. It is the only scheduling primitive this package assumes.
//
// This mirrors inprocgrpc's own narrow Loop interface
// (github.com/joeycumines/go-inprocgrpc, internal/options.go): a single
// Submit method, so that any event loop offering one (such as
// *eventloop.Loop from github.com/joeycumines/go-eventloop) can be used
// without this package importing it directly.
type Loop interface {
	// Submit posts fn to run on a subsequent turn of the loop. It returns
	// an error if the loop cannot accept more work (e.g. already shut
	// down).
	Submit(fn func()) error
}

type state int8

const (
	pending state = iota
	fulfilled
	rejected
)

// Resolve fulfills a Future with a value. If value is itself a *Future,
// the target adopts its eventual state instead (promise resolution,
// as in Promise/A+ §2.3.2). Calling Resolve on an already-settled Future
// has no effect.
type Resolve func(value any)

// Reject fails a Future with a reason. Calling Reject on an already-settled
// Future has no effect.
type Reject func(err error)

// handler is one registered continuation, attached via Then.
type handler struct {
	onFulfilled func(any) (any, error)
	onRejected  func(error) (any, error)
	target      *Future
}

// Future is a single-consumer placeholder for a value that will become
// available later, possibly with a failure instead. Use [New] to create
// one along with its resolver functions, or [Resolved]/[Rejected] for an
// already-settled Future.
//
// Future is safe for concurrent Resolve/Reject/Then calls from any
// goroutine.
type Future struct {
	mu       sync.Mutex
	st       state
	value    any
	err      error
	handlers []handler
}

// New creates a pending Future along with the functions that settle it.
func New() (*Future, Resolve, Reject) {
	f := &Future{}
	return f, f.resolve, f.reject
}

// Resolved returns a Future already fulfilled with value.
func Resolved(value any) *Future {
	return &Future{st: fulfilled, value: value}
}

// Rejected returns a Future already rejected with err.
func Rejected(err error) *Future {
	return &Future{st: rejected, err: err}
}

func (f *Future) resolve(value any) {
	if v, ok := value.(*Future); ok {
		v.Then(
			func(val any) (any, error) { f.resolve(val); return nil, nil },
			func(err error) (any, error) { f.reject(err); return nil, nil },
		)
		return
	}

	f.mu.Lock()
	if f.st != pending {
		f.mu.Unlock()
		return
	}
	f.st = fulfilled
	f.value = value
	hs := f.handlers
	f.handlers = nil
	f.mu.Unlock()

	for _, h := range hs {
		invoke(h, fulfilled, value, nil)
	}
}

func (f *Future) reject(err error) {
	f.mu.Lock()
	if f.st != pending {
		f.mu.Unlock()
		return
	}
	f.st = rejected
	f.err = err
	hs := f.handlers
	f.handlers = nil
	f.mu.Unlock()

	for _, h := range hs {
		invoke(h, rejected, nil, err)
	}
}

// invoke runs one handler's reaction and propagates the outcome to its
// target, recovering a panicking handler into a rejection (matching
// eventloop.ChainedPromise.executeHandler's panic-protection).
func invoke(h handler, st state, value any, err error) {
	if h.target == nil && h.onFulfilled == nil && h.onRejected == nil {
		return
	}

	var result any
	var resultErr error
	ran := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				resultErr = fmt.Errorf("future: handler panicked: %v", r)
			}
		}()
		switch {
		case st == fulfilled && h.onFulfilled != nil:
			ran = true
			result, resultErr = h.onFulfilled(value)
		case st == rejected && h.onRejected != nil:
			ran = true
			result, resultErr = h.onRejected(err)
		}
	}()

	if h.target == nil {
		return
	}
	if ran {
		if resultErr != nil {
			h.target.reject(resultErr)
		} else {
			h.target.resolve(result)
		}
		return
	}
	// Pass-through: no handler for this branch, propagate original state.
	if st == fulfilled {
		h.target.resolve(value)
	} else {
		h.target.reject(err)
	}
}

// Then registers fulfillment/rejection continuations and returns a child
// Future settling with their outcome.
//
// Calling Then more than once on the same Future is this package's
// equivalent of forking a promise and adding branches: every registered
// handler sees the same settlement, in the order Then was called.
func (f *Future) Then(onFulfilled func(any) (any, error), onRejected func(error) (any, error)) *Future {
	child := &Future{}
	h := handler{onFulfilled: onFulfilled, onRejected: onRejected, target: child}

	f.mu.Lock()
	switch f.st {
	case pending:
		f.handlers = append(f.handlers, h)
		f.mu.Unlock()
	case fulfilled:
		value := f.value
		f.mu.Unlock()
		invoke(h, fulfilled, value, nil)
	default: // rejected
		err := f.err
		f.mu.Unlock()
		invoke(h, rejected, nil, err)
	}
	return child
}

// Attach binds v's lifetime to f: v is kept reachable (via runtime.KeepAlive)
// until f settles, then released. Returns a child Future carrying the same
// outcome as f. This is the Go analogue of kj::Promise::attach, used to keep
// a capability or call context alive for exactly as long as a pending call.
func (f *Future) Attach(v any) *Future {
	return f.Then(
		func(value any) (any, error) {
			runtime.KeepAlive(v)
			return value, nil
		},
		func(err error) (any, error) {
			runtime.KeepAlive(v)
			return nil, err
		},
	)
}

// ExclusiveJoin returns a Future that settles with whichever of a or b
// settles first; the other's eventual outcome is discarded. This is the
// take-first-winner combinator; the capability runtime uses it to pick
// between a call's local and tail-call pipelines. The runtime's Send does
// not join a call's completion with a cancel-allowed signal: a dispatch
// that opts into cancellation races its own work against the context's
// Canceled future with ExclusiveJoin itself.
func ExclusiveJoin(a, b *Future) *Future {
	child := &Future{}
	join := func(v any) (any, error) { child.resolve(v); return nil, nil }
	fail := func(err error) (any, error) { child.reject(err); return nil, nil }
	a.Then(join, fail)
	b.Then(join, fail)
	return child
}

// Defer posts thunk to loop and returns a Future settling with its result.
// This is the "defer-to-later"/evalLater primitive §6 requires: scheduling
// a call through Defer, rather than running it synchronously, guarantees
// at least one event-loop turn separates the caller from the callee.
//
// If loop rejects the submission (e.g. it has shut down), the returned
// Future rejects immediately with that error.
func Defer(loop Loop, thunk func() (any, error)) *Future {
	f, resolve, reject := New()
	err := loop.Submit(func() {
		var v any
		var e error
		func() {
			defer func() {
				if r := recover(); r != nil {
					e = fmt.Errorf("future: deferred task panicked: %v", r)
				}
			}()
			v, e = thunk()
		}()
		if e != nil {
			reject(e)
		} else {
			resolve(v)
		}
	})
	if err != nil {
		reject(err)
	}
	return f
}

// Daemonize detaches f so it runs to completion independent of any caller
// holding it, funnelling a rejection into onError (which may be nil, in
// which case the rejection is swallowed silently — matching this runtime's
// default cancellation policy, where dropping interest in a call must not
// itself be observable as an error).
func Daemonize(f *Future, onError func(error)) {
	f.Then(
		func(v any) (any, error) { return nil, nil },
		func(err error) (any, error) {
			if onError != nil {
				onError(err)
			}
			return nil, nil
		},
	)
}
