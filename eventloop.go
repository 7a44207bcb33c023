package caprpc

import "github.com/joeycumines/go-eventloop"

// eventLoopAdapter bridges *eventloop.Loop, the reference event loop this
// package's narrow Loop interface is modeled on, to that interface's single
// Submit(func()) error method, passing each task straight to the loop's own
// Submit; everything else about the loop (microtasks, timers, FD polling)
// is irrelevant to local capability dispatch and stays out of this package
// entirely.
type eventLoopAdapter struct {
	inner *eventloop.Loop
}

// WrapEventLoop adapts loop so it satisfies Loop, for use with
// NewLocalClient.
func WrapEventLoop(loop *eventloop.Loop) Loop {
	return &eventLoopAdapter{inner: loop}
}

func (a *eventLoopAdapter) Submit(fn func()) error {
	return a.inner.Submit(fn)
}
