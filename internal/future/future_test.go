package future

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThenFulfill(t *testing.T) {
	f, resolve, _ := New()
	child := f.Then(
		func(v any) (any, error) { return v.(int) + 1, nil },
		nil,
	)
	resolve(41)

	got, _, settled := drain(t, child)
	require.True(t, settled)
	assert.Equal(t, 42, got)
}

func TestThenReject(t *testing.T) {
	f, _, reject := New()
	boom := errors.New("boom")
	child := f.Then(nil, nil)
	reject(boom)

	_, err, settled := drain(t, child)
	require.True(t, settled)
	assert.Equal(t, boom, err)
}

func TestThenLateRegistrationFiresImmediately(t *testing.T) {
	f, resolve, _ := New()
	resolve("already done")

	got, _, settled := drain(t, f.Then(func(v any) (any, error) { return v, nil }, nil))
	require.True(t, settled)
	assert.Equal(t, "already done", got)
}

func TestThenOrderingMatchesForkAddBranchOrder(t *testing.T) {
	f, resolve, _ := New()

	var mu sync.Mutex
	var order []int
	const branches = 5
	for i := 0; i < branches; i++ {
		i := i
		f.Then(func(v any) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}, nil)
	}

	resolve(nil)

	require.Len(t, order, branches)
	for i, v := range order {
		assert.Equal(t, i, v, "branches must fire in addition order")
	}
}

func TestResolveAdoptsNestedFuture(t *testing.T) {
	inner, innerResolve, _ := New()
	outer, outerResolve, _ := New()
	outerResolve(inner)

	got, _, settled := drain(t, outer.Then(func(v any) (any, error) { return v, nil }, nil))
	assert.False(t, settled, "outer should still be pending until inner settles")

	innerResolve("value")
	got, _, settled = drain(t, outer.Then(func(v any) (any, error) { return v, nil }, nil))
	require.True(t, settled)
	assert.Equal(t, "value", got)
}

func TestHandlerPanicRejectsChild(t *testing.T) {
	f, resolve, _ := New()
	child := f.Then(func(v any) (any, error) { panic("kaboom") }, nil)
	resolve(1)

	_, err, settled := drain(t, child)
	require.True(t, settled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestResolveAndRejectAreOnceOnly(t *testing.T) {
	f, resolve, reject := New()
	resolve("first")
	resolve("second")
	reject(errors.New("ignored"))

	got, err, settled := drain(t, f.Then(func(v any) (any, error) { return v, nil }, nil))
	require.True(t, settled)
	assert.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestAttachKeepsValueReachableUntilSettle(t *testing.T) {
	type sentinel struct{ closed bool }
	s := &sentinel{}

	f, resolve, _ := New()
	attached := f.Attach(s)
	resolve("done")

	got, _, settled := drain(t, attached)
	require.True(t, settled)
	assert.Equal(t, "done", got)
	assert.False(t, s.closed)
}

func TestExclusiveJoinFirstWins(t *testing.T) {
	a, resolveA, _ := New()
	b, _, rejectB := New()

	joined := ExclusiveJoin(a, b)
	resolveA("a wins")
	rejectB(errors.New("too late"))

	got, err, settled := drain(t, joined.Then(func(v any) (any, error) { return v, nil }, nil))
	require.True(t, settled)
	assert.NoError(t, err)
	assert.Equal(t, "a wins", got)
}

func TestExclusiveJoinRejectionWins(t *testing.T) {
	a, _, rejectA := New()
	b, resolveB, _ := New()

	joined := ExclusiveJoin(a, b)
	boom := errors.New("cancel allowed")
	rejectA(boom)
	resolveB("too late")

	_, err, settled := drain(t, joined)
	require.True(t, settled)
	assert.Equal(t, boom, err)
}

type fakeLoop struct {
	mu    sync.Mutex
	tasks []func()
	err   error
}

func (l *fakeLoop) Submit(fn func()) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	return nil
}

func (l *fakeLoop) runAll() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

func TestDeferRunsOnLoop(t *testing.T) {
	loop := &fakeLoop{}
	f := Defer(loop, func() (any, error) { return 7, nil })

	_, _, settled := drain(t, f)
	assert.False(t, settled, "Defer must not settle before the loop runs the task")

	loop.runAll()

	got, _, settled := drain(t, f)
	require.True(t, settled)
	assert.Equal(t, 7, got)
}

func TestDeferSubmitFailureRejectsImmediately(t *testing.T) {
	loop := &fakeLoop{err: errors.New("loop terminated")}
	f := Defer(loop, func() (any, error) { return nil, nil })

	_, err, settled := drain(t, f)
	require.True(t, settled)
	assert.EqualError(t, err, "loop terminated")
}

func TestDeferRecoversPanic(t *testing.T) {
	loop := &fakeLoop{}
	f := Defer(loop, func() (any, error) { panic("nope") })
	loop.runAll()

	_, err, settled := drain(t, f)
	require.True(t, settled)
	assert.Contains(t, err.Error(), "nope")
}

func TestDaemonizeSwallowsErrorWithoutSink(t *testing.T) {
	f, _, reject := New()
	assert.NotPanics(t, func() {
		Daemonize(f, nil)
		reject(errors.New("ignored"))
	})
}

func TestDaemonizeReportsErrorToSink(t *testing.T) {
	f, _, reject := New()
	var got error
	Daemonize(f, func(err error) { got = err })

	boom := errors.New("boom")
	reject(boom)
	assert.Equal(t, boom, got)
}

// drain synchronously inspects a Future's outcome via another Then call;
// since settlement in this package is synchronous with Resolve/Reject,
// a freshly attached handler observes the state immediately if already
// settled, or not at all if still pending.
func drain(t *testing.T, f *Future) (value any, err error, settled bool) {
	t.Helper()
	f.Then(
		func(v any) (any, error) { value, settled = v, true; return v, nil },
		func(e error) (any, error) { err, settled = e, true; return nil, e },
	)
	return
}
