package caprpc

import (
	"errors"
	"testing"

	"github.com/joeycumines/go-caprpc/internal/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcServer struct {
	fn func(interfaceID uint64, methodID uint16, ctx CallContext) *future.Future
}

func (s *funcServer) Dispatch(interfaceID uint64, methodID uint16, ctx CallContext) *future.Future {
	return s.fn(interfaceID, methodID, ctx)
}

func TestLocalClientDispatchIsDeferred(t *testing.T) {
	loop := &fakeLoop{}
	called := false
	server := &funcServer{fn: func(uint64, uint16, CallContext) *future.Future {
		called = true
		return future.Resolved(nil)
	}}
	client := NewLocalClient(server, loop)

	answer := client.NewCall(1, 1).Send()
	assert.False(t, called, "dispatch must not run within Send's own stack frame")

	loop.run()
	assert.True(t, called)

	_, err, settled := drain(answer.Completion)
	require.True(t, settled)
	require.NoError(t, err)
}

func TestLocalClientReturnsResults(t *testing.T) {
	loop := &fakeLoop{}
	server := &funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		ctx.Results(0).Set("answer", 42)
		return future.Resolved(nil)
	}}
	client := NewLocalClient(server, loop)

	answer := client.NewCall(1, 1).Send()
	loop.run()

	v, err, settled := drain(answer.Completion)
	require.True(t, settled)
	require.NoError(t, err)
	got, ok := v.(*Struct).Get("answer")
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestLocalClientServerError(t *testing.T) {
	loop := &fakeLoop{}
	wantErr := errors.New("boom")
	server := &funcServer{fn: func(uint64, uint16, CallContext) *future.Future {
		return future.Rejected(wantErr)
	}}
	client := NewLocalClient(server, loop)

	answer := client.NewCall(1, 1).Send()
	loop.run()

	_, err, settled := drain(answer.Completion)
	require.True(t, settled)
	assert.ErrorIs(t, err, wantErr)
}

func TestLocalClientParamsLifecycle(t *testing.T) {
	loop := &fakeLoop{}
	var paramsErrAfterRelease error
	server := &funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		p, err := ctx.Params()
		require.NoError(t, err)
		v, _ := p.Get("x")
		assert.Equal(t, "hi", v)
		ctx.ReleaseParams()
		_, paramsErrAfterRelease = ctx.Params()
		return future.Resolved(nil)
	}}
	client := NewLocalClient(server, loop)
	req := client.NewCall(1, 1)
	req.Params.Set("x", "hi")
	answer := req.Send()
	loop.run()

	_, _, settled := drain(answer.Completion)
	require.True(t, settled)
	var cv *ContractViolationError
	assert.ErrorAs(t, paramsErrAfterRelease, &cv)
}

func TestLocalClientPipeliningThroughQueuedClient(t *testing.T) {
	loop := &fakeLoop{}
	inner := NewLocalClient(&funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		ctx.Results(0).Set("value", "inner-result")
		return future.Resolved(nil)
	}}, loop)

	outer := NewLocalClient(&funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		ctx.Results(0).Set("child", inner)
		return future.Resolved(nil)
	}}, loop)

	answer := outer.NewCall(1, 1).Send()

	// Pipeline a call before the outer dispatch has even run.
	childCap := answer.Pipeline.GetPipelinedCap(PipelineOp{Field: "child"})
	childAnswer := childCap.NewCall(2, 2).Send()

	loop.run()

	v, err, settled := drain(childAnswer.Completion)
	require.True(t, settled)
	require.NoError(t, err)
	got, ok := v.(*Struct).Get("value")
	require.True(t, ok)
	assert.Equal(t, "inner-result", got)
}

func TestLocalClientTailCall(t *testing.T) {
	loop := &fakeLoop{}
	target := NewLocalClient(&funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		ctx.Results(0).Set("via", "target")
		return future.Resolved(nil)
	}}, loop)

	front := NewLocalClient(&funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		f, err := ctx.TailCall(target.NewCall(3, 3))
		if err != nil {
			return future.Rejected(err)
		}
		return f
	}}, loop)

	answer := front.NewCall(1, 1).Send()
	loop.run()

	v, err, settled := drain(answer.Completion)
	require.True(t, settled)
	require.NoError(t, err)
	got, ok := v.(*Struct).Get("via")
	require.True(t, ok)
	assert.Equal(t, "target", got)
}

func TestLocalClientCancelDefaultPolicyDoesNotAbortDispatch(t *testing.T) {
	loop := &fakeLoop{}
	ran := false
	var observedCanceled bool
	server := &funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		ran = true
		observedCanceled = ctx.IsCanceled()
		ctx.Results(0).Set("done", true)
		return future.Resolved(nil)
	}}
	client := NewLocalClient(server, loop)

	answer := client.NewCall(1, 1).Send()
	answer.Cancel()
	loop.run()

	assert.True(t, ran, "default policy still runs the call to completion")
	assert.True(t, observedCanceled)

	_, err, settled := drain(answer.Completion)
	require.True(t, settled)
	require.NoError(t, err)
}

func TestLocalClientAllowAsyncCancellationContract(t *testing.T) {
	loop := &fakeLoop{}
	var errBefore, errAfter error
	server := &funcServer{fn: func(uint64, uint16, ctx CallContext) *future.Future {
		errBefore = ctx.AllowAsyncCancellation()
		ctx.ReleaseParams()
		errAfter = ctx.AllowAsyncCancellation()
		return future.Resolved(nil)
	}}
	client := NewLocalClient(server, loop)
	client.NewCall(1, 1).Send()
	loop.run()

	var cv *ContractViolationError
	require.ErrorAs(t, errBefore, &cv)
	assert.NoError(t, errAfter)
}

func TestLocalClientSendTwicePanics(t *testing.T) {
	loop := &fakeLoop{}
	server := &funcServer{fn: func(uint64, uint16, CallContext) *future.Future {
		return future.Resolved(nil)
	}}
	client := NewLocalClient(server, loop)
	req := client.NewCall(1, 1)
	req.Send()
	assert.Panics(t, func() { req.Send() })
}
