package bridge

import (
	"context"

	xerrors "Mopro-Bridge/internal/errors"
)

// ResultFunc 在调用方的执行上下文中接收唯一的结果。
type ResultFunc func(Outcome)

// Bridge 是面向 UI 层的异步入口：总是把工作交给工作池，总是把结果交回调用方。
type Bridge struct {
	dispatcher *Dispatcher
	pool       *Pool
	poster     Poster
}

// New 组装 Bridge。poster 为空时只能使用 Call/Invoke。
func New(dispatcher *Dispatcher, pool *Pool, poster Poster) *Bridge {
	return &Bridge{dispatcher: dispatcher, pool: pool, poster: poster}
}

// Handle 异步处理一次调用，result 通过 poster 在调用方上下文执行。返回调用 ID。
// Handle 从不阻塞，可以在结果回调中再次调用。
func (b *Bridge) Handle(ctx context.Context, req Request, result ResultFunc) string {
	call := newCall(req, func(o Outcome) {
		if result == nil {
			return
		}
		if b.poster == nil {
			result(o)
			return
		}
		b.poster.Post(func() { result(o) })
	})
	b.submit(ctx, call)
	return call.ID
}

// Call 异步处理一次调用，返回只会收到一个结果的 channel。
func (b *Bridge) Call(ctx context.Context, req Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	call := newCall(req, func(o Outcome) { ch <- o })
	b.submit(ctx, call)
	return ch
}

// Invoke 等待调用结果。ctx 结束时停止等待，但已交付的调用仍会执行完毕。
func (b *Bridge) Invoke(ctx context.Context, req Request) (Outcome, error) {
	select {
	case outcome := <-b.Call(ctx, req):
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (b *Bridge) submit(ctx context.Context, call *Call) {
	if b.dispatcher == nil || b.pool == nil {
		call.deliver(FailureOf(xerrors.New(xerrors.CodeInitializationFailure, "bridge not initialized")))
		return
	}
	// 交付后不支持取消，工作协程使用脱离取消信号的上下文。
	jobCtx := context.WithoutCancel(ctx)
	err := b.pool.Submit(func() {
		outcome := FailureOf(xerrors.New(xerrors.CodeUnknown, "dispatch aborted"))
		defer func() { call.deliver(outcome) }()
		outcome = b.dispatcher.Dispatch(jobCtx, call)
	})
	if err != nil {
		call.deliver(b.dispatcher.Reject(jobCtx, call, err))
	}
}
