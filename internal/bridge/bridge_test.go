package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "Mopro-Bridge/internal/errors"
	"Mopro-Bridge/internal/proofs"
	"Mopro-Bridge/internal/proofs/prooftest"
)

func TestConcurrentCallsEachDeliverOnce(t *testing.T) {
	engine := &prooftest.Engine{
		Latency: time.Millisecond,
		SignFunc: func(p proofs.SignMessageParams) (string, error) {
			return "signed:" + p.Text, nil
		},
	}
	pool := NewPool(4, 64)
	defer pool.Close()
	loop := NewLoop(16)
	defer loop.Close()
	b := New(NewDispatcher(engine, StaticPlatform{}), pool, loop)

	const n = 64
	var (
		mu       sync.Mutex
		received = make(map[string]int)
		wg       sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		args := validArguments(MethodSignMessage)
		args["text"] = fmt.Sprintf("msg-%d", i)
		b.Handle(context.Background(), Request{Method: MethodSignMessage, Arguments: args}, func(o Outcome) {
			mu.Lock()
			received[o.Result.(string)]++
			mu.Unlock()
			wg.Done()
		})
	}

	waitTimeout(t, &wg, 5*time.Second)
	if len(received) != n {
		t.Fatalf("expected %d distinct results, got %d", n, len(received))
	}
	for k, v := range received {
		if v != 1 {
			t.Fatalf("%s delivered %d times", k, v)
		}
	}
	if engine.SignCalls() != n {
		t.Fatalf("engine should be called %d times, got %d", n, engine.SignCalls())
	}
}

func TestResultsRunOnTheLoop(t *testing.T) {
	pool := NewPool(4, 64)
	defer pool.Close()
	loop := NewLoop(16)
	defer loop.Close()
	b := New(NewDispatcher(&prooftest.Engine{Latency: time.Millisecond}, StaticPlatform{Name: "Linux"}), pool, loop)

	var active, overlap atomic.Int32
	var wg sync.WaitGroup
	const n = 32
	wg.Add(n)
	for i := 0; i < n; i++ {
		b.Handle(context.Background(), Request{Method: MethodGetPlatformVersion}, func(Outcome) {
			if active.Add(1) > 1 {
				overlap.Add(1)
			}
			time.Sleep(100 * time.Microsecond)
			active.Add(-1)
			wg.Done()
		})
	}
	waitTimeout(t, &wg, 5*time.Second)
	if overlap.Load() != 0 {
		t.Fatalf("result callbacks must run serially on the loop")
	}
}

func TestHandleReturnsBeforeEngineFinishes(t *testing.T) {
	release := make(chan struct{})
	engine := &prooftest.Engine{GenerateFunc: func() (string, error) {
		<-release
		return "key", nil
	}}
	pool := NewPool(1, 4)
	defer pool.Close()
	b := New(NewDispatcher(engine, StaticPlatform{}), pool, nil)

	got := make(chan Outcome, 1)
	id := b.Handle(context.Background(), Request{Method: MethodGenerateEphemeralKey}, func(o Outcome) { got <- o })
	if id == "" {
		t.Fatalf("expected a call id")
	}
	select {
	case <-got:
		t.Fatalf("result delivered before the engine returned")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case o := <-got:
		if o.Result != "key" {
			t.Fatalf("unexpected outcome: %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("result never delivered")
	}
}

func TestClosedPoolDeliversBridgeClosed(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Close()
	b := New(NewDispatcher(&prooftest.Engine{}, StaticPlatform{}), pool, nil)

	outcome, err := b.Invoke(context.Background(), Request{Method: MethodGetPlatformVersion})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if outcome.Code() != CodeBridgeClosed {
		t.Fatalf("expected BRIDGE_CLOSED, got %+v", outcome)
	}
}

func TestSaturatedPoolDeliversBridgeBusy(t *testing.T) {
	block := make(chan struct{})
	engine := &prooftest.Engine{GenerateFunc: func() (string, error) {
		<-block
		return "k", nil
	}}
	pool := NewPool(1, 1)
	defer pool.Close()
	defer close(block)
	b := New(NewDispatcher(engine, StaticPlatform{}), pool, nil)

	// 一个占住工作协程，一个占住队列。
	_ = b.Call(context.Background(), Request{Method: MethodGenerateEphemeralKey})
	waitFor(t, func() bool { return engine.GenerateCalls() == 1 })
	_ = b.Call(context.Background(), Request{Method: MethodGenerateEphemeralKey})

	select {
	case o := <-b.Call(context.Background(), Request{Method: MethodGetPlatformVersion}):
		if o.Code() != CodeBridgeBusy {
			t.Fatalf("expected BRIDGE_BUSY, got %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("saturated submit never resolved")
	}
}

func TestLoopCallbackMayIssueFollowUpCalls(t *testing.T) {
	pool := NewPool(1, 1)
	defer pool.Close()
	loop := NewLoop(1)
	defer loop.Close()
	b := New(NewDispatcher(&prooftest.Engine{Latency: time.Millisecond}, StaticPlatform{Name: "Linux"}), pool, loop)

	const followUps = 4
	var (
		mu       sync.Mutex
		statuses []Status
		wg       sync.WaitGroup
	)
	wg.Add(1 + followUps)
	record := func(o Outcome) {
		mu.Lock()
		statuses = append(statuses, o.Status)
		mu.Unlock()
		wg.Done()
	}
	b.Handle(context.Background(), Request{Method: MethodGetPlatformVersion}, func(o Outcome) {
		record(o)
		// 在循环上继续发起调用，不能阻塞循环本身。
		for i := 0; i < followUps; i++ {
			b.Handle(context.Background(), Request{Method: MethodGenerateEphemeralKey}, record)
		}
	})

	waitTimeout(t, &wg, 3*time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 1+followUps {
		t.Fatalf("expected %d outcomes, got %d", 1+followUps, len(statuses))
	}
	if statuses[0] != StatusSuccess {
		t.Fatalf("first call should succeed, got %s", statuses[0])
	}
}

func TestLoopPostNeverBlocksProducers(t *testing.T) {
	loop := NewLoop(1)
	release := make(chan struct{})
	loop.Post(func() { <-release })

	posted := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			loop.Post(func() {})
		}
		close(posted)
	}()
	select {
	case <-posted:
	case <-time.After(2 * time.Second):
		t.Fatalf("Post blocked while the loop was busy")
	}
	close(release)
	loop.Close()
}

func TestPoolSubmitRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1)
	defer pool.Close()
	defer close(block)

	started := make(chan struct{})
	if err := pool.Submit(func() { close(started); <-block }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started
	if err := pool.Submit(func() {}); err != nil {
		t.Fatalf("queue slot should be free: %v", err)
	}
	if err := pool.Submit(func() {}); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
}

func TestInvokeStopsWaitingOnContext(t *testing.T) {
	release := make(chan struct{})
	engine := &prooftest.Engine{GenerateFunc: func() (string, error) {
		<-release
		return "k", nil
	}}
	pool := NewPool(1, 1)
	defer pool.Close()
	defer close(release)
	b := New(NewDispatcher(engine, StaticPlatform{}), pool, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Invoke(ctx, Request{Method: MethodGenerateEphemeralKey}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestUninitializedBridge(t *testing.T) {
	var b Bridge
	o, err := b.Invoke(context.Background(), Request{Method: MethodGetPlatformVersion})
	if err != nil || o.Code() != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %+v %v", o, err)
	}
}

func TestPoolSurvivesPanickingJob(t *testing.T) {
	pool := NewPool(1, 2)
	defer pool.Close()

	if err := pool.Submit(func() { panic("job exploded") }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	done := make(chan struct{})
	if err := pool.Submit(func() { close(done) }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive the panic")
	}
}

func TestLoopPostAfterCloseRunsInline(t *testing.T) {
	loop := NewLoop(1)
	loop.Close()

	ran := false
	loop.Post(func() { ran = true })
	if !ran {
		t.Fatalf("callbacks posted after close must still run")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("timed out waiting for results")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
