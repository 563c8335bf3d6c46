package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"Mopro-Bridge/internal/bridge"
	"Mopro-Bridge/internal/proofs/prooftest"
	"Mopro-Bridge/internal/transport"
)

type fakeRedis struct {
	mu    sync.Mutex
	lists map[string][]string
	ttl   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{lists: make(map[string][]string), ttl: make(map[string]time.Duration)}
}

func (f *fakeRedis) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		for _, key := range keys {
			list := f.lists[key]
			if n := len(list); n > 0 {
				v := list[n-1]
				f.lists[key] = list[:n-1]
				f.mu.Unlock()
				return redis.NewStringSliceResult([]string{key, v}, nil)
			}
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return redis.NewStringSliceResult(nil, redis.Nil)
		}
		select {
		case <-ctx.Done():
			return redis.NewStringSliceResult(nil, ctx.Err())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		var s string
		switch t := v.(type) {
		case []byte:
			s = string(t)
		default:
			s = fmt.Sprint(t)
		}
		f.lists[key] = append([]string{s}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) length(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists[key])
}

func newBridge(t *testing.T, engine *prooftest.Engine) *bridge.Bridge {
	t.Helper()
	pool := bridge.NewPool(2, 8)
	t.Cleanup(pool.Close)
	dispatcher := bridge.NewDispatcher(engine, bridge.StaticPlatform{Name: "Linux 6.1", Dir: "/docs"})
	return bridge.New(dispatcher, pool, nil)
}

func TestServeRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	srv := newServer(fake, Config{BlockTimeout: 20 * time.Millisecond, Consumers: 2, ReplyTTL: time.Minute}, newBridge(t, &prooftest.Engine{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := srv.Call(context.Background(), transport.Envelope{ID: "r-1", Method: "getPlatformVersion"}, 2*time.Second)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if resp.ID != "r-1" || resp.Status != bridge.StatusSuccess || resp.Result != "Linux 6.1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	fake.mu.Lock()
	ttl := fake.ttl[ReplyKey("mopro:replies", "r-1")]
	fake.mu.Unlock()
	if ttl != time.Minute {
		t.Fatalf("reply key should expire after a minute, got %s", ttl)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected serve error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop after cancel")
	}
}

func TestHandleWithoutIDDropsReply(t *testing.T) {
	fake := newFakeRedis()
	srv := newServer(fake, Config{}, newBridge(t, &prooftest.Engine{}))

	srv.handle(context.Background(), []byte(`{"method":"generateEphemeralKey"}`))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.lists) != 0 {
		t.Fatalf("no reply should be written without an id: %+v", fake.lists)
	}
}

func TestHandleMalformedStillReplies(t *testing.T) {
	fake := newFakeRedis()
	srv := newServer(fake, Config{}, newBridge(t, &prooftest.Engine{}))

	srv.handle(context.Background(), []byte(`{"id":"r-9","method":"proveJwt","arguments":"oops"}`))
	if fake.length(ReplyKey("mopro:replies", "r-9")) != 1 {
		t.Fatalf("malformed request should still receive one reply")
	}
}

func TestCallRequiresID(t *testing.T) {
	srv := newServer(newFakeRedis(), Config{}, nil)
	if _, err := srv.Call(context.Background(), transport.Envelope{Method: "getPlatformVersion"}, time.Second); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestHandleCompletesAfterShutdownBegins(t *testing.T) {
	fake := newFakeRedis()
	srv := newServer(fake, Config{}, newBridge(t, &prooftest.Engine{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.handle(ctx, []byte(`{"id":"r-10","method":"getPlatformVersion"}`))

	fake.mu.Lock()
	replies := fake.lists[ReplyKey("mopro:replies", "r-10")]
	fake.mu.Unlock()
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(replies))
	}
	var resp transport.Response
	if err := json.Unmarshal([]byte(replies[0]), &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if resp.Status != bridge.StatusSuccess || resp.Result != "Linux 6.1" {
		t.Fatalf("dequeued call should still run: %+v", resp)
	}
}
