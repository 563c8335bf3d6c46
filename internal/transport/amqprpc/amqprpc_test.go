package amqprpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"Mopro-Bridge/internal/bridge"
	"Mopro-Bridge/internal/proofs/prooftest"
	"Mopro-Bridge/internal/transport"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   string
	prefetch   int
	deliveries chan amqp.Delivery
	published  []amqp.Publishing
	keys       []string
	publishErr error
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.declared = name
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) sent() ([]string, []amqp.Publishing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...), append([]amqp.Publishing(nil), c.published...)
}

type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	rejects int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	return nil
}

func newTestServer(t *testing.T, ch *fakeChannel) *Server {
	t.Helper()
	pool := bridge.NewPool(2, 8)
	t.Cleanup(pool.Close)
	dispatcher := bridge.NewDispatcher(&prooftest.Engine{}, bridge.StaticPlatform{Name: "Linux 6.1", Dir: "/docs"})
	srv, err := newServer(ch, Config{Prefetch: 4, Workers: 2}, bridge.New(dispatcher, pool, nil))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestServeRepliesWithCorrelationID(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
	srv := newTestServer(t, ch)
	if ch.declared != "mopro.calls" || ch.prefetch != 4 {
		t.Fatalf("unexpected setup: queue=%s prefetch=%d", ch.declared, ch.prefetch)
	}

	ack := &fakeAck{}
	ch.deliveries <- amqp.Delivery{
		Acknowledger:  ack,
		ReplyTo:       "amq.gen-reply",
		CorrelationId: "corr-1",
		Body:          []byte(`{"method":"generateEphemeralKey"}`),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, pubs := ch.sent(); len(pubs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reply published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected serve error: %v", err)
	}

	keys, pubs := ch.sent()
	if keys[0] != "amq.gen-reply" || pubs[0].CorrelationId != "corr-1" {
		t.Fatalf("unexpected reply routing: %v %+v", keys, pubs[0])
	}
	var resp transport.Response
	if err := json.Unmarshal(pubs[0].Body, &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if resp.ID != "corr-1" || resp.Status != bridge.StatusSuccess || resp.Result != "ephemeral-key-1" {
		t.Fatalf("unexpected reply: %+v", resp)
	}
	ack.mu.Lock()
	defer ack.mu.Unlock()
	if ack.acked != 1 {
		t.Fatalf("message should be acked once, got %d", ack.acked)
	}
}

func TestHandleWithoutReplyToRejects(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	srv := newTestServer(t, ch)

	ack := &fakeAck{}
	srv.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(`{"method":"getPlatformVersion"}`)})
	if ack.rejects != 1 {
		t.Fatalf("expected reject, got %+v", ack)
	}
	if _, pubs := ch.sent(); len(pubs) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestPublishFailureNacksWithoutRequeue(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery), publishErr: errors.New("channel closed")}
	srv := newTestServer(t, ch)

	ack := &fakeAck{}
	srv.handle(context.Background(), amqp.Delivery{Acknowledger: ack, ReplyTo: "r", Body: []byte(`{"id":"x","method":"getPlatformVersion"}`)})
	if ack.nacked != 1 || ack.acked != 0 {
		t.Fatalf("expected a single nack, got %+v", ack)
	}
}

func TestServeStopsWhenDeliveriesClose(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	srv := newTestServer(t, ch)
	close(ch.deliveries)

	if err := srv.Serve(context.Background()); err == nil {
		t.Fatalf("expected error when the delivery channel closes")
	}
}

func TestHandleCompletesAfterShutdownBegins(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	srv := newTestServer(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ack := &fakeAck{}
	srv.handle(ctx, amqp.Delivery{Acknowledger: ack, ReplyTo: "r", CorrelationId: "c-9", Body: []byte(`{"method":"getPlatformVersion"}`)})

	_, pubs := ch.sent()
	if len(pubs) != 1 {
		t.Fatalf("expected one reply, got %d", len(pubs))
	}
	var resp transport.Response
	if err := json.Unmarshal(pubs[0].Body, &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if resp.Status != bridge.StatusSuccess || resp.Result != "Linux 6.1" {
		t.Fatalf("dequeued call should still run: %+v", resp)
	}
	if ack.acked != 1 {
		t.Fatalf("expected ack, got %+v", ack)
	}
}
