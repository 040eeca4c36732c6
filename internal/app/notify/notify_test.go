package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/apache/rocketmq-client-go/v2/primitive"
)

func TestBusRecentNewestFirst(t *testing.T) {
	bus := NewBus(3)
	for i := int64(1); i <= 5; i++ {
		bus.Publish(context.Background(), New(ProductCreated, "a", i))
	}
	if bus.Count() != 3 {
		t.Fatalf("count = %d, want 3", bus.Count())
	}
	recent := bus.Recent(10)
	if len(recent) != 3 || recent[0].ProductID != 5 || recent[2].ProductID != 3 {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Fatalf("id and timestamp should be set: %+v", recent[0])
	}
}

func TestBusSubscribeFilteredAndUnsubscribe(t *testing.T) {
	bus := NewBus(10)
	var got []Type
	unsubscribe := bus.SubscribeFiltered(func(ev Event) bool { return ev.Type == EscrowSettled }, func(ev Event) {
		got = append(got, ev.Type)
	})

	bus.Publish(context.Background(), New(EscrowDeposit, "a", 0))
	bus.Publish(context.Background(), New(EscrowSettled, "a", 1))
	unsubscribe()
	bus.Publish(context.Background(), New(EscrowSettled, "a", 2))

	if len(got) != 1 || got[0] != EscrowSettled {
		t.Fatalf("got = %v", got)
	}
	if byType := bus.RecentByType(EscrowSettled, 5); len(byType) != 2 {
		t.Fatalf("recent by type = %+v", byType)
	}
}

func TestBusCopiesTraceID(t *testing.T) {
	bus := NewBus(1)
	bus.Publish(WithTraceID(context.Background(), "trace-1"), New(RoleAssigned, "a", 0))
	if got := bus.Recent(1)[0].TraceID; got != "trace-1" {
		t.Fatalf("trace id = %q", got)
	}
}

func TestBatchCollectsInOrder(t *testing.T) {
	var batch Batch
	batch.Record(New(ProductCreated, "a", 1))
	batch.Record(New(ProductTransferred, "a", 1).With("to", "b"))
	events := batch.Events()
	if len(events) != 2 || events[1].Data["to"] != "b" {
		t.Fatalf("events = %+v", events)
	}
	batch.Reset()
	if len(batch.Events()) != 0 {
		t.Fatalf("reset did not clear batch")
	}
}

type fakeProducer struct {
	mu       sync.Mutex
	started  bool
	messages []*primitive.Message
	sent     chan struct{}
}

func (f *fakeProducer) Start() error    { f.started = true; return nil }
func (f *fakeProducer) Shutdown() error { return nil }
func (f *fakeProducer) SendSync(_ context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msgs...)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return &primitive.SendResult{}, nil
}

func TestRocketMQSinkPublishesToPrefixedTopic(t *testing.T) {
	prod := &fakeProducer{sent: make(chan struct{}, 1)}
	sink := NewRocketMQSink(RocketMQOptions{TopicPrefix: "sc", Namespace: "Dev"}, nil)
	sink.prod = prod

	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sink.Handle(New(EscrowSettled, "b", 1).With("amount", 100))

	select {
	case <-prod.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("message not sent")
	}
	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	prod.mu.Lock()
	defer prod.mu.Unlock()
	if len(prod.messages) != 1 {
		t.Fatalf("messages = %d", len(prod.messages))
	}
	msg := prod.messages[0]
	if msg.Topic != "dev.sc.escrow.settled" {
		t.Fatalf("topic = %q", msg.Topic)
	}
	if msg.GetProperty("event") != string(EscrowSettled) {
		t.Fatalf("event property = %q", msg.GetProperty("event"))
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope["event"] != string(EscrowSettled) {
		t.Fatalf("envelope = %v", envelope)
	}
}

func TestRocketMQSinkRequiresNameServers(t *testing.T) {
	sink := NewRocketMQSink(RocketMQOptions{}, nil)
	if err := sink.Start(context.Background()); err == nil {
		t.Fatalf("expected error without name servers")
	}
}
