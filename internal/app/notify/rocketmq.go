package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"

	"github.com/R3E-Network/supplychain/pkg/logger"
)

// RocketMQOptions configures the broker sink.
type RocketMQOptions struct {
	NameServers []string
	TopicPrefix string
	Namespace   string
	AccessKey   string
	SecretKey   string
	Buffer      int
}

// messageProducer is the subset of rocketmq.Producer the sink uses.
type messageProducer interface {
	Start() error
	Shutdown() error
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
}

// RocketMQSink forwards bus events to RocketMQ topics named
// "<prefix>.<event-type>". Delivery is asynchronous: Handle only enqueues,
// and a full queue drops the event with a warning.
type RocketMQSink struct {
	opts  RocketMQOptions
	log   *logger.Logger
	queue chan Event

	mu      sync.Mutex
	prod    messageProducer
	started bool
	done    chan struct{}
}

// NewRocketMQSink constructs a sink. The producer is created on Start.
func NewRocketMQSink(opts RocketMQOptions, log *logger.Logger) *RocketMQSink {
	if log == nil {
		log = logger.NewDefault("notify-rocketmq")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return &RocketMQSink{
		opts:  opts,
		log:   log,
		queue: make(chan Event, opts.Buffer),
	}
}

// Name implements system.Service.
func (s *RocketMQSink) Name() string { return "notify-rocketmq" }

// Start creates the producer and the delivery goroutine.
func (s *RocketMQSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.prod == nil {
		if len(s.opts.NameServers) == 0 {
			return fmt.Errorf("no rocketmq name servers configured")
		}
		prod, err := rocketmq.NewProducer(
			producer.WithNameServer(s.opts.NameServers),
			producer.WithCredentials(primitive.Credentials{
				AccessKey: s.opts.AccessKey,
				SecretKey: s.opts.SecretKey,
			}),
			producer.WithNamespace(strings.TrimSpace(s.opts.Namespace)),
			producer.WithRetry(2),
		)
		if err != nil {
			return fmt.Errorf("create rocketmq producer: %w", err)
		}
		s.prod = prod
	}
	if err := s.prod.Start(); err != nil {
		return fmt.Errorf("start rocketmq producer: %w", err)
	}
	s.done = make(chan struct{})
	s.started = true
	go s.run(s.queue, s.done)
	s.log.WithField("name_servers", strings.Join(s.opts.NameServers, ",")).Info("rocketmq sink started")
	return nil
}

// Stop drains queued events and shuts the producer down.
func (s *RocketMQSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.queue)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("rocketmq sink stopped before queue drained")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = make(chan Event, s.opts.Buffer)
	if s.prod != nil {
		if err := s.prod.Shutdown(); err != nil {
			return fmt.Errorf("shutdown rocketmq producer: %w", err)
		}
	}
	return nil
}

// Handle enqueues ev for delivery. It is meant to be registered with
// Bus.Subscribe.
func (s *RocketMQSink) Handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.log.WithField("event_type", string(ev.Type)).Warn("rocketmq sink queue full; dropping event")
	}
}

func (s *RocketMQSink) run(queue <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.send(ctx, ev); err != nil {
			s.log.WithError(err).WithField("event_type", string(ev.Type)).Warn("rocketmq publish failed")
		}
		cancel()
	}
}

func (s *RocketMQSink) send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(map[string]interface{}{
		"event":   string(ev.Type),
		"payload": ev,
		"sent_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	s.mu.Lock()
	prod := s.prod
	s.mu.Unlock()
	if prod == nil {
		return fmt.Errorf("rocketmq producer not ready")
	}

	msg := &primitive.Message{
		Topic: s.topicFor(ev.Type),
		Body:  body,
	}
	msg.WithProperty("event", string(ev.Type))
	msg.WithProperty("event_id", ev.ID)
	if ev.TraceID != "" {
		msg.WithProperty("trace_id", ev.TraceID)
	}
	if _, err := prod.SendSync(ctx, msg); err != nil {
		return fmt.Errorf("rocketmq send: %w", err)
	}
	return nil
}

func (s *RocketMQSink) topicFor(typ Type) string {
	prefix := strings.TrimSpace(s.opts.TopicPrefix)
	if prefix == "" {
		prefix = "supplychain"
	}
	if ns := strings.TrimSpace(s.opts.Namespace); ns != "" {
		prefix = sanitize(ns) + "." + prefix
	}
	return prefix + "." + sanitize(string(typ))
}

func sanitize(in string) string {
	in = strings.TrimSpace(strings.ToLower(in))
	return strings.ReplaceAll(in, " ", "-")
}
