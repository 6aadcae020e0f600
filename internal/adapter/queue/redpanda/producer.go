// Package redpanda publishes chat turn analytics events to Redpanda/Kafka.
//
// Publishing is fire-and-forget: a slow or unavailable broker never delays
// a chat reply. Delivery failures are logged and counted.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// TopicTurns is the default topic for turn events.
const TopicTurns = "chat-turns"

// recordClient is the subset of *kgo.Client the producer uses.
type recordClient interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Producer implements domain.EventPublisher.
type Producer struct {
	client recordClient
	topic  string
}

// NewProducer connects to brokers, ensures topic exists and returns a
// traced asynchronous producer.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if topic == "" {
		topic = TopicTurns
	}
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.RequestRetries(5),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.MaxBufferedRecords(10000),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, topic, 3, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	return newProducer(client, topic), nil
}

func newProducer(c recordClient, topic string) *Producer {
	return &Producer{client: c, topic: topic}
}

// PublishTurn enqueues evt without waiting for the broker. Records are keyed
// by session so one conversation stays on one partition.
func (p *Producer) PublishTurn(ctx domain.Context, evt domain.TurnEvent) {
	b, err := json.Marshal(evt)
	if err != nil {
		observability.TurnEventsTotal.WithLabelValues("marshal_error").Inc()
		slog.Error("marshal turn event", slog.String("turn_id", evt.TurnID), slog.Any("error", err))
		return
	}
	key := evt.SessionID
	if key == "" {
		key = evt.TurnID
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "domain", Value: []byte(evt.Domain)},
			{Key: "intent", Value: []byte(evt.Intent)},
		},
		Timestamp: evt.CreatedAt,
	}
	// The request context ends with the response; the record must outlive it.
	p.client.TryProduce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			observability.TurnEventsTotal.WithLabelValues("error").Inc()
			slog.Warn("turn event not delivered", slog.String("turn_id", evt.TurnID), slog.String("topic", r.Topic), slog.Any("error", err))
			return
		}
		observability.TurnEventsTotal.WithLabelValues("delivered").Inc()
	})
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records, bounded by ctx, and closes the client.
func (p *Producer) Close(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("flush turn events: %w", err)
	}
	return nil
}
