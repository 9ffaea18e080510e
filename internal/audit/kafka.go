package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures NewKafkaSink.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	WriteTimeout    time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// KafkaSink publishes events to a Kafka topic behind a circuit breaker, so
// an unreachable broker costs one fast failure per event instead of a
// write timeout.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewKafkaSink creates a sink writing to cfg.Topic on cfg.Brokers.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	}
	return NewKafkaSinkWithWriter(writer, cfg)
}

// NewKafkaSinkWithWriter creates a sink over an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, cfg KafkaConfig) *KafkaSink {
	failures := uint32(cfg.BreakerFailures)
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "kafka-audit",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"circuit_breaker", name,
				"from_state", from.String(),
				"to_state", to.String(),
			)
		},
	}

	return &KafkaSink{
		writer:  w,
		topic:   cfg.Topic,
		timeout: cfg.WriteTimeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.ID),
		Value: value,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "severity", Value: []byte(e.Severity)},
		},
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		wctx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return nil, s.writer.WriteMessages(wctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}

// State reports the circuit breaker state.
func (s *KafkaSink) State() gobreaker.State {
	return s.breaker.State()
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
