// Package delivery hands accepted fan messages to the message store.
//
// The gatekeeper only decides; persisting the message and the moderation
// queue belong to the message service. Accepted messages are published to
// it over Kafka, or just logged in development.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AcceptedMessage is a submission that passed the gatekeeper. Content is
// the masked text.
type AcceptedMessage struct {
	ID              uuid.UUID `json:"id"`
	TargetID        string    `json:"target_id"`
	SenderName      string    `json:"sender_name,omitempty"`
	Content         string    `json:"content"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Flags           []string  `json:"flags,omitempty"`
	RiskScore       int       `json:"risk_score"`
	FingerprintHash string    `json:"fingerprint_hash"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Writer stores accepted messages.
type Writer interface {
	Deliver(ctx context.Context, m AcceptedMessage) error
}

// ── Kafka ────────────────────────────────────────────────────────────────────

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes accepted messages keyed by target, so each
// recipient's inbox sees its messages in order.
type KafkaWriter struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaWriter creates a KafkaWriter. Every publish is bounded by timeout
// (default 5s).
func NewKafkaWriter(brokers []string, topic string, timeout time.Duration) (*KafkaWriter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka message writer requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka message writer requires a topic")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			WriteTimeout: timeout,
		},
		topic:   topic,
		timeout: timeout,
	}, nil
}

// Deliver implements Writer.
func (w *KafkaWriter) Deliver(ctx context.Context, m AcceptedMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.writer.WriteMessages(ctx, kafka.Message{
		Topic: w.topic,
		Key:   []byte(m.TargetID),
		Value: payload,
		Time:  m.SubmittedAt,
	}); err != nil {
		return fmt.Errorf("publish message %s: %w", m.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (w *KafkaWriter) Close() error {
	return w.writer.Close()
}

// ── Log only ─────────────────────────────────────────────────────────────────

// LogWriter only logs accepted messages. For development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger.Named("delivery")}
}

// Deliver implements Writer.
func (w *LogWriter) Deliver(_ context.Context, m AcceptedMessage) error {
	w.logger.Info("fan message accepted",
		zap.String("message_id", m.ID.String()),
		zap.String("target_id", m.TargetID),
		zap.String("status", m.Status),
		zap.Int("risk_score", m.RiskScore),
		zap.Int("content_len", len(m.Content)),
	)
	return nil
}
