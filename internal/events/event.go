// Package events records rejected and challenged submissions for later
// abuse analysis.
//
// Recording is fire-and-forget: the request path hands events to an Async
// logger, which drains a bounded queue in the background and drops events
// when the queue is full. Sinks write to zap, Postgres or Kafka.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one rejected or challenged submission.
type Event struct {
	ID              uuid.UUID `json:"id"`
	OccurredAt      time.Time `json:"occurred_at"`
	TargetID        string    `json:"target_id"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
	IP              string    `json:"ip"`
	FingerprintHash string    `json:"fingerprint_hash"`
	Flags           []string  `json:"flags"`
	RiskScore       int       `json:"risk_score"`
}

// Sink persists events.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// ── Zap ──────────────────────────────────────────────────────────────────────

// ZapSink writes events as structured log lines.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a ZapSink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("events")}
}

// Write implements Sink.
func (s *ZapSink) Write(_ context.Context, e Event) error {
	s.logger.Info("submission blocked",
		zap.String("event_id", e.ID.String()),
		zap.Time("occurred_at", e.OccurredAt),
		zap.String("target_id", e.TargetID),
		zap.String("status", e.Status),
		zap.String("reason", e.Reason),
		zap.String("ip", e.IP),
		zap.String("fingerprint_hash", e.FingerprintHash),
		zap.Strings("flags", e.Flags),
		zap.Int("risk_score", e.RiskScore),
	)
	return nil
}

// ── Fan-out ──────────────────────────────────────────────────────────────────

// Multi writes every event to each sink in turn. All sinks are attempted;
// their errors are joined.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
