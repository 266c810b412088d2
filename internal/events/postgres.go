package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is the part of *pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSink stores events in the submission_events table.
type PostgresSink struct {
	db execer
}

// NewPostgresSink creates a PostgresSink.
func NewPostgresSink(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write implements Sink. Re-delivered events with a known ID are ignored.
func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	flags := e.Flags
	if flags == nil {
		flags = []string{}
	}
	query := `INSERT INTO submission_events
	            (id, occurred_at, target_id, status, reason, ip, fingerprint_hash, flags, risk_score)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (id) DO NOTHING`
	_, err := s.db.Exec(ctx, query,
		e.ID, e.OccurredAt, e.TargetID, e.Status, e.Reason, e.IP, e.FingerprintHash, flags, e.RiskScore,
	)
	if err != nil {
		return fmt.Errorf("insert submission event: %w", err)
	}
	return nil
}

// ListByFingerprint returns the most recent events for a fingerprint hash,
// newest first.
func (s *PostgresSink) ListByFingerprint(ctx context.Context, fingerprintHash string, since time.Time, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, occurred_at, target_id, status, reason, ip, fingerprint_hash, flags, risk_score
	          FROM submission_events
	          WHERE fingerprint_hash = $1 AND occurred_at >= $2
	          ORDER BY occurred_at DESC
	          LIMIT $3`
	rows, err := s.db.Query(ctx, query, fingerprintHash, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query submission events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.TargetID, &e.Status, &e.Reason,
			&e.IP, &e.FingerprintHash, &e.Flags, &e.RiskScore); err != nil {
			return nil, fmt.Errorf("scan submission event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
