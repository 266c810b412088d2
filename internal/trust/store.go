package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/store"
	"go.uber.org/zap"
)

// Config tunes the trust store.
type Config struct {
	DecayPerDay int               // points per idle day toward neutral; default 2
	TTL         time.Duration     // record lifetime after the last update; default 30 days
	MaxFactors  int               // factors retained per record; default 20
	Deltas      map[EventType]int // nil = DefaultDeltas
}

// Validate rejects delta tables that flip the sign of a built-in event.
func (c Config) Validate() error {
	for ev, d := range c.Deltas {
		def, ok := DefaultDeltas[ev]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
		}
		if (def > 0) != (d > 0) || d == 0 {
			return fmt.Errorf("trust delta for %s must keep the sign of %+d, got %+d", ev, def, d)
		}
	}
	return nil
}

// record is the persisted form. Level is deliberately absent.
type record struct {
	Score       int       `json:"score"`
	Factors     []Factor  `json:"factors"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store reads and updates trust scores in the shared store.
type Store struct {
	kv     store.Store
	hasher *fingerprint.Hasher
	cfg    Config
	deltas map[EventType]int
	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates a trust Store.
func NewStore(kv store.Store, hasher *fingerprint.Hasher, cfg Config, logger *zap.Logger) *Store {
	if cfg.DecayPerDay == 0 {
		cfg.DecayPerDay = 2
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.MaxFactors <= 0 {
		cfg.MaxFactors = 20
	}
	deltas := make(map[EventType]int, len(DefaultDeltas))
	for ev, d := range DefaultDeltas {
		deltas[ev] = d
	}
	for ev, d := range cfg.Deltas {
		deltas[ev] = d
	}
	return &Store{
		kv:     kv,
		hasher: hasher,
		cfg:    cfg,
		deltas: deltas,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) key(fp string) string {
	return "trust:" + s.hasher.Hash(fp)
}

// GetTrustScore returns the decayed score for fp. It never fails: missing,
// corrupt or unreachable records read as neutral.
func (s *Store) GetTrustScore(ctx context.Context, fp string) TrustScore {
	rec, ok := s.load(ctx, fp)
	if !ok {
		return Neutral()
	}
	return s.view(rec)
}

// UpdateFingerprintScore applies ev to fp's score and persists the result.
// The updated score is returned even when persisting fails.
func (s *Store) UpdateFingerprintScore(ctx context.Context, fp string, ev EventType) (TrustScore, error) {
	delta, ok := s.deltas[ev]
	if !ok {
		return s.GetTrustScore(ctx, fp), fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}

	now := s.now().UTC()
	rec, found := s.load(ctx, fp)
	if !found {
		rec = record{Score: NeutralScore, LastUpdated: now}
	}
	rec.Score = Clamp(Decay(rec.Score, now.Sub(rec.LastUpdated), s.cfg.DecayPerDay) + delta)
	rec.Factors = append(rec.Factors, Factor{Type: ev, Delta: delta, Timestamp: now})
	if over := len(rec.Factors) - s.cfg.MaxFactors; over > 0 {
		rec.Factors = append([]Factor(nil), rec.Factors[over:]...)
	}
	rec.LastUpdated = now

	raw, err := json.Marshal(rec)
	if err != nil {
		return s.view(rec), fmt.Errorf("marshal trust record: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(fp), string(raw), s.cfg.TTL); err != nil {
		return s.view(rec), fmt.Errorf("persist trust record: %w", err)
	}
	return s.view(rec), nil
}

// Reset forgets fp, returning it to neutral.
func (s *Store) Reset(ctx context.Context, fp string) error {
	if err := s.kv.Del(ctx, s.key(fp)); err != nil {
		return fmt.Errorf("reset trust record: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, fp string) (record, bool) {
	raw, err := s.kv.Get(ctx, s.key(fp))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("trust: read failed, using neutral score", zap.Error(err))
		}
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Warn("trust: corrupt record, using neutral score", zap.Error(err))
		return record{}, false
	}
	if rec.Score < MinScore || rec.Score > MaxScore {
		s.logger.Warn("trust: out-of-range score, using neutral score", zap.Int("score", rec.Score))
		return record{}, false
	}
	return rec, true
}

// view decays rec to the current time and derives its level.
func (s *Store) view(rec record) TrustScore {
	score := Clamp(Decay(rec.Score, s.now().Sub(rec.LastUpdated), s.cfg.DecayPerDay))
	factors := rec.Factors
	if factors == nil {
		factors = []Factor{}
	}
	return TrustScore{
		Score:       score,
		Level:       LevelFor(score),
		Factors:     factors,
		LastUpdated: rec.LastUpdated,
	}
}
