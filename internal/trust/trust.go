// Package trust maintains a decaying 0–100 reputation score per client
// fingerprint.
//
// Scores start neutral (50), move with challenge and content outcomes, and
// drift back toward neutral while a fingerprint is inactive. The score is a
// soft signal: it steers challenge decisions but is not a security boundary.
package trust

import (
	"errors"
	"time"
)

// Level is the coarse band a score falls into. It is always derived from
// the score and never stored.
type Level string

const (
	LevelBlocked    Level = "blocked"
	LevelSuspicious Level = "suspicious"
	LevelNeutral    Level = "neutral"
	LevelTrusted    Level = "trusted"
)

// EventType is an outcome that moves a fingerprint's score.
type EventType string

const (
	EventCaptchaPass     EventType = "captcha_pass"
	EventCaptchaFail     EventType = "captcha_fail"
	EventContentRejected EventType = "content_rejected"
	EventContentFlagged  EventType = "content_flagged"
	EventContentClean    EventType = "content_clean"
)

const (
	MinScore     = 0
	MaxScore     = 100
	NeutralScore = 50
)

// ErrUnknownEvent is returned for event types missing from the delta table.
var ErrUnknownEvent = errors.New("trust: unknown event type")

// DefaultDeltas is the score change applied per event.
var DefaultDeltas = map[EventType]int{
	EventCaptchaPass:     5,
	EventCaptchaFail:     -15,
	EventContentRejected: -10,
	EventContentFlagged:  -3,
	EventContentClean:    1,
}

// Factor records one score change.
type Factor struct {
	Type      EventType `json:"type"`
	Delta     int       `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

// TrustScore is the reputation of one fingerprint.
type TrustScore struct {
	Score       int       `json:"score"`
	Level       Level     `json:"level"`
	Factors     []Factor  `json:"factors"`
	LastUpdated time.Time `json:"last_updated"`
}

// Neutral returns the score assigned to unseen fingerprints.
func Neutral() TrustScore {
	return TrustScore{Score: NeutralScore, Level: LevelNeutral, Factors: []Factor{}}
}

// LevelFor maps a score to its level:
//
//	 0–20  → blocked
//	21–40  → suspicious
//	41–69  → neutral
//	70–100 → trusted
func LevelFor(score int) Level {
	switch {
	case score <= 20:
		return LevelBlocked
	case score <= 40:
		return LevelSuspicious
	case score < 70:
		return LevelNeutral
	default:
		return LevelTrusted
	}
}

// Clamp bounds score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Decay moves score toward NeutralScore by perDay points for every full day
// in elapsed. It never overshoots neutral.
func Decay(score int, elapsed time.Duration, perDay int) int {
	if perDay <= 0 || elapsed < 24*time.Hour {
		return score
	}
	step := int(elapsed/(24*time.Hour)) * perDay
	switch {
	case score > NeutralScore:
		score -= step
		if score < NeutralScore {
			score = NeutralScore
		}
	case score < NeutralScore:
		score += step
		if score > NeutralScore {
			score = NeutralScore
		}
	}
	return score
}
