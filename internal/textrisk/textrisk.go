// Package textrisk scores free-text submissions for abusive content.
//
// Content is normalized to defeat common keyword-evasion tricks, matched in
// a single pass against severity-tagged term lists, optionally checked
// against link blocklists, and reduced to a 0–100 score with a category and
// an action. Obfuscation itself raises the score, independent of what it
// hides.
package textrisk

import (
	"context"
	"fmt"
)

// Severity ranks a term list entry.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

// Category is the coarse risk band of a score.
type Category string

const (
	CategorySafe   Category = "safe"
	CategoryLow    Category = "low"
	CategoryMedium Category = "medium"
	CategoryHigh   Category = "high"
)

// categories in ascending order of risk.
var categories = []Category{CategorySafe, CategoryLow, CategoryMedium, CategoryHigh}

// CategoryFor maps a score to its category:
//
//	 0–20  → safe
//	21–40  → low
//	41–70  → medium
//	71–100 → high
func CategoryFor(score int) Category {
	switch {
	case score <= 20:
		return CategorySafe
	case score <= 40:
		return CategoryLow
	case score <= 70:
		return CategoryMedium
	default:
		return CategoryHigh
	}
}

// Action is what the caller should do with the content.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionFlag   Action = "flag"
	ActionReject Action = "reject"
)

func (a Action) rank() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionFlag:
		return 1
	case ActionReject:
		return 2
	}
	return -1
}

// Weights are the score contributions of each signal.
type Weights struct {
	High      int
	Medium    int
	Low       int
	Evasion   map[Evasion]int
	Blocklist int
}

func (w Weights) severity(s Severity) int {
	switch s {
	case SeverityHigh:
		return w.High
	case SeverityMedium:
		return w.Medium
	default:
		return w.Low
	}
}

// Policy holds the scoring weights and the category → action mapping.
type Policy struct {
	Weights Weights
	Actions map[Category]Action
}

// DefaultPolicy returns the stock weights and actions.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			High:   50,
			Medium: 25,
			Low:    10,
			Evasion: map[Evasion]int{
				EvasionZeroWidth: 15,
				EvasionHomoglyph: 15,
				EvasionLeetspeak: 10,
				EvasionSpacing:   10,
			},
			Blocklist: 60,
		},
		Actions: map[Category]Action{
			CategorySafe:   ActionAllow,
			CategoryLow:    ActionAllow,
			CategoryMedium: ActionFlag,
			CategoryHigh:   ActionReject,
		},
	}
}

// Validate checks that every category maps to a known action, that actions
// never get more lenient as risk rises, and that severity weights keep
// their order.
func (p Policy) Validate() error {
	prev := -1
	for _, c := range categories {
		a, ok := p.Actions[c]
		if !ok {
			return fmt.Errorf("no action configured for category %q", c)
		}
		r := a.rank()
		if r < 0 {
			return fmt.Errorf("unknown action %q for category %q", a, c)
		}
		if r < prev {
			return fmt.Errorf("action for category %q (%s) is more lenient than a lower category", c, a)
		}
		prev = r
	}
	w := p.Weights
	if w.Low < 0 || !(w.High > w.Medium && w.Medium > w.Low) {
		return fmt.Errorf("severity weights must satisfy high > medium > low >= 0, got %d/%d/%d", w.High, w.Medium, w.Low)
	}
	for e, v := range w.Evasion {
		if v < 0 {
			return fmt.Errorf("evasion weight for %s must be >= 0", e)
		}
	}
	if w.Blocklist < 0 {
		return fmt.Errorf("blocklist weight must be >= 0")
	}
	return nil
}

// Config switches analyzer stages on and off per request.
type Config struct {
	ProfanityEnabled         bool
	ExternalBlocklistEnabled bool
}

// TermMatch describes one scored match.
type TermMatch struct {
	Term     string   `json:"term"`
	List     string   `json:"list"`
	Severity Severity `json:"severity"`
}

// RiskAssessment is the analyzer's verdict for one piece of content.
type RiskAssessment struct {
	Passed          bool        `json:"passed"`
	Score           int         `json:"score"`
	Category        Category    `json:"category"`
	Action          Action      `json:"action"`
	Flags           []string    `json:"flags"`
	FilteredContent string      `json:"filtered_content,omitempty"`
	Matches         []TermMatch `json:"matches,omitempty"`
}

// Filterer is satisfied by *Analyzer.
type Filterer interface {
	Filter(ctx context.Context, content, subjectID string, cfg Config) RiskAssessment
}
