package textrisk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

const maxScore = 100

type compiledTerm struct {
	text     string // normalized
	list     string
	severity Severity
	mode     MatchMode
}

// Analyzer implements Filterer. It is safe for concurrent use.
type Analyzer struct {
	terms     []compiledTerm
	index     *termIndex
	policy    Policy
	blocklist Blocklist
	logger    *zap.Logger
}

// NewAnalyzer compiles wl into a term index. Terms are normalized the same way
// content is, so list entries may be written in any case or form.
func NewAnalyzer(wl *Wordlist, policy Policy, logger *zap.Logger) (*Analyzer, error) {
	if err := wl.Validate(); err != nil {
		return nil, fmt.Errorf("wordlist: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("action policy: %w", err)
	}

	a := &Analyzer{policy: policy, logger: logger}
	add := func(list string, terms []Term) {
		for _, t := range terms {
			mode := t.Match
			if mode == "" {
				mode = MatchWord
			}
			a.terms = append(a.terms, compiledTerm{
				text:     Normalize(t.Text),
				list:     list,
				severity: t.Severity,
				mode:     mode,
			})
		}
	}
	add(ListProfanity, wl.Profanity)
	add(ListThreat, wl.Threat)

	texts := make([]string, len(a.terms))
	for i, t := range a.terms {
		texts[i] = t.text
	}
	a.index = newTermIndex(texts)
	return a, nil
}

// SetBlocklist enables link checking. When nil, ExternalBlocklistEnabled
// has no effect.
func (a *Analyzer) SetBlocklist(b Blocklist) {
	a.blocklist = b
}

// hit is the best-weighted term matched at one span of the normalized text.
type hit struct {
	start, end int
	term       compiledTerm
	weight     int
}

// Filter scores content. subjectID identifies the recipient and only
// annotates logs.
func (a *Analyzer) Filter(ctx context.Context, content, subjectID string, cfg Config) RiskAssessment {
	w := a.policy.Weights
	score := 0
	flags := []string{}
	filtered := content
	var matches []TermMatch

	if cfg.ProfanityEnabled {
		n := NormalizeText(content)
		hits := a.scan(n.Text)
		for _, h := range hits {
			score += h.weight
			matches = append(matches, TermMatch{Term: h.term.text, List: h.term.list, Severity: h.term.severity})
			flags = appendUnique(flags, h.term.list+":"+string(h.term.severity))
		}
		for _, e := range n.Evasions {
			score += w.Evasion[e]
			flags = append(flags, "evasion:"+string(e))
		}
		if len(hits) > 0 {
			filtered = mask(content, n, hits)
		}
	}

	if cfg.ExternalBlocklistEnabled && a.blocklist != nil {
		if domains := ExtractDomains(content); len(domains) > 0 {
			listed := a.blocklist.Listed(ctx, domains)
			if len(listed) > 0 {
				score += w.Blocklist
			}
			for _, d := range listed {
				flags = append(flags, "blocklist:"+d)
			}
		}
	}

	if score > maxScore {
		score = maxScore
	}
	category := CategoryFor(score)
	action := a.policy.Actions[category]
	if action == ActionReject {
		filtered = ""
	}

	if score > 0 {
		a.logger.Debug("textrisk: content scored",
			zap.String("subject_id", subjectID),
			zap.Int("score", score),
			zap.String("category", string(category)),
			zap.String("action", string(action)),
			zap.Strings("flags", flags),
		)
	}

	return RiskAssessment{
		Passed:          action != ActionReject,
		Score:           score,
		Category:        category,
		Action:          action,
		Flags:           flags,
		FilteredContent: filtered,
		Matches:         matches,
	}
}

// scan returns one hit per distinct span, keeping the heaviest term when
// several lists match the same text. Hits are ordered by position.
func (a *Analyzer) scan(text string) []hit {
	type span struct{ start, end int }
	best := make(map[span]hit)
	for _, m := range a.index.find(text) {
		t := a.terms[m.term]
		if t.mode == MatchWord && !onWordBoundary(text, m.start, m.end) {
			continue
		}
		wt := a.policy.Weights.severity(t.severity)
		k := span{m.start, m.end}
		if prev, ok := best[k]; ok && prev.weight >= wt {
			continue
		}
		best[k] = hit{start: m.start, end: m.end, term: t, weight: wt}
	}

	hits := make([]hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].start != hits[j].start {
			return hits[i].start < hits[j].start
		}
		return hits[i].end < hits[j].end
	})
	return hits
}

func onWordBoundary(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// mask replaces every original token that contributed to a hit with
// asterisks, keeping whitespace inside joined tokens.
func mask(content string, n Normalized, hits []hit) string {
	covered := make([]bool, len(content))
	for _, h := range hits {
		for i, seg := range n.Segments {
			s := n.offsets[i]
			e := s + len(seg.Text)
			if s < h.end && h.start < e {
				for k := seg.Start; k < seg.End; k++ {
					covered[k] = true
				}
			}
		}
	}

	var b strings.Builder
	b.Grow(len(content))
	for i, r := range content {
		if covered[i] && !unicode.IsSpace(r) {
			b.WriteByte('*')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
