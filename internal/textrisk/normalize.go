package textrisk

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Evasion is an obfuscation technique detected during normalization.
type Evasion string

const (
	EvasionZeroWidth Evasion = "zero_width"
	EvasionHomoglyph Evasion = "homoglyph"
	EvasionLeetspeak Evasion = "leetspeak"
	EvasionSpacing   Evasion = "spacing"
)

// Segment is one normalized token and the byte span of the input it came
// from.
type Segment struct {
	Text  string
	Start int
	End   int
}

// Normalized is text in canonical form, with enough bookkeeping to map
// matches back onto the original.
type Normalized struct {
	Text     string
	Segments []Segment
	Evasions []Evasion

	// offsets[i] is where Segments[i] starts within Text.
	offsets []int
}

// Normalize returns the canonical form of s. Normalize is idempotent.
func Normalize(s string) string {
	return NormalizeText(s).Text
}

// NormalizeText canonicalizes s token by token: invisible characters are
// removed, case and compatibility forms are folded, diacritics stripped,
// Cyrillic/Greek lookalikes inside Latin words and leetspeak substitutions
// mapped back to letters, and letters split apart by separators or spaces
// rejoined. Tokens are joined by single spaces.
func NormalizeText(s string) Normalized {
	found := make(map[Evasion]bool)

	var segs []Segment
	for _, tok := range splitTokens(s) {
		for _, w := range foldToken(tok.Text, found) {
			segs = append(segs, Segment{Text: w, Start: tok.Start, End: tok.End})
		}
	}
	segs = joinSpacedLetters(segs, found)

	n := Normalized{Segments: segs, offsets: make([]int, len(segs))}
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte(' ')
		}
		n.offsets[i] = b.Len()
		b.WriteString(seg.Text)
	}
	n.Text = b.String()

	for e := range found {
		n.Evasions = append(n.Evasions, e)
	}
	sort.Slice(n.Evasions, func(i, j int) bool { return n.Evasions[i] < n.Evasions[j] })
	return n
}

// splitTokens splits s on Unicode whitespace, keeping byte offsets.
func splitTokens(s string) []Segment {
	var toks []Segment
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, Segment{Text: s[start:i], Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, Segment{Text: s[start:], Start: start, End: len(s)})
	}
	return toks
}

// foldToken normalizes one whitespace-delimited token. Compatibility
// folding can introduce spaces, so the result may be several words.
func foldToken(tok string, found map[Evasion]bool) []string {
	s := tok
	if strings.IndexFunc(s, isInvisible) >= 0 {
		s = strings.Map(func(r rune) rune {
			if isInvisible(r) {
				return -1
			}
			return r
		}, s)
		found[EvasionZeroWidth] = true
	}

	s = strings.ToLower(s)
	if compatLetterChange(s) {
		found[EvasionHomoglyph] = true
	}
	s = norm.NFKC.String(s)
	s = stripMarks(s)
	s = strings.ToLower(s)

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = foldWord(w, found)
	}
	return words
}

func foldWord(w string, found map[Evasion]bool) string {
	if folded, ok := foldConfusables(w); ok {
		w = folded
		found[EvasionHomoglyph] = true
	}
	if looksLikeAddress(w) {
		return w
	}
	if joined, ok := joinSeparated(w); ok {
		w = joined
		found[EvasionSpacing] = true
	}
	if folded, ok := foldLeet(w); ok {
		w = folded
		found[EvasionLeetspeak] = true
	}
	return w
}

// joinSpacedLetters merges runs of three or more single-character segments
// ("f u c k") into one segment.
func joinSpacedLetters(segs []Segment, found map[Evasion]bool) []Segment {
	out := segs[:0:0]
	for i := 0; i < len(segs); {
		j, letters := i, 0
		for j < len(segs) && spacedPiece(segs[j].Text) {
			if r, _ := utf8.DecodeRuneInString(segs[j].Text); isASCIILetter(r) {
				letters++
			}
			j++
		}
		if j-i < 3 || letters < 2 {
			if j == i {
				j = i + 1
			}
			out = append(out, segs[i:j]...)
			i = j
			continue
		}

		var b strings.Builder
		for _, seg := range segs[i:j] {
			b.WriteString(seg.Text)
		}
		found[EvasionSpacing] = true
		for _, w := range foldToken(b.String(), found) {
			out = append(out, Segment{Text: w, Start: segs[i].Start, End: segs[j-1].End})
		}
		i = j
	}
	return out
}

func spacedPiece(s string) bool {
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return false
	}
	_, leet := leetMap[r]
	return unicode.IsLetter(r) || leet
}

// isInvisible reports runes that render as nothing: format characters
// (zero-width space/joiners, bidi controls, soft hyphen, BOM) and the
// filler characters that are not classed as format.
func isInvisible(r rune) bool {
	switch r {
	case '\u034f', '\u115f', '\u1160', '\u2800', '\u3164', '\uffa0':
		return true
	}
	return unicode.Is(unicode.Cf, r)
}

// compatLetterChange reports whether compatibility folding rewrites any
// rune into letters or digits (fullwidth, mathematical alphanumerics,
// ligatures, enclosed forms). Punctuation-only rewrites such as "…" do not
// count.
func compatLetterChange(s string) bool {
	for _, r := range s {
		if r < utf8.RuneSelf {
			continue
		}
		one := string(r)
		k := norm.NFKC.String(one)
		if k == norm.NFC.String(one) {
			continue
		}
		if strings.IndexFunc(k, func(c rune) bool { return unicode.IsLetter(c) || unicode.IsDigit(c) }) >= 0 {
			return true
		}
	}
	return false
}

var markStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func stripMarks(s string) string {
	out, _, err := transform.String(markStripper, s)
	if err != nil {
		return s
	}
	return out
}

// confusables maps lowercase Cyrillic, Greek and Latin-extended lookalikes
// to the ASCII letter they imitate.
var confusables = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'ѕ': 's', 'і': 'i', 'ј': 'j', 'һ': 'h', 'ԁ': 'd', 'ԛ': 'q', 'ԝ': 'w',
	'ӏ': 'l', 'к': 'k',
	'α': 'a', 'ε': 'e', 'ι': 'i', 'κ': 'k', 'ν': 'v', 'ο': 'o', 'ρ': 'p',
	'υ': 'u', 'χ': 'x',
	'ı': 'i', 'ɑ': 'a', 'ɡ': 'g',
}

// foldConfusables rewrites lookalikes only in words that also contain ASCII
// letters, so text written entirely in Cyrillic or Greek is left alone.
func foldConfusables(w string) (string, bool) {
	hasASCII, hasConfusable := false, false
	for _, r := range w {
		if isASCIILetter(r) {
			hasASCII = true
		} else if _, ok := confusables[r]; ok {
			hasConfusable = true
		}
	}
	if !hasASCII || !hasConfusable {
		return w, false
	}
	return strings.Map(func(r rune) rune {
		if l, ok := confusables[r]; ok {
			return l
		}
		return r
	}, w), true
}

var leetMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't', '8': 'b', '9': 'g',
	'@': 'a', '$': 's', '!': 'i',
}

func isLeetSymbol(r rune) bool {
	return r == '@' || r == '$' || r == '!'
}

// foldLeet maps leetspeak back to letters. A word is rewritten when it
// contains a letter and either a substitution symbol (@ $ !) or a run of
// substitution digits with letters on both sides: "sh1t" and "l00ser"
// fold, "covid19" and "10am" do not. Trailing sentence punctuation is kept.
func foldLeet(w string) (string, bool) {
	core, tail := splitTrailing(w)
	rs := []rune(core)

	hasLetter, trigger := false, false
	for i := 0; i < len(rs); {
		r := rs[i]
		if isASCIILetter(r) {
			hasLetter = true
			i++
			continue
		}
		if _, ok := leetMap[r]; !ok {
			i++
			continue
		}
		j := i
		for j < len(rs) {
			if _, ok := leetMap[rs[j]]; !ok {
				break
			}
			if isLeetSymbol(rs[j]) {
				trigger = true
			}
			j++
		}
		if i > 0 && j < len(rs) && isASCIILetter(rs[i-1]) && isASCIILetter(rs[j]) {
			trigger = true
		}
		i = j
	}
	if !hasLetter || !trigger {
		return w, false
	}
	for i, r := range rs {
		if l, ok := leetMap[r]; ok {
			rs[i] = l
		}
	}
	return string(rs) + tail, true
}

// joinSeparated collapses single characters split by one repeated
// separator ("f.u.c.k", "s-h-1-t") into a word.
func joinSeparated(w string) (string, bool) {
	core, tail := splitTrailing(w)
	rs := []rune(core)
	if len(rs) < 5 || len(rs)%2 == 0 {
		return w, false
	}
	sep := rs[1]
	if !strings.ContainsRune("._-*", sep) {
		return w, false
	}

	joined := make([]rune, 0, len(rs)/2+1)
	letters := 0
	for i, r := range rs {
		if i%2 == 1 {
			if r != sep {
				return w, false
			}
			continue
		}
		_, leet := leetMap[r]
		if !unicode.IsLetter(r) && !leet {
			return w, false
		}
		if isASCIILetter(r) {
			letters++
		}
		joined = append(joined, r)
	}
	if letters == 0 {
		return w, false
	}
	return string(joined) + tail, true
}

// splitTrailing separates a trailing run of sentence punctuation.
func splitTrailing(w string) (core, tail string) {
	end := len(w)
	for end > 0 && strings.IndexByte(".,!?;:", w[end-1]) >= 0 {
		end--
	}
	return w[:end], w[end:]
}

func looksLikeAddress(w string) bool {
	if strings.Contains(w, "://") || strings.HasPrefix(w, "www.") {
		return true
	}
	at := strings.IndexByte(w, '@')
	return at > 0 && strings.Contains(w[at:], ".")
}

func isASCIILetter(r rune) bool {
	return r >= 'a' && r <= 'z'
}
