package textrisk

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testWordlist = `
profanity:
  - term: damn
    severity: low
  - term: crap
    severity: medium
  - term: shit
    severity: high
  - term: fuck
    severity: high
    match: substring
threat:
  - term: kill you
    severity: high
  - term: alt account
    severity: medium
  - term: crap
    severity: low
`

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	wl, err := ParseWordlist([]byte(testWordlist))
	if err != nil {
		t.Fatalf("ParseWordlist: %v", err)
	}
	a, err := NewAnalyzer(wl, DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

var profanityOnly = Config{ProfanityEnabled: true}

// ── Normalization ────────────────────────────────────────────────────────────

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		evasions []Evasion
	}{
		{"Hello   World", "hello world", nil},
		{"café", "cafe", nil},
		{"I love you…", "i love you...", nil},
		{"wow!!!", "wow!!!", nil},
		{"covid19 at 10am", "covid19 at 10am", nil},
		{"me@example.com", "me@example.com", nil},
		{"привет", "привет", nil},
		{"sh\u200bit", "shit", []Evasion{EvasionZeroWidth}},
		{"ｓｈｉｔ", "shit", []Evasion{EvasionHomoglyph}},
		{"ѕhіt", "shit", []Evasion{EvasionHomoglyph}},
		{"sh1t", "shit", []Evasion{EvasionLeetspeak}},
		{"l00ser", "looser", []Evasion{EvasionLeetspeak}},
		{"$hit!", "shit!", []Evasion{EvasionLeetspeak}},
		{"f.u.c.k", "fuck", []Evasion{EvasionSpacing}},
		{"s-h-1-t", "shit", []Evasion{EvasionLeetspeak, EvasionSpacing}},
		{"f u c k you", "fuck you", []Evasion{EvasionSpacing}},
	}
	for _, tc := range cases {
		n := NormalizeText(tc.in)
		if n.Text != tc.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tc.in, n.Text, tc.want)
		}
		if !reflect.DeepEqual(n.Evasions, tc.evasions) {
			t.Errorf("NormalizeText(%q) evasions = %v, want %v", tc.in, n.Evasions, tc.evasions)
		}
	}
}

func TestNormalize_idempotent(t *testing.T) {
	inputs := []string{
		"Hello World",
		"ＦＵＣＫ this",
		"sh\u200bit and \u200dd\u200ba\u200dmn",
		"ѕhіt happens",
		"h3ll0 l00ser $hit!!",
		"f.u.c.k off",
		"f u c k y o u",
		"a b",
		"𝐟𝐮𝐜𝐤",
		"ﬁne ﬂow",
		"Ünïcödé ÀÉÎÕÜ",
		"a.$.$",
		"x ! y",
		"привет мир",
		"visit www.example.com or mail me@example.com",
		"",
		"   ",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

// ── Filter ───────────────────────────────────────────────────────────────────

func TestFilter_bothStagesDisabled(t *testing.T) {
	a := newTestAnalyzer(t)
	a.SetBlocklist(NewStaticBlocklist([]string{"evil.example"}))

	content := "shit shit kill you https://evil.example"
	got := a.Filter(context.Background(), content, "target-1", Config{})

	if !got.Passed || got.Score != 0 || got.Action != ActionAllow || got.Category != CategorySafe {
		t.Fatalf("expected passed/allow/0/safe, got %+v", got)
	}
	if got.FilteredContent != content {
		t.Errorf("FilteredContent = %q, want original", got.FilteredContent)
	}
}

func TestFilter_scoring(t *testing.T) {
	a := newTestAnalyzer(t)

	cases := []struct {
		content  string
		score    int
		category Category
		action   Action
		filtered string
	}{
		{"thanks for everything", 0, CategorySafe, ActionAllow, "thanks for everything"},
		{"damn that was good", 10, CategorySafe, ActionAllow, "**** that was good"},
		{"what crap", 25, CategoryLow, ActionAllow, "what ****"},
		{"scrap metal", 0, CategorySafe, ActionAllow, "scrap metal"},
		{"you are shit", 50, CategoryMedium, ActionFlag, "you are ****"},
		{"sh1t", 60, CategoryMedium, ActionFlag, "****"},
		{"f u c k off", 60, CategoryMedium, ActionFlag, "* * * * off"},
		{"motherfucker", 50, CategoryMedium, ActionFlag, "************"},
		{"shit shit", 100, CategoryHigh, ActionReject, ""},
		{"I will kill you", 50, CategoryMedium, ActionFlag, "I will **** ***"},
	}
	for _, tc := range cases {
		got := a.Filter(context.Background(), tc.content, "t", profanityOnly)
		if got.Score != tc.score || got.Category != tc.category || got.Action != tc.action {
			t.Errorf("%q: got score=%d category=%s action=%s, want %d/%s/%s (flags %v)",
				tc.content, got.Score, got.Category, got.Action, tc.score, tc.category, tc.action, got.Flags)
		}
		if got.FilteredContent != tc.filtered {
			t.Errorf("%q: filtered = %q, want %q", tc.content, got.FilteredContent, tc.filtered)
		}
		if got.Passed != (tc.action != ActionReject) {
			t.Errorf("%q: passed = %v with action %s", tc.content, got.Passed, got.Action)
		}
	}
}

func TestFilter_identicalSpanCountsOnce(t *testing.T) {
	a := newTestAnalyzer(t)
	got := a.Filter(context.Background(), "crap", "t", profanityOnly)

	if got.Score != 25 {
		t.Fatalf("score = %d, want 25 (heavier of the two lists)", got.Score)
	}
	if len(got.Matches) != 1 || got.Matches[0].List != ListProfanity {
		t.Errorf("matches = %+v, want a single profanity match", got.Matches)
	}
}

func TestFilter_zeroWidthNeverScoresLower(t *testing.T) {
	a := newTestAnalyzer(t)
	for _, clean := range []string{"hello there", "you are shit", "damn", "kill you"} {
		mid := len(clean) / 2
		hidden := clean[:mid] + "\u200b" + clean[mid:]

		c := a.Filter(context.Background(), clean, "t", profanityOnly)
		z := a.Filter(context.Background(), hidden, "t", profanityOnly)
		if z.Score < c.Score {
			t.Errorf("%q: zero-width score %d < clean score %d", clean, z.Score, c.Score)
		}
	}
}

func TestFilter_scoreIsCapped(t *testing.T) {
	a := newTestAnalyzer(t)
	got := a.Filter(context.Background(), strings.Repeat("shit ", 10)+"ｓｈ\u200b1t", "t", profanityOnly)
	if got.Score != 100 {
		t.Errorf("score = %d, want 100", got.Score)
	}
}

// ── Blocklists ───────────────────────────────────────────────────────────────

type countingBlocklist struct {
	calls  int
	listed []string
}

func (c *countingBlocklist) Listed(_ context.Context, _ []string) []string {
	c.calls++
	return c.listed
}

func TestFilter_blocklist(t *testing.T) {
	a := newTestAnalyzer(t)
	a.SetBlocklist(NewStaticBlocklist([]string{"evil.example"}))

	got := a.Filter(context.Background(), "visit https://www.promo.evil.example/x now", "t",
		Config{ExternalBlocklistEnabled: true})
	if got.Score != 60 || got.Action != ActionFlag {
		t.Fatalf("got score=%d action=%s, want 60/flag", got.Score, got.Action)
	}
	if !reflect.DeepEqual(got.Flags, []string{"blocklist:promo.evil.example"}) {
		t.Errorf("flags = %v", got.Flags)
	}
}

func TestFilter_blocklistSkippedWhenDisabled(t *testing.T) {
	a := newTestAnalyzer(t)
	bl := &countingBlocklist{listed: []string{"x.example"}}
	a.SetBlocklist(bl)

	got := a.Filter(context.Background(), "see x.example", "t", profanityOnly)
	if bl.calls != 0 || got.Score != 0 {
		t.Errorf("calls=%d score=%d, want blocklist untouched", bl.calls, got.Score)
	}
}

func TestExtractDomains(t *testing.T) {
	got := ExtractDomains("see example.com and WWW.Example.com, e.g. http://a.b.example.org/path?q=1")
	want := []string{"example.com", "a.b.example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractDomains = %v, want %v", got, want)
	}
}

func TestMultiBlocklist(t *testing.T) {
	m := MultiBlocklist{
		NewStaticBlocklist([]string{"a.example"}),
		&countingBlocklist{listed: []string{"a.example", "b.example"}},
	}
	got := m.Listed(context.Background(), []string{"a.example", "b.example"})
	if !reflect.DeepEqual(got, []string{"a.example", "b.example"}) {
		t.Errorf("Listed = %v", got)
	}
}

func TestDNSBL_unresolvableZoneIsNotListed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewDNSBL("dbl.invalid", 0, zap.NewNop())
	if got := b.Listed(ctx, []string{"example.com"}); len(got) != 0 {
		t.Errorf("Listed = %v, want none", got)
	}
}

func TestDNSBL_listedAndCapped(t *testing.T) {
	var mu sync.Mutex
	var asked []string
	b := NewDNSBL("dbl.test.", time.Second, zap.NewNop())
	b.SetLookup(func(_ context.Context, host string) ([]string, error) {
		mu.Lock()
		asked = append(asked, host)
		mu.Unlock()
		switch host {
		case "d0.example.dbl.test":
			return []string{"127.0.1.2"}, nil
		case "d1.example.dbl.test":
			return []string{"127.255.255.254"}, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	})

	domains := make([]string, 25)
	for i := range domains {
		domains[i] = fmt.Sprintf("d%d.example", i)
	}
	got := b.Listed(context.Background(), domains)
	if !reflect.DeepEqual(got, []string{"d0.example"}) {
		t.Errorf("Listed = %v", got)
	}
	if len(asked) != dnsblMaxDomains {
		t.Errorf("made %d lookups, want %d", len(asked), dnsblMaxDomains)
	}
}

func TestDNSBL_stalledResolverHitsDeadline(t *testing.T) {
	b := NewDNSBL("dbl.test", 100*time.Millisecond, zap.NewNop())
	b.SetLookup(func(ctx context.Context, _ string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	domains := make([]string, 40)
	for i := range domains {
		domains[i] = fmt.Sprintf("slow%d.example", i)
	}
	start := time.Now()
	got := b.Listed(context.Background(), domains)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Listed took %s with a 100ms budget", elapsed)
	}
	if len(got) != 0 {
		t.Errorf("Listed = %v, want none", got)
	}
}

// ── Term index ───────────────────────────────────────────────────────────────

func TestTermIndex_overlappingMatches(t *testing.T) {
	x := newTermIndex([]string{"he", "she", "his", "hers", ""})
	got := x.find("ushers")

	want := map[termMatch]bool{
		{term: 1, start: 1, end: 4}: true,
		{term: 0, start: 2, end: 4}: true,
		{term: 3, start: 2, end: 6}: true,
	}
	if len(got) != len(want) {
		t.Fatalf("find = %+v, want %d matches", got, len(want))
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected match %+v", g)
		}
	}
}

func TestTermIndex_sharedText(t *testing.T) {
	x := newTermIndex([]string{"kill", "darn", "kill"})
	got := x.find("i will kill")
	if len(got) != 2 || got[0].start != 7 || got[1].start != 7 || got[0].term == got[1].term {
		t.Errorf("find = %+v, want both kill terms at 7", got)
	}
}

func TestTermIndex_unicodeAndEmpty(t *testing.T) {
	x := newTermIndex([]string{"привет"})
	got := x.find("ну привет!")
	if len(got) != 1 || got[0].start != len("ну ") || got[0].end != len("ну привет") {
		t.Errorf("find = %+v", got)
	}
	if got := newTermIndex(nil).find("anything"); got != nil {
		t.Errorf("empty index matched %+v", got)
	}
}

// ── Configuration ────────────────────────────────────────────────────────────

func TestParseWordlist_rejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown severity": "profanity:\n  - term: x\n    severity: extreme\n",
		"unknown mode":     "profanity:\n  - term: x\n    severity: low\n    match: fuzzy\n",
		"empty term":       "threat:\n  - term: \"  \"\n    severity: low\n",
		"unknown field":    "profanity:\n  - term: x\n    severity: low\n    weight: 3\n",
		"not yaml":         "profanity: [",
	}
	for name, raw := range cases {
		if _, err := ParseWordlist([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ParseWordlist(nil); err != nil {
		t.Errorf("empty wordlist: %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy: %v", err)
	}

	lenient := DefaultPolicy()
	lenient.Actions[CategoryHigh] = ActionAllow
	if err := lenient.Validate(); err == nil {
		t.Error("expected error for non-monotonic actions")
	}

	missing := DefaultPolicy()
	delete(missing.Actions, CategoryLow)
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing category")
	}

	weights := DefaultPolicy()
	weights.Weights.Medium = weights.Weights.High
	if err := weights.Validate(); err == nil {
		t.Error("expected error for unordered severity weights")
	}
}

func TestCategoryFor(t *testing.T) {
	cases := map[int]Category{0: CategorySafe, 20: CategorySafe, 21: CategoryLow, 40: CategoryLow,
		41: CategoryMedium, 70: CategoryMedium, 71: CategoryHigh, 100: CategoryHigh}
	for score, want := range cases {
		if got := CategoryFor(score); got != want {
			t.Errorf("CategoryFor(%d) = %s, want %s", score, got, want)
		}
	}
}
