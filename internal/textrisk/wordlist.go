package textrisk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// MatchMode controls how a term is allowed to match.
type MatchMode string

const (
	// MatchWord requires the match to sit on word boundaries.
	MatchWord MatchMode = "word"
	// MatchSubstring matches anywhere, including inside longer words.
	MatchSubstring MatchMode = "substring"
)

// List names.
const (
	ListProfanity = "profanity"
	ListThreat    = "threat"
)

// Term is one wordlist entry.
type Term struct {
	Text     string    `yaml:"term"`
	Severity Severity  `yaml:"severity"`
	Match    MatchMode `yaml:"match,omitempty"`
}

// Wordlist holds the severity-tagged profanity list and the separate
// threat / ban-evasion keyword list.
type Wordlist struct {
	Profanity []Term `yaml:"profanity"`
	Threat    []Term `yaml:"threat"`
}

// LoadWordlist reads a YAML wordlist from path. Unknown fields and invalid
// entries are errors.
func LoadWordlist(path string) (*Wordlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	wl, err := ParseWordlist(raw)
	if err != nil {
		return nil, fmt.Errorf("wordlist %s: %w", path, err)
	}
	return wl, nil
}

// ParseWordlist decodes and validates a YAML wordlist.
func ParseWordlist(raw []byte) (*Wordlist, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var wl Wordlist
	if err := dec.Decode(&wl); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := wl.Validate(); err != nil {
		return nil, err
	}
	return &wl, nil
}

// Validate checks every entry.
func (wl *Wordlist) Validate() error {
	check := func(list string, terms []Term) error {
		for i, t := range terms {
			if Normalize(t.Text) == "" {
				return fmt.Errorf("%s[%d]: empty term", list, i)
			}
			if !t.Severity.valid() {
				return fmt.Errorf("%s[%d] %q: unknown severity %q", list, i, t.Text, t.Severity)
			}
			switch t.Match {
			case "", MatchWord, MatchSubstring:
			default:
				return fmt.Errorf("%s[%d] %q: unknown match mode %q", list, i, t.Text, t.Match)
			}
		}
		return nil
	}
	if err := check(ListProfanity, wl.Profanity); err != nil {
		return err
	}
	return check(ListThreat, wl.Threat)
}
