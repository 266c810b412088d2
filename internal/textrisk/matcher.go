package textrisk

import (
	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// termIndex finds every wordlist term in one pass over the text. Terms that
// normalize to the same text share a pattern, and each match is reported
// once per term. It is safe for concurrent use once built.
type termIndex struct {
	trie  *ahocorasick.Trie
	terms [][]int // pattern id -> indexes of the terms it stands for
}

// termMatch is one occurrence of a term; [start, end) is the byte span.
type termMatch struct {
	term       int
	start, end int
}

func newTermIndex(texts []string) *termIndex {
	x := &termIndex{}
	ids := make(map[string]int, len(texts))
	b := ahocorasick.NewTrieBuilder()
	for i, t := range texts {
		if t == "" {
			continue
		}
		id, ok := ids[t]
		if !ok {
			id = len(x.terms)
			ids[t] = id
			x.terms = append(x.terms, nil)
			b.AddString(t)
		}
		x.terms[id] = append(x.terms[id], i)
	}
	if len(x.terms) > 0 {
		x.trie = b.Build()
	}
	return x
}

// find returns every match, overlapping ones included.
func (x *termIndex) find(text string) []termMatch {
	if x.trie == nil {
		return nil
	}
	var out []termMatch
	for _, m := range x.trie.MatchString(text) {
		start := int(m.Pos())
		end := start + len(m.Match())
		for _, t := range x.terms[m.Pattern()] {
			out = append(out, termMatch{term: t, start: start, end: end})
		}
	}
	return out
}
