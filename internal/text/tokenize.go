// Package text turns free-form answers and chat messages into the crude
// lexical signals the persona engine scores against: normalized tokens,
// bigrams, an emotion tag and a communication style.
//
// The normalization is intentionally naive (no stemmer, no embeddings). The
// persona match threshold is tuned against exactly this behavior, so changes
// here shift every score.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenLen is the shortest token kept after normalization.
const minTokenLen = 3

// separators are the punctuation characters treated like whitespace.
const separators = ".,!?;:\"'()[]{}<>/\\|-_*&^%$#@~`+="

// suffixes are stripped in this order; at most one is removed per token.
var suffixes = []string{"ing", "ly", "ed"}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an the and or but nor is are was were be been being am to of in on at for with
		by from as it its this that these those i you he she we they me him her us them my
		your his our their mine yours do does did doing have has had having not no so if
		then than too what how why when where who whom which can will would should could
		shall may might must about into onto just very also there here all any some such
		only own same both each few more most other again once out off over under up down
		get got let lets really much many because while`) {
		stopWords[w] = struct{}{}
	}
}

// Tokenize lowercases s, splits it on whitespace and common punctuation,
// strips one trailing "ing", "ly" or "ed", and drops short tokens and stop
// words. When at least two tokens survive, adjacent pairs joined by a space
// are appended in order.
func Tokenize(s string) []string {
	words := Words(s)
	if len(words) < 2 {
		return words
	}
	out := make([]string, 0, 2*len(words)-1)
	out = append(out, words...)
	for i := 0; i+1 < len(words); i++ {
		out = append(out, words[i]+" "+words[i+1])
	}
	return out
}

// Words is Tokenize without the bigrams.
func Words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), isSeparator)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if w, ok := Normalize(f); ok {
			words = append(words, w)
		}
	}
	return words
}

// Normalize applies the per-token rules of Tokenize to a single already
// lowercased word. It reports false when the word would be discarded.
func Normalize(w string) (string, bool) {
	if _, stop := stopWords[w]; stop {
		return "", false
	}
	w = stripSuffix(w)
	if utf8.RuneCountInString(w) < minTokenLen {
		return "", false
	}
	if _, stop := stopWords[w]; stop {
		return "", false
	}
	return w, true
}

func stripSuffix(w string) string {
	for _, suf := range suffixes {
		if !strings.HasSuffix(w, suf) {
			continue
		}
		stem := strings.TrimSuffix(w, suf)
		if utf8.RuneCountInString(stem) >= minTokenLen {
			return stem
		}
		return w
	}
	return w
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(separators, r)
}

// normalizeSet runs each lexicon word through Normalize so lookups match the
// token stream. Words that normalize away are dropped.
func normalizeSet[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		if w, ok := Normalize(strings.ToLower(k)); ok {
			out[w] = v
		}
	}
	return out
}
