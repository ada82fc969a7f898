// Package moderation screens outgoing message text against a fixed banned
// term list before it is stored or delivered. Matching is case-insensitive
// and whole-word, so embedded substrings do not trigger masking.
package moderation

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaskToken replaces every banned match. It is fixed-width on purpose: the
// masked output leaks neither the term nor its length, and masking is
// idempotent because the token itself never matches a banned term.
const MaskToken = "****"

// defaultTerms is the built-in list for development and tests. Production
// deployments extend it through configuration.
var defaultTerms = []string{
	"bastard",
	"bitch",
	"crap",
	"damn",
	"idiot",
	"moron",
	"stupid",
	"shut up",
}

// Filter masks banned terms in free text. It is pure and safe for
// concurrent use once constructed.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter returns a filter with the built-in term list.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms builds a filter from the given terms. Terms containing
// whitespace are matched as phrases, everything else as whole words.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Mask replaces every whole-word or phrase match with MaskToken. It is
// total and idempotent: Mask(Mask(s)) == Mask(s) for all s.
func (f *Filter) Mask(text string) string {
	if text == "" || (len(f.words) == 0 && len(f.phrases) == 0) {
		return text
	}

	lower, toOrig := foldCase(text)
	spans := f.wordSpans(lower)
	spans = append(spans, f.phraseSpans(lower)...)
	if len(spans) == 0 {
		return text
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	var b strings.Builder
	pos := 0
	for _, span := range spans {
		if span[0] < pos {
			continue // already covered by an earlier span
		}
		b.WriteString(text[toOrig[pos]:toOrig[span[0]]])
		b.WriteString(MaskToken)
		pos = span[1]
	}
	b.WriteString(text[toOrig[pos]:])
	return b.String()
}

// foldCase lowercases the text one rune at a time and records, for every
// rune start of the lowered string, the matching byte offset in the
// original. A handful of code points change byte length under ToLower, so
// spans found in the lowered text are mapped back through the table and
// unmatched text keeps its original casing. Span boundaries always fall on
// rune starts, which keeps the table small.
func foldCase(text string) (string, map[int]int) {
	var b strings.Builder
	b.Grow(len(text))
	toOrig := make(map[int]int, len(text)+1)
	for i, r := range text {
		toOrig[b.Len()] = i
		b.WriteRune(unicode.ToLower(r))
	}
	toOrig[b.Len()] = len(text)
	return b.String(), toOrig
}

func (f *Filter) wordSpans(lower string) [][2]int {
	if len(f.words) == 0 {
		return nil
	}
	var spans [][2]int
	start := -1
	for i, r := range lower {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if _, banned := f.words[lower[start:i]]; banned {
				spans = append(spans, [2]int{start, i})
			}
			start = -1
		}
	}
	if start >= 0 {
		if _, banned := f.words[lower[start:]]; banned {
			spans = append(spans, [2]int{start, len(lower)})
		}
	}
	return spans
}

func (f *Filter) phraseSpans(lower string) [][2]int {
	var spans [][2]int
	for _, phrase := range f.phrases {
		offset := 0
		for {
			idx := strings.Index(lower[offset:], phrase)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(phrase)
			if boundaryBefore(lower, start) && boundaryAfter(lower, end) {
				spans = append(spans, [2]int{start, end})
			}
			offset = end
		}
	}
	return spans
}

func boundaryBefore(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:pos])
	return !isWordRune(r)
}

func boundaryAfter(s string, pos int) bool {
	if pos >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[pos:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
