// Package affirm decides whether a comment confirms a posted plan.
//
// Matching is deliberately strict: the whole comment, after normalization,
// must equal one phrase of a finite, documented set. Substrings never match,
// so "yes, but not yet" does not start work.
package affirm

import (
	"strings"
	"unicode"
)

// DefaultPhrases is the built-in confirmation set (English and Russian).
var DefaultPhrases = []string{
	// English
	"yes",
	"ok",
	"okay",
	"go ahead",
	"looks good",
	"lgtm",
	"approved",
	// Russian
	"да",
	"ок",
	"хорошо",
	"согласен",
	"согласна",
	"подходит",
	"устраивает",
	"начинай",
	"бери в работу",
	"принято",
}

// Matcher holds a normalized phrase set.
type Matcher struct {
	phrases map[string]struct{}
}

// New builds a Matcher from phrases. An empty list selects DefaultPhrases.
func New(phrases []string) *Matcher {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	m := &Matcher{phrases: make(map[string]struct{}, len(phrases))}
	for _, p := range phrases {
		if n := Normalize(p); n != "" {
			m.phrases[n] = struct{}{}
		}
	}
	return m
}

// IsAffirmative reports whether text is a confirmation.
func (m *Matcher) IsAffirmative(text string) bool {
	n := Normalize(text)
	if n == "" {
		return false
	}
	_, ok := m.phrases[n]
	return ok
}

// Len returns the number of distinct phrases.
func (m *Matcher) Len() int { return len(m.phrases) }

// Normalize lower-cases text, collapses whitespace, folds "ё" to "е" and
// strips punctuation and symbols (markdown emphasis, "!", emoji) from both
// ends. Question marks stay: "yes?" asks, it does not confirm.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = strings.ReplaceAll(s, "ё", "е")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimFunc(s, trimmable)
	return s
}

func trimmable(r rune) bool {
	switch r {
	case '?', '¿', '？':
		return false
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
}
