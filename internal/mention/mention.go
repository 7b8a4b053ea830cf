// Package mention turns free-form user text containing #name or @name
// markers into a cleaned content string plus the list of registered
// repository names the markers referred to.
package mention

import (
	"strings"
	"unicode"
)

// MinTokenLen rejects bare sigils and one-letter tokens so a stray "#" in
// normal prose is never treated as a mention.
const MinTokenLen = 2

// MaxSuggestions caps the autocompletion list.
const MaxSuggestions = 8

// Token is one mention marker found in the input. Start and End are rune
// offsets; Start points at the sigil, End one past the last identifier rune.
type Token struct {
	Start int
	End   int
	Text  string
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'
}

// Scan finds every mention token in input: a word boundary, then '#' or '@',
// then a run of at least MinTokenLen identifier runes.
func Scan(input string) []Token {
	runes := []rune(input)
	var tokens []Token
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '#' && r != '@' {
			continue
		}
		// boundary check: "abc#def" is not a mention
		if i > 0 && isIdentRune(runes[i-1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isIdentRune(runes[j]) {
			j++
		}
		if j-i-1 < MinTokenLen {
			continue
		}
		tokens = append(tokens, Token{Start: i, End: j, Text: string(runes[i+1 : j])})
		i = j - 1
	}
	return tokens
}

// Resolve extracts mention tokens from input, matches them against names and
// returns the cleaned content plus matched names in first-seen order without
// duplicates. Matching is case-insensitive substring containment; the first
// name containing the token wins, ties broken by registry order. Tokens that
// match nothing are stripped from the content and otherwise ignored.
func Resolve(input string, names []string) (string, []string) {
	tokens := Scan(input)
	if len(tokens) == 0 {
		return input, nil
	}

	var matched []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		name, ok := match(tok.Text, names)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		matched = append(matched, name)
	}

	return clean(input, tokens), matched
}

// Suggest returns up to MaxSuggestions names for the in-progress token
// ending at caret, in registry order. caret is a rune offset into input.
func Suggest(input string, caret int, names []string) []string {
	runes := []rune(input)
	if caret < 0 || caret > len(runes) {
		caret = len(runes)
	}
	prefix := string(runes[:caret])

	tokens := Scan(prefix)
	if len(tokens) == 0 {
		return nil
	}
	last := tokens[len(tokens)-1]
	if last.End != caret {
		return nil
	}

	needle := strings.ToLower(last.Text)
	var out []string
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			out = append(out, name)
			if len(out) == MaxSuggestions {
				break
			}
		}
	}
	return out
}

func match(token string, names []string) (string, bool) {
	needle := strings.ToLower(token)
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			return name, true
		}
	}
	return "", false
}

// clean rebuilds the content with all token spans removed, then collapses
// the leftovers: repeated whitespace, space before punctuation, repeated
// commas, and edge commas/whitespace.
func clean(input string, tokens []Token) string {
	runes := []rune(input)
	var b strings.Builder
	b.Grow(len(runes))
	next := 0
	for i := 0; i < len(runes); i++ {
		if next < len(tokens) && i == tokens[next].Start {
			i = tokens[next].End - 1
			next++
			continue
		}
		b.WriteRune(runes[i])
	}

	s := strings.Join(strings.Fields(b.String()), " ")

	for _, p := range []string{",", ".", ";", ":", "!", "?"} {
		s = strings.ReplaceAll(s, " "+p, p)
	}
	for {
		collapsed := strings.ReplaceAll(s, ",,", ",")
		collapsed = strings.ReplaceAll(collapsed, ", ,", ",")
		if collapsed == s {
			break
		}
		s = collapsed
	}

	return strings.Trim(s, ", \t\n")
}
